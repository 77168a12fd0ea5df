// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for hunt file paths, which are absolute,
// contain parent directory segments or escape the validation root.
var ErrInvalidPath = errors.New("invalid hunt file path")

// ValidationErrorKind classifies the errors of [Service.Validate].
type ValidationErrorKind int

const (
	// InvalidPath means a file path was rejected.
	InvalidPath ValidationErrorKind = iota

	// NotFound means the target definition does not exist.
	NotFound

	// SyntaxError means the target is not well-formed YAML.
	SyntaxError

	// InvalidConfig means the target is not a valid hunt definition.
	InvalidConfig

	// UnknownType means no manager exists for the type of the target.
	UnknownType
)

// String implements the [fmt.Stringer] interface.
func (k ValidationErrorKind) String() string {
	switch k {
	case InvalidPath:
		return "invalid path"
	case NotFound:
		return "not found"
	case SyntaxError:
		return "syntax error"
	case InvalidConfig:
		return "invalid config"
	case UnknownType:
		return "unknown type"
	default:
		return fmt.Sprintf("ValidationErrorKind(%d)", int(k))
	}
}

// ValidationError is returned by [Service.Validate] for user errors.
type ValidationError struct {
	Kind ValidationErrorKind
	Err  error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// File is a hunt file submitted for validation.
type File struct {
	// Path is the path of the file relative to the validation root.
	Path string `json:"file_path"`

	// Content is the content of the file.
	Content string `json:"content"`
}

// ValidatePath rejects absolute paths and paths with a parent directory
// segment. A final ".." component is left to the containment check.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	normalized := strings.ReplaceAll(path, "\\", "/")
	if filepath.IsAbs(path) || strings.HasPrefix(normalized, "/") {
		return fmt.Errorf("%w: %s is absolute, but must be relative", ErrInvalidPath, path)
	}

	parts := strings.Split(normalized, "/")
	for _, part := range parts[:len(parts)-1] {
		if part == ".." {
			return fmt.Errorf("%w: %s contains parent directory traversal '..'", ErrInvalidPath, path)
		}
	}

	return nil
}

// resolve joins path to root and verifies that the result stays below root.
func resolve(root, path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}

	resolved := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(path, "\\", "/")))
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside allowed directory", ErrInvalidPath, path)
	}

	return resolved, nil
}

// Validate materializes the files below a temporary directory and
// validates the target definition against the manager of its type. User
// errors are returned as [*ValidationError].
func (s *Service) Validate(files []File, target string) error {
	root, err := os.MkdirTemp("", "hunt-validate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(root) // nolint: errcheck

	invalid := func(kind ValidationErrorKind, err error) error {
		return &ValidationError{Kind: kind, Err: err}
	}

	targetPath, err := resolve(root, target)
	if err != nil {
		return invalid(InvalidPath, err)
	}

	for _, file := range files {
		path, err := resolve(root, file.Path)
		if err != nil {
			return invalid(InvalidPath, err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(file.Content), 0o600); err != nil {
			return err
		}
	}

	def, err := LoadDefinition(targetPath)
	switch {
	case errors.Is(err, ErrDefinitionNotFound):
		return invalid(NotFound, fmt.Errorf("target file '%s' not found", target))
	case errors.Is(err, ErrSyntax):
		return invalid(SyntaxError, err)
	case errors.Is(err, ErrInvalidDefinition):
		return invalid(InvalidConfig, err)
	case err != nil:
		return err
	}

	manager, err := s.Manager(def.Type)
	if err != nil {
		return invalid(UnknownType, err)
	}

	if _, err := manager.NewHunt(def); err != nil {
		return invalid(InvalidConfig, err)
	}

	return nil
}
