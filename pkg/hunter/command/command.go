// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package command provides a hunt kind, which executes an external command
// and turns each JSON line printed by the command into a submission.
package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/hunter"
)

// Kind is the name of the hunt kind.
const Kind = "command"

// ErrNoCommand is returned for definitions, which do not specify a command.
var ErrNoCommand = errors.New("no command specified")

// maxLineSize is the maximum size of a single line of output.
const maxLineSize = 4 * 1024 * 1024

// Settings are the kind specific settings of a hunt definition.
type Settings struct {
	// Command specifies the path to the command to be executed.
	Command string `yaml:"command"`

	// Args specifies any optional arguments to be passed to the command.
	Args []string `yaml:"args"`

	// Dir specifies the working directory of the command. If not
	// specified the command is executed in the current directory.
	Dir string `yaml:"dir"`

	// Env specifies additional environment variables in KEY=VALUE form.
	Env []string `yaml:"env"`
}

// Runner executes the command of a hunt.
type Runner struct {
	settings Settings

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ hunter.Canceler = &Runner{}

// New creates a new [Runner] from the definition.
func New(def *hunter.Definition) (hunter.Runner, error) {
	settings, err := hunter.DecodeRule[Settings](def)
	if err != nil {
		return nil, err
	}

	if settings.Command == "" {
		return nil, fmt.Errorf("%w: %w", hunter.ErrInvalidDefinition, ErrNoCommand)
	}

	return &Runner{settings: *settings}, nil
}

// Execute implements the [hunter.Runner] interface.
func (r *Runner) Execute(ctx context.Context) ([]models.Submission, error) {
	path, err := exec.LookPath(r.settings.Command)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, r.settings.Args...)
	cmd.Dir = r.settings.Dir
	cmd.Env = append(cmd.Environ(), r.settings.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", path, err, msg)
		}

		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return parseOutput(&stdout)
}

// Cancel implements the [hunter.Canceler] interface. It kills the command,
// if it is running.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
}

// parseOutput decodes one submission per non-empty line.
func parseOutput(output *bytes.Buffer) ([]models.Submission, error) {
	submissions := make([]models.Submission, 0)
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var submission models.Submission
		if err := json.Unmarshal(line, &submission); err != nil {
			return nil, fmt.Errorf("invalid submission on line %d: %w", lineNo, err)
		}
		submissions = append(submissions, submission)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return submissions, nil
}

func init() {
	hunter.KindRegistry.MustRegister(Kind, New)
}
