// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package jwt implements the Vault JWT Auth Method used by ACE nodes to
// obtain a Vault token, e.g. for reading the node API key.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// DefaultMountPath specifies the default mount path of the JWT Auth Method.
const DefaultMountPath = "jwt"

var (
	// ErrNoToken is returned when no token source is configured, or when
	// the configured source yields an empty token.
	ErrNoToken = errors.New("no token specified")

	// ErrInvalidMountPath is returned for an empty mount path.
	ErrInvalidMountPath = errors.New("invalid auth method mount path specified")

	// ErrNoRoleName is returned when creating an [Auth] without a role.
	ErrNoRoleName = errors.New("no role name specified")

	// ErrLoginFailed is returned when the login request is rejected.
	ErrLoginFailed = errors.New("vault jwt login failed")

	// ErrNoAuthInfo is returned when a login response carries no auth
	// information.
	ErrNoAuthInfo = errors.New("no auth info returned")
)

// tokenSource returns the JWT to log in with.
type tokenSource func() (string, error)

// Auth implements the [JWT Auth Method]. The token is resolved on every
// login, so rotated tokens on disk or in the environment are picked up when
// the Vault token is renewed.
//
// [JWT Auth Method]: https://developer.hashicorp.com/vault/docs/auth/jwt
type Auth struct {
	roleName  string
	mountPath string
	source    tokenSource
	origin    string
	logger    *slog.Logger
}

var _ vault.AuthMethod = &Auth{}

// Option is a function which configures [Auth].
type Option func(a *Auth) error

// New creates a new [Auth] for the given role. Exactly one token source
// should be configured with [WithToken], [WithTokenFromPath] or
// [WithTokenFromEnv]; the last one wins.
func New(roleName string, opts ...Option) (*Auth, error) {
	if roleName == "" {
		return nil, ErrNoRoleName
	}

	auth := &Auth{
		roleName:  roleName,
		mountPath: DefaultMountPath,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(auth); err != nil {
			return nil, err
		}
	}

	if auth.source == nil {
		return nil, ErrNoToken
	}

	if auth.mountPath == "" {
		return nil, ErrInvalidMountPath
	}

	return auth, nil
}

// Login implements the [vault.AuthMethod] interface.
func (a *Auth) Login(ctx context.Context, client *vault.Client) (*vault.Secret, error) {
	token, err := a.source()
	if err != nil {
		return nil, fmt.Errorf("cannot read jwt from %s: %w", a.origin, err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoToken, a.origin)
	}

	path := fmt.Sprintf("auth/%s/login", a.mountPath)
	data := map[string]any{
		"jwt":  token,
		"role": a.roleName,
	}

	secret, err := client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: role %s at %s: %w", ErrLoginFailed, a.roleName, path, err)
	}

	if secret == nil || secret.Auth == nil {
		return nil, fmt.Errorf("%w: role %s at %s", ErrNoAuthInfo, a.roleName, path)
	}

	a.logger.Info(
		"logged in to vault",
		"role", a.roleName,
		"mount", a.mountPath,
		"token_from", a.origin,
		"policies", secret.Auth.Policies,
		"lease_duration", secret.Auth.LeaseDuration,
	)

	return secret, nil
}

// WithToken configures a static token.
func WithToken(token string) Option {
	opt := func(a *Auth) error {
		a.source = func() (string, error) { return token, nil }
		a.origin = "static token"

		return nil
	}

	return opt
}

// WithTokenFromPath configures [Auth] to read the token from the file at
// path on each login, e.g. a projected service account token.
func WithTokenFromPath(path string) Option {
	opt := func(a *Auth) error {
		if path == "" {
			return fmt.Errorf("%w: empty token path", ErrNoToken)
		}

		path = filepath.Clean(path)
		a.source = func() (string, error) {
			data, err := os.ReadFile(path)

			return string(data), err
		}
		a.origin = path

		return nil
	}

	return opt
}

// WithTokenFromEnv configures [Auth] to read the token from the given
// environment variable on each login.
func WithTokenFromEnv(env string) Option {
	opt := func(a *Auth) error {
		if env == "" {
			return fmt.Errorf("%w: empty environment variable name", ErrNoToken)
		}

		a.source = func() (string, error) { return os.Getenv(env), nil }
		a.origin = "$" + env

		return nil
	}

	return opt
}

// WithMountPath configures the mount path of the auth method.
func WithMountPath(mountPath string) Option {
	opt := func(a *Auth) error {
		a.mountPath = mountPath

		return nil
	}

	return opt
}

// WithLogger configures the logger used to report logins.
func WithLogger(logger *slog.Logger) Option {
	opt := func(a *Auth) error {
		a.logger = logger

		return nil
	}

	return opt
}
