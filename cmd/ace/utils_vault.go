// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	vaultclients "github.com/ace-ecosystem/ace/pkg/clients/vault"
	"github.com/ace-ecosystem/ace/pkg/core/config"
	apiclient "github.com/ace-ecosystem/ace/pkg/vault/client"
)

// errNoAPIKey is returned when neither an API key nor a Vault secret for it
// is configured.
var errNoAPIKey = errors.New("no api key specified")

// configureVaultClients creates Vault API clients.
func configureVaultClients(ctx context.Context, conf *config.Config) error {
	if !conf.Vault.IsEnabled {
		slog.Warn("Vault is not enabled, will not create API clients")

		return nil
	}

	slog.Info("configuring vault clients")
	for name, serverConfig := range conf.Vault.Servers {
		c, err := apiclient.NewFromConfig(&serverConfig)
		if err != nil {
			return fmt.Errorf("vault: cannot configure client for %s: %w", name, err)
		}

		if err := c.ManageAuthTokenLifetime(ctx); err != nil {
			return fmt.Errorf("vault: cannot start managing auth token lifetime for %s: %w", name, err)
		}

		vaultclients.Clientset.Overwrite(name, c)
		slog.Info(
			"configured vault client",
			"name", name,
			"address", c.Address(),
		)
	}

	return nil
}

// getAPIKey returns the key, which authenticates requests between nodes. A
// key configured in the file takes precedence over a key stored in Vault.
func getAPIKey(ctx context.Context, conf *config.Config) (string, error) {
	if conf.API.Key != "" {
		return conf.API.Key, nil
	}

	if conf.API.KeyFromVault == nil {
		return "", errNoAPIKey
	}

	if err := configureVaultClients(ctx, conf); err != nil {
		return "", err
	}

	key, err := vaultclients.ReadSecret(ctx, conf.API.KeyFromVault)
	if err != nil {
		return "", fmt.Errorf("cannot read api key from vault: %w", err)
	}

	return key, nil
}
