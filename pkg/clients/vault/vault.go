// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/registry"
	apiclient "github.com/ace-ecosystem/ace/pkg/vault/client"
)

// ErrClientNotFound is returned when a secret references a Vault server,
// for which no client has been configured.
var ErrClientNotFound = errors.New("vault client not found")

// Clientset provides the registry of Vault API clients, which are used by
// workers during runtime.
var Clientset = registry.New[string, *apiclient.Client]()

// ReadSecret reads the secret field referenced by the given
// [config.VaultSecretConfig] using the client from [Clientset].
func ReadSecret(ctx context.Context, ref *config.VaultSecretConfig) (string, error) {
	client, ok := Clientset.Get(ref.Server)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrClientNotFound, ref.Server)
	}

	return client.ReadSecretField(ctx, ref.Mount, ref.Path, ref.Field)
}
