// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"testing"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/vault/auth/jwt"
)

func TestNewFromConfig(t *testing.T) {
	testCases := []struct {
		desc    string
		conf    config.VaultServerConfig
		wantErr error
		wantAM  bool
	}{
		{
			desc: "token auth",
			conf: config.VaultServerConfig{
				Endpoint: "http://127.0.0.1:8200",
			},
		},
		{
			desc: "jwt auth",
			conf: config.VaultServerConfig{
				Endpoint:   "http://127.0.0.1:8200",
				AuthMethod: AuthMethodJWT,
				AuthMount:  "jwt/ace",
				AuthRole:   "ace-node",
				TokenPath:  "/var/run/secrets/token",
			},
			wantAM: true,
		},
		{
			desc: "jwt auth with token from env",
			conf: config.VaultServerConfig{
				Endpoint:   "http://127.0.0.1:8200",
				AuthMethod: AuthMethodJWT,
				AuthRole:   "ace-node",
				TokenEnv:   "ACE_VAULT_JWT",
			},
			wantAM: true,
		},
		{
			desc: "jwt auth without token source",
			conf: config.VaultServerConfig{
				Endpoint:   "http://127.0.0.1:8200",
				AuthMethod: AuthMethodJWT,
				AuthRole:   "ace-node",
			},
			wantErr: jwt.ErrNoToken,
		},
		{
			desc: "jwt auth without role",
			conf: config.VaultServerConfig{
				Endpoint:   "http://127.0.0.1:8200",
				AuthMethod: AuthMethodJWT,
				TokenPath:  "/var/run/secrets/token",
			},
			wantErr: jwt.ErrNoRoleName,
		},
		{
			desc: "unknown auth method",
			conf: config.VaultServerConfig{
				Endpoint:   "http://127.0.0.1:8200",
				AuthMethod: "kerberos",
			},
			wantErr: ErrUnsupportedAuthMethod,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			c, err := NewFromConfig(&tc.conf)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}
			if err != nil {
				return
			}
			if (c.am != nil) != tc.wantAM {
				t.Fatalf("want auth method configured %t, got %t", tc.wantAM, c.am != nil)
			}
			if c.Address() != tc.conf.Endpoint {
				t.Fatalf("want address %q, got %q", tc.conf.Endpoint, c.Address())
			}
		})
	}
}
