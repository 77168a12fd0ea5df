// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ace-ecosystem/ace/pkg/core/config"
)

func TestNewFromConfigInvalidSettings(t *testing.T) {
	testCases := []struct {
		desc    string
		conf    config.LoggingConfig
		wantErr error
	}{
		{
			desc:    "invalid level",
			conf:    config.LoggingConfig{Level: "verbose"},
			wantErr: ErrInvalidLogLevel,
		},
		{
			desc:    "invalid format",
			conf:    config.LoggingConfig{Format: "xml"},
			wantErr: ErrInvalidLogFormat,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := NewFromConfig(&buf, tc.conf, false)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewFromConfigJSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	conf := config.LoggingConfig{
		Format:     "json",
		Attributes: map[string]string{"node": "ace-1"},
	}

	logger, err := NewFromConfig(&buf, conf, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	logger.Info("hello")
	var event map[string]any
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("log event is not json: %s", err)
	}

	if event["node"] != "ace-1" {
		t.Fatalf("want node attribute, got %v", event)
	}
}

func TestNewFromConfigDebugOverride(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewFromConfig(&buf, config.LoggingConfig{Level: "error"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug event was not logged: %q", buf.String())
	}
}
