// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/models"
)

// ErrNoResult is returned when a node accepted a submission, but did not
// return the id of the new item.
var ErrNoResult = errors.New("no result returned")

// Client submits work to remote nodes.
type Client struct {
	client *retryablehttp.Client
	key    string
}

// NewClient creates a new [Client], which authenticates with the given API
// key.
func NewClient(conf config.APIConfig, key string, logger *slog.Logger) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = conf.RetryMax
	client.HTTPClient.Timeout = conf.Timeout
	client.Logger = logger

	c := &Client{
		client: client,
		key:    key,
	}

	return c
}

// URL returns the URL of the given path on the node at the given location.
// Locations without a scheme use https.
func URL(location, path string) string {
	location = strings.TrimSuffix(location, "/")
	if !strings.Contains(location, "://") {
		location = "https://" + location
	}

	return location + path
}

// Submit implements the [distributor.RemoteSubmitter] interface.
func (c *Client) Submit(ctx context.Context, location string, submission models.Submission) (string, error) {
	data, err := json.Marshal(submission)
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, URL(location, SubmitPath), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node at %s returned %s: %s", location, resp.Status, strings.TrimSpace(string(body)))
	}

	var result SubmitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("invalid response from node at %s: %w", location, err)
	}

	if result.Result == "" {
		return "", fmt.Errorf("node at %s: %w", location, ErrNoResult)
	}

	return result.Result, nil
}
