// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ace-ecosystem/ace/pkg/core/config"
	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/hunter"
	_ "github.com/ace-ecosystem/ace/pkg/hunter/command"
)

const testKey = "secret"

var errEngine = errors.New("engine failure")

type fakeEngine struct {
	mu          sync.Mutex
	err         error
	submissions []models.Submission
}

func (e *fakeEngine) Submit(_ context.Context, submission models.Submission) (string, error) {
	if err := submission.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.submissions = append(e.submissions, submission)

	return "workload-1", nil
}

func (e *fakeEngine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, engine Engine) *httptest.Server {
	t.Helper()
	rt := hunter.NewRuntime(hunter.NewMemoryStateStore(), discardLogger())
	conf := config.HunterConfig{
		Types: []config.HuntTypeConfig{{Type: "command"}},
	}
	service, err := hunter.NewService(conf, rt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ts := httptest.NewServer(NewServer(engine, service, testKey, discardLogger()).Handler())
	t.Cleanup(ts.Close)

	return ts
}

func post(t *testing.T, ts *httptest.Server, path, contentType, key, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	req.Header.Set("Content-Type", contentType)
	if key != "" {
		req.Header.Set(AuthHeader, key)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer resp.Body.Close() // nolint: errcheck

	result := make(map[string]any)
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("cannot decode response: %s", err)
	}

	return resp.StatusCode, result
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{})

	for _, key := range []string{"", "wrong"} {
		status, _ := post(t, ts, SubmitPath, "application/json", key, `{"analysis_mode":"analysis"}`)
		if status != http.StatusUnauthorized {
			t.Fatalf("key %q: want status 401, got %d", key, status)
		}
	}

	resp, err := ts.Client().Get(ts.URL + HealthzPath)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want healthz without authentication, got %d", resp.StatusCode)
	}
}

func TestSubmit(t *testing.T) {
	engine := &fakeEngine{}
	ts := newTestServer(t, engine)

	testCases := []struct {
		desc        string
		contentType string
		body        string
		engineErr   error
		wantStatus  int
	}{
		{
			desc:        "valid submission",
			contentType: "application/json",
			body:        `{"description":"test","analysis_mode":"analysis"}`,
			wantStatus:  http.StatusOK,
		},
		{
			desc:        "missing analysis mode",
			contentType: "application/json",
			body:        `{"description":"test"}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			desc:        "malformed body",
			contentType: "application/json",
			body:        `{"description":`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			desc:        "wrong content type",
			contentType: "text/plain",
			body:        `{"analysis_mode":"analysis"}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			desc:        "engine failure",
			contentType: "application/json",
			body:        `{"analysis_mode":"analysis"}`,
			engineErr:   errEngine,
			wantStatus:  http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			engine.setErr(tc.engineErr)
			status, body := post(t, ts, SubmitPath, tc.contentType, testKey, tc.body)
			if status != tc.wantStatus {
				t.Fatalf("want status %d, got %d (%v)", tc.wantStatus, status, body)
			}

			if status == http.StatusOK && body["result"] != "workload-1" {
				t.Fatalf("want result workload-1, got %v", body)
			}
		})
	}
}

const validCommandHunt = `rule:
  type: command
  enabled: true
  description: command hunt
  frequency: "00:10:00"
  tags: [test]
  command: "true"
`

func huntsBody(t *testing.T, target string, files map[string]string) string {
	t.Helper()
	hunts := make([]hunter.File, 0, len(files))
	for path, content := range files {
		hunts = append(hunts, hunter.File{Path: path, Content: content})
	}

	data, err := json.Marshal(map[string]any{"hunts": hunts, "target": target})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	return string(data)
}

func TestValidate(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{})

	testCases := []struct {
		desc       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			desc:       "valid hunt",
			body:       huntsBody(t, "hunts/test.yaml", map[string]string{"hunts/test.yaml": validCommandHunt}),
			wantStatus: http.StatusOK,
		},
		{
			desc:       "empty object",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "request body must be JSON",
		},
		{
			desc:       "missing hunts",
			body:       `{"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "missing 'hunts' field",
		},
		{
			desc:       "missing target",
			body:       `{"hunts":[]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "missing 'target' field",
		},
		{
			desc:       "hunts not a list",
			body:       `{"hunts":{"key":"value"},"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "'hunts' must be a list",
		},
		{
			desc:       "target not a string",
			body:       `{"hunts":[],"target":["test.yaml"]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "'target' must be a string",
		},
		{
			desc:       "hunt not an object",
			body:       `{"hunts":["test.yaml"],"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "each hunt must be a dictionary",
		},
		{
			desc:       "hunt without file path",
			body:       `{"hunts":[{"content":"x"}],"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "each hunt must have a 'file_path' field",
		},
		{
			desc:       "hunt without content",
			body:       `{"hunts":[{"file_path":"test.yaml"}],"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "each hunt must have a 'content' field",
		},
		{
			desc:       "file path not a string",
			body:       `{"hunts":[{"file_path":1,"content":"x"}],"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "hunt 'file_path' must be a string",
		},
		{
			desc:       "content not a string",
			body:       `{"hunts":[{"file_path":"test.yaml","content":null}],"target":"test.yaml"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "hunt 'content' must be a string",
		},
		{
			desc:       "absolute target",
			body:       huntsBody(t, "/etc/passwd", nil),
			wantStatus: http.StatusBadRequest,
			wantError:  "absolute",
		},
		{
			desc:       "target traversal",
			body:       huntsBody(t, "hunts/../../etc/passwd", nil),
			wantStatus: http.StatusBadRequest,
			wantError:  "parent directory traversal",
		},
		{
			desc:       "file traversal",
			body:       huntsBody(t, "test.yaml", map[string]string{"hunts\\..\\..\\test.yaml": validCommandHunt}),
			wantStatus: http.StatusBadRequest,
			wantError:  "parent directory traversal",
		},
		{
			desc:       "missing target file",
			body:       huntsBody(t, "missing.yaml", map[string]string{"test.yaml": validCommandHunt}),
			wantStatus: http.StatusBadRequest,
			wantError:  "target file 'missing.yaml' not found",
		},
		{
			desc:       "yaml syntax error",
			body:       huntsBody(t, "test.yaml", map[string]string{"test.yaml": "rule:\n  type: [command\n"}),
			wantStatus: http.StatusBadRequest,
			wantError:  "YAML syntax error",
		},
		{
			desc:       "missing required field",
			body:       huntsBody(t, "test.yaml", map[string]string{"test.yaml": "rule:\n  type: command\n"}),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid hunt config",
		},
		{
			desc:       "missing command",
			body:       huntsBody(t, "test.yaml", map[string]string{"test.yaml": strings.Replace(validCommandHunt, `command: "true"`, "", 1)}),
			wantStatus: http.StatusBadRequest,
			wantError:  "no command specified",
		},
		{
			desc:       "unknown type",
			body:       huntsBody(t, "test.yaml", map[string]string{"test.yaml": strings.Replace(validCommandHunt, "type: command", "type: splunk", 1)}),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid hunt type",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			status, body := post(t, ts, ValidatePath, "application/json", testKey, tc.body)
			if status != tc.wantStatus {
				t.Fatalf("want status %d, got %d (%v)", tc.wantStatus, status, body)
			}

			if tc.wantStatus == http.StatusOK {
				if body["valid"] != true {
					t.Fatalf("want valid hunt, got %v", body)
				}

				return
			}

			if body["valid"] != false {
				t.Fatalf("want invalid hunt, got %v", body)
			}
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tc.wantError) {
				t.Fatalf("want error containing %q, got %q", tc.wantError, msg)
			}
		})
	}
}

func TestValidateContentType(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{})
	status, _ := post(t, ts, ValidatePath, "text/plain", testKey, "some text")
	if status != http.StatusUnsupportedMediaType {
		t.Fatalf("want status 415, got %d", status)
	}
}

func TestURL(t *testing.T) {
	testCases := []struct {
		location string
		want     string
	}{
		{location: "node1:443", want: "https://node1:443/api/engine/submit"},
		{location: "http://node1:8080/", want: "http://node1:8080/api/engine/submit"},
		{location: "https://node1", want: "https://node1/api/engine/submit"},
	}

	for _, tc := range testCases {
		if got := URL(tc.location, SubmitPath); got != tc.want {
			t.Errorf("%s: want %s, got %s", tc.location, tc.want, got)
		}
	}
}

func TestClientSubmit(t *testing.T) {
	engine := &fakeEngine{}
	ts := newTestServer(t, engine)
	conf := config.APIConfig{Timeout: 5 * time.Second}
	ctx := context.Background()

	client := NewClient(conf, testKey, discardLogger())
	id, err := client.Submit(ctx, ts.URL, models.Submission{UUID: "abc", AnalysisMode: "analysis"})
	if err != nil || id != "workload-1" {
		t.Fatalf("want id workload-1, got %q (%v)", id, err)
	}
	if len(engine.submissions) != 1 || engine.submissions[0].UUID != "abc" {
		t.Fatalf("submission not delivered: %+v", engine.submissions)
	}

	// Client errors are not retried
	if _, err := client.Submit(ctx, ts.URL, models.Submission{}); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("want bad request error, got %v", err)
	}

	unauthorized := NewClient(conf, "wrong", discardLogger())
	if _, err := unauthorized.Submit(ctx, ts.URL, models.Submission{AnalysisMode: "analysis"}); err == nil {
		t.Fatalf("want error for wrong api key")
	}
}
