// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package api provides the HTTP API of a node. Remote nodes submit work to
// the local engine through it, and hunt definitions can be validated
// against the hunt types configured on the node.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ace-ecosystem/ace/pkg/core/models"
	"github.com/ace-ecosystem/ace/pkg/hunter"
)

// AuthHeader is the header which carries the API key.
const AuthHeader = "x-ace-auth"

// maxBodySize is the maximum accepted size of a request body.
const maxBodySize = 16 * 1024 * 1024

const (
	// SubmitPath is the path of the remote submission endpoint.
	SubmitPath = "/api/engine/submit"

	// ValidatePath is the path of the hunt validation endpoint.
	ValidatePath = "/api/hunt/validate"

	// HealthzPath is the path of the health endpoint.
	HealthzPath = "/healthz"
)

// Engine accepts work for the current node.
type Engine interface {
	Submit(ctx context.Context, submission models.Submission) (string, error)
}

// Validator validates hunt definitions. It is implemented by
// [hunter.Service].
type Validator interface {
	Validate(files []hunter.File, target string) error
}

// Server serves the node API.
type Server struct {
	engine    Engine
	validator Validator
	key       string
	logger    *slog.Logger
}

// NewServer creates a new [Server]. Requests must carry the given key in
// the [AuthHeader] header. The validator is optional.
func NewServer(engine Engine, validator Validator, key string, logger *slog.Logger) *Server {
	s := &Server{
		engine:    engine,
		validator: validator,
		key:       key,
		logger:    logger,
	}

	return s
}

// Handler returns the [http.Handler] of the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(HealthzPath, s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/engine/submit", s.submit).Methods(http.MethodPost)
	if s.validator != nil {
		api.HandleFunc("/hunt/validate", s.validate).Methods(http.MethodPost)
	}

	return r
}

// HTTPServer returns a new [http.Server] which serves the API on the given
// address. Callers are responsible for starting up and shutting down the
// server.
func (s *Server) HTTPServer(addr string) *http.Server {
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second * 30,
		Handler:           s.Handler(),
	}

	return server
}

// authenticate rejects requests without a valid API key.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(AuthHeader)
		if s.key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.key)) != 1 {
			s.logger.Warn("rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitResponse is the response of the remote submission endpoint.
type SubmitResponse struct {
	Result string `json:"result"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content type must be application/json"})

		return
	}

	var submission models.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&submission); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid submission: %s", err)})

		return
	}

	id, err := s.engine.Submit(r.Context(), submission)
	switch {
	case errors.Is(err, models.ErrNoAnalysisMode):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	case err != nil:
		s.logger.Error("failed to submit work", "uuid", submission.UUID, "reason", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "submission failed"})

		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{Result: id})
}

// ValidateResponse is the response of the hunt validation endpoint.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		writeJSON(w, http.StatusUnsupportedMediaType, ValidateResponse{Error: "content type must be application/json"})

		return
	}

	files, target, err := decodeValidateRequest(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ValidateResponse{Error: err.Error()})

		return
	}

	err = s.validator.Validate(files, target)
	var verr *hunter.ValidationError
	switch {
	case errors.As(err, &verr):
		s.logger.Info("hunt validation failed", "target", target, "kind", verr.Kind, "reason", verr)
		writeJSON(w, http.StatusBadRequest, ValidateResponse{Error: verr.Error()})

		return
	case err != nil:
		s.logger.Error("failed to validate hunt", "target", target, "reason", err)
		writeJSON(w, http.StatusInternalServerError, ValidateResponse{Error: "validation failed"})

		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))

	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
