// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/ace-ecosystem/ace/pkg/hunter"
)

// Errors returned for malformed hunt validation requests.
var (
	ErrNotJSON               = errors.New("request body must be JSON")
	ErrMissingHunts          = errors.New("missing 'hunts' field")
	ErrMissingTarget         = errors.New("missing 'target' field")
	ErrHuntsNotList          = errors.New("'hunts' must be a list")
	ErrTargetNotString       = errors.New("'target' must be a string")
	ErrHuntNotObject         = errors.New("each hunt must be a dictionary")
	ErrHuntMissingFilePath   = errors.New("each hunt must have a 'file_path' field")
	ErrHuntMissingContent    = errors.New("each hunt must have a 'content' field")
	ErrHuntFilePathNotString = errors.New("hunt 'file_path' must be a string")
	ErrHuntContentNotString  = errors.New("hunt 'content' must be a string")
)

// decodeValidateRequest decodes the request and checks the types of its
// fields, so that a mistake in the request is reported by name.
func decodeValidateRequest(r io.Reader) ([]hunter.File, string, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&body); err != nil || len(body) == 0 {
		return nil, "", ErrNotJSON
	}

	rawHunts, ok := body["hunts"]
	if !ok {
		return nil, "", ErrMissingHunts
	}

	rawTarget, ok := body["target"]
	if !ok {
		return nil, "", ErrMissingTarget
	}

	var hunts []json.RawMessage
	if kind(rawHunts) != '[' || json.Unmarshal(rawHunts, &hunts) != nil {
		return nil, "", ErrHuntsNotList
	}

	var target string
	if kind(rawTarget) != '"' || json.Unmarshal(rawTarget, &target) != nil {
		return nil, "", ErrTargetNotString
	}

	files := make([]hunter.File, 0, len(hunts))
	for _, rawHunt := range hunts {
		var hunt map[string]json.RawMessage
		if kind(rawHunt) != '{' || json.Unmarshal(rawHunt, &hunt) != nil {
			return nil, "", ErrHuntNotObject
		}

		rawPath, ok := hunt["file_path"]
		if !ok {
			return nil, "", ErrHuntMissingFilePath
		}

		rawContent, ok := hunt["content"]
		if !ok {
			return nil, "", ErrHuntMissingContent
		}

		var file hunter.File
		if kind(rawPath) != '"' || json.Unmarshal(rawPath, &file.Path) != nil {
			return nil, "", ErrHuntFilePathNotString
		}

		if kind(rawContent) != '"' || json.Unmarshal(rawContent, &file.Content) != nil {
			return nil, "", ErrHuntContentNotString
		}

		files = append(files, file)
	}

	return files, target, nil
}

// kind returns the first byte of a JSON value, which identifies its type.
func kind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	return raw[0]
}
