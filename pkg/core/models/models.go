// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"errors"
	"time"
)

// AnalysisModeCorrelation is the analysis mode assigned to hunt submissions,
// unless the hunt specifies another one.
const AnalysisModeCorrelation = "correlation"

// AnalysisModeAnalysis is the analysis mode of regular analysis requests.
const AnalysisModeAnalysis = "analysis"

// ErrNoAnalysisMode is returned when a submission does not specify an
// analysis mode.
var ErrNoAnalysisMode = errors.New("no analysis mode specified")

// Model is the base model in the ACE system.
type Model struct {
	ID        int64     `bun:"id,pk,autoincrement"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Observable is a single indicator attached to a [Submission].
type Observable struct {
	// Type is the observable type, e.g. ipv4, fqdn, file.
	Type string `json:"type" yaml:"type"`

	// Value is the observable value.
	Value string `json:"value" yaml:"value"`

	// Time optionally specifies when the observable was observed.
	Time *time.Time `json:"time,omitempty" yaml:"time,omitempty"`

	// Tags are optional tags attached to the observable.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Submission is a request for analysis. Producers such as hunts create
// submissions, which are then routed to a node for analysis.
type Submission struct {
	// UUID uniquely identifies the submission.
	UUID string `json:"uuid"`

	// Description is a human readable description.
	Description string `json:"description"`

	// AnalysisMode is the analysis mode of the submission.
	AnalysisMode string `json:"analysis_mode"`

	// Tool is the name of the tool which created the submission.
	Tool string `json:"tool"`

	// ToolInstance identifies the instance of the tool.
	ToolInstance string `json:"tool_instance"`

	// Type is the alert type of the submission.
	Type string `json:"type"`

	// EventTime is the time of the event which caused the submission.
	EventTime time.Time `json:"event_time"`

	// Queue is the analysis queue of the submission.
	Queue string `json:"queue"`

	// PlaybookURL is an optional link to a playbook.
	PlaybookURL string `json:"playbook_url,omitempty"`

	// Tags are tags attached to the submission.
	Tags []string `json:"tags,omitempty"`

	// Observables are the observables to analyze.
	Observables []Observable `json:"observables,omitempty"`

	// Details are arbitrary details about the submission.
	Details map[string]any `json:"details,omitempty"`
}

// Validate validates the submission.
func (s *Submission) Validate() error {
	if s.AnalysisMode == "" {
		return ErrNoAnalysisMode
	}

	return nil
}
