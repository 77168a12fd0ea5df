// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
	"github.com/robfig/cron/v3"

	"github.com/ace-ecosystem/ace/pkg/core/models"
)

var (
	// ErrDefinitionNotFound is returned when a hunt definition file does
	// not exist.
	ErrDefinitionNotFound = errors.New("hunt definition not found")

	// ErrSyntax is returned when a hunt definition is not well-formed
	// YAML.
	ErrSyntax = errors.New("YAML syntax error")

	// ErrInvalidDefinition is returned when a hunt definition is
	// well-formed, but does not describe a valid hunt.
	ErrInvalidDefinition = errors.New("invalid hunt config")
)

// DefaultQueue is the analysis queue of hunts, which do not specify one.
const DefaultQueue = "default"

// Definition is a declarative hunt definition, loaded from a YAML document
// with a top-level "rule" key.
type Definition struct {
	// Type is the hunt type, which selects the hunt manager.
	Type string

	// Enabled specifies whether the hunt is scheduled.
	Enabled bool

	// Name is the unique name of the hunt within its type.
	Name string

	// Description is a human readable description.
	Description string

	// Frequency is the interval between executions. It is zero for hunts
	// scheduled by a cron expression.
	Frequency time.Duration

	// CronSpec is the cron expression of the hunt. It is empty for hunts
	// scheduled by interval.
	CronSpec string

	// Suppression is the duration for which the hunt is not evaluated
	// after it produced submissions. Zero disables suppression.
	Suppression time.Duration

	// Tags are attached to every submission of the hunt.
	Tags []string

	// Queue is the analysis queue of submissions.
	Queue string

	// AlertType is the type of submissions.
	AlertType string

	// AnalysisMode is the analysis mode of submissions.
	AnalysisMode string

	// PlaybookURL is an optional link to a playbook.
	PlaybookURL string

	// FilePath is the path from which the definition was loaded.
	FilePath string

	// ModTime is the modification time of FilePath when it was loaded.
	ModTime time.Time

	cron cron.Schedule
	data []byte
}

// rawDefinition holds the common fields of the "rule" document. Pointers
// distinguish missing required fields from zero values.
type rawDefinition struct {
	Type         string    `yaml:"type"`
	Enabled      *bool     `yaml:"enabled"`
	Name         string    `yaml:"name"`
	Description  *string   `yaml:"description"`
	Frequency    string    `yaml:"frequency"`
	CronSchedule string    `yaml:"cron_schedule"`
	Suppression  string    `yaml:"suppression"`
	Tags         *[]string `yaml:"tags"`
	Queue        string    `yaml:"queue"`
	AlertType    string    `yaml:"alert_type"`
	AnalysisMode string    `yaml:"analysis_mode"`
	PlaybookURL  string    `yaml:"playbook_url"`
}

// ruleDocument is the top-level hunt document.
type ruleDocument[T any] struct {
	Rule *T `yaml:"rule"`
}

// LoadDefinition loads the hunt definition from the file at path.
func LoadDefinition(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, path)
		}

		return nil, err
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDefinitionNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	def, err := ParseDefinition(data, NameFromPath(path))
	if err != nil {
		return nil, err
	}

	def.FilePath = path
	def.ModTime = info.ModTime()

	return def, nil
}

// ParseDefinition parses a hunt definition. The defaultName is used, when
// the definition does not specify a name.
func ParseDefinition(data []byte, defaultName string) (*Definition, error) {
	if _, err := parser.ParseBytes(data, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	var doc ruleDocument[rawDefinition]
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if doc.Rule == nil {
		return nil, fmt.Errorf("%w: missing rule", ErrInvalidDefinition)
	}

	raw := doc.Rule
	var missing []string
	if raw.Type == "" {
		missing = append(missing, "type")
	}
	if raw.Enabled == nil {
		missing = append(missing, "enabled")
	}
	if raw.Description == nil {
		missing = append(missing, "description")
	}
	if raw.Frequency == "" {
		missing = append(missing, "frequency")
	}
	if raw.Tags == nil {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields %s", ErrInvalidDefinition, strings.Join(missing, ", "))
	}

	def := &Definition{
		Type:         raw.Type,
		Enabled:      *raw.Enabled,
		Name:         raw.Name,
		Description:  *raw.Description,
		Tags:         *raw.Tags,
		Queue:        raw.Queue,
		AlertType:    raw.AlertType,
		AnalysisMode: raw.AnalysisMode,
		PlaybookURL:  raw.PlaybookURL,
		data:         data,
	}

	if def.Name == "" {
		def.Name = defaultName
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if def.Queue == "" {
		def.Queue = DefaultQueue
	}
	if def.AlertType == "" {
		def.AlertType = "hunter - " + def.Type
	}
	if def.AnalysisMode == "" {
		def.AnalysisMode = models.AnalysisModeCorrelation
	}

	// The frequency is either an interval or a cron expression, which
	// may also be given as cron_schedule.
	if IsInterval(raw.Frequency) {
		if raw.CronSchedule != "" {
			return nil, fmt.Errorf("%w: both interval frequency and cron_schedule specified", ErrInvalidDefinition)
		}

		frequency, err := ParseInterval(raw.Frequency)
		if err != nil {
			return nil, fmt.Errorf("%w: frequency: %w", ErrInvalidDefinition, err)
		}
		def.Frequency = frequency
	} else {
		def.CronSpec = raw.Frequency
		if raw.CronSchedule != "" {
			def.CronSpec = raw.CronSchedule
		}

		schedule, err := ParseCron(def.CronSpec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
		def.cron = schedule
	}

	if raw.Suppression != "" {
		suppression, err := ParseInterval(raw.Suppression)
		if err != nil {
			return nil, fmt.Errorf("%w: suppression: %w", ErrInvalidDefinition, err)
		}
		def.Suppression = suppression
	}

	return def, nil
}

// commonFields are the keys of the "rule" document shared by all hunt kinds.
var commonFields = []string{
	"type",
	"enabled",
	"name",
	"description",
	"frequency",
	"cron_schedule",
	"suppression",
	"tags",
	"queue",
	"alert_type",
	"analysis_mode",
	"playbook_url",
}

// DecodeRule decodes the kind specific settings of the "rule" document into
// a value of type T. Hunt kinds use it to read their own settings. Keys which
// are neither common fields nor known to T are rejected, so T must not
// declare any of the common fields.
func DecodeRule[T any](def *Definition) (*T, error) {
	var doc ruleDocument[map[string]any]
	if err := yaml.Unmarshal(def.data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if doc.Rule == nil {
		return nil, fmt.Errorf("%w: missing rule", ErrInvalidDefinition)
	}

	settings := make(map[string]any, len(*doc.Rule))
	for key, value := range *doc.Rule {
		if !slices.Contains(commonFields, key) {
			settings[key] = value
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	rule := new(T)
	if err := yaml.UnmarshalWithOptions(data, rule, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return rule, nil
}

// NameFromPath derives a hunt name from the file name of a definition, e.g.
// "suspicious_logins.yaml" becomes "Suspicious Logins".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	words := strings.Fields(strings.ReplaceAll(base, "_", " "))
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}

// IsModified returns true, if the file from which the definition was loaded
// has been modified or removed since. Definitions which were not loaded
// from a file are never modified.
func (d *Definition) IsModified() (bool, error) {
	if d.FilePath == "" {
		return false, nil
	}

	info, err := os.Stat(d.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, err
	}

	return !info.ModTime().Equal(d.ModTime), nil
}

// IsCron returns true, if the hunt is scheduled by a cron expression.
func (d *Definition) IsCron() bool {
	return d.cron != nil
}
