// Package runconfig turns a job parameter string into a typed run configuration
// and resolves scheduler placeholders in argument templates.
package runconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"jobexecutor/internal/apperrors"
	"slices"
	"strings"
)

// Defaults applied when the parameter omits the field.
const (
	DefaultBackoffLimit            int32 = 3
	DefaultTTLSecondsAfterFinished int32 = 3600
)

// RunConfig describes how to build a run from an existing workload.
// Values returned by Parse are never modified afterwards; Clone before
// changing a copy.
type RunConfig struct {
	WorkloadRef             string   `json:"workloadRef"`
	Namespace               string   `json:"namespace"`
	Command                 []string `json:"command,omitempty"`
	Args                    []string `json:"args,omitempty"`
	TTLSecondsAfterFinished int32    `json:"ttlSecondsAfterFinished"`
	BackoffLimit            int32    `json:"backoffLimit"`
}

// paramJSON is the wire form of the job parameter. Optional numbers are
// pointers so an explicit zero survives defaulting.
type paramJSON struct {
	WorkloadRef             string   `json:"workloadRef"`
	Deployment              string   `json:"deployment"` // accepted as an alias of workloadRef
	Namespace               string   `json:"namespace"`
	Command                 []string `json:"command"`
	Args                    []string `json:"args"`
	TTLSecondsAfterFinished *int32   `json:"ttlSecondsAfterFinished"`
	BackoffLimit            *int32   `json:"backoffLimit"`
}

// Parse decodes raw into a RunConfig, applying defaults and validating
// required fields. Any failure is a validation error.
func Parse(raw string) (RunConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RunConfig{}, apperrors.Validation("param", "job parameter is empty")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	var p paramJSON
	if err := dec.Decode(&p); err != nil {
		return RunConfig{}, apperrors.Validation("param", fmt.Sprintf("invalid JSON configuration: %v", err))
	}
	if dec.More() {
		return RunConfig{}, apperrors.Validation("param", "invalid JSON configuration: trailing data after object")
	}

	cfg := RunConfig{
		WorkloadRef:             strings.TrimSpace(p.WorkloadRef),
		Namespace:               strings.TrimSpace(p.Namespace),
		Command:                 p.Command,
		Args:                    p.Args,
		TTLSecondsAfterFinished: DefaultTTLSecondsAfterFinished,
		BackoffLimit:            DefaultBackoffLimit,
	}
	if cfg.WorkloadRef == "" {
		cfg.WorkloadRef = strings.TrimSpace(p.Deployment)
	}
	if p.TTLSecondsAfterFinished != nil {
		cfg.TTLSecondsAfterFinished = *p.TTLSecondsAfterFinished
	}
	if p.BackoffLimit != nil {
		cfg.BackoffLimit = *p.BackoffLimit
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// ParseOrDefault parses raw, falling back to def when raw is blank.
// A nil def makes blank input an error, same as Parse.
func ParseOrDefault(raw string, def *RunConfig) (RunConfig, error) {
	if strings.TrimSpace(raw) == "" && def != nil {
		if err := def.Validate(); err != nil {
			return RunConfig{}, err
		}
		return def.Clone(), nil
	}
	return Parse(raw)
}

// Validate checks required fields and numeric ranges.
func (c RunConfig) Validate() error {
	if c.WorkloadRef == "" {
		return apperrors.Validation("workloadRef", "workloadRef is required")
	}
	if c.Namespace == "" {
		return apperrors.Validation("namespace", "namespace is required")
	}
	if c.TTLSecondsAfterFinished < 0 {
		return apperrors.Validation("ttlSecondsAfterFinished", "ttlSecondsAfterFinished must be non-negative")
	}
	if c.BackoffLimit < 0 {
		return apperrors.Validation("backoffLimit", "backoffLimit must be non-negative")
	}
	return nil
}

// Clone returns a deep copy.
func (c RunConfig) Clone() RunConfig {
	c.Command = slices.Clone(c.Command)
	c.Args = slices.Clone(c.Args)
	return c
}
