// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rewrite

import (
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Options
// =============================================================================

//go:embed untangle.yaml
var defaultOptionsYAML []byte

// MaxYAMLFileSize caps user-supplied config files.
const MaxYAMLFileSize = 1 << 20

// Options configures one rewriting run.
//
// Description:
//
//	Loaded from the embedded defaults, optionally overlaid by a user
//	YAML file, then overridden by CLI flags. Canonicalization and
//	renaming of selected functions always run; these options gate the
//	annotation passes and AI involvement.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Options struct {
	// Xrefs injects the caller-list fold block above selected
	// functions.
	Xrefs bool `yaml:"xrefs"`

	// Describe requests an AI header description per selected function.
	Describe bool `yaml:"describe"`

	// LineComments requests AI line comments per selected function.
	LineComments bool `yaml:"line_comments"`

	// CountInName appends _xref_<inbound call count> to new names.
	CountInName bool `yaml:"count_in_name"`

	// AIRename replaces synthetic ids with AI-suggested names.
	AIRename bool `yaml:"ai_rename"`

	// Concurrency bounds concurrent AI requests.
	Concurrency int `yaml:"concurrency"`

	// Model selects the AI model for suggestions.
	Model string `yaml:"model"`

	// MaxFileSize caps input size in bytes.
	MaxFileSize int `yaml:"max_file_size"`
}

// WantsAI reports whether any enabled option needs the AI suggestion
// service (and therefore credentials).
func (o *Options) WantsAI() bool {
	return o.Describe || o.LineComments || o.AIRename
}

// DefaultOptions returns the embedded defaults.
func DefaultOptions() (*Options, error) {
	return LoadOptions(defaultOptionsYAML)
}

// LoadOptions parses Options from YAML bytes over the embedded
// defaults.
//
// Inputs:
//   - data: Raw YAML bytes. Must not be empty.
//
// Outputs:
//   - *Options: The validated options.
//   - error: Non-nil if parsing or validation fails.
func LoadOptions(data []byte) (*Options, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("rewrite: empty options YAML")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("rewrite: options YAML exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var opts Options
	if err := yaml.Unmarshal(defaultOptionsYAML, &opts); err != nil {
		return nil, fmt.Errorf("rewrite: parsing embedded defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("rewrite: parsing options YAML: %w", err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxFileSize <= 0 {
		return nil, fmt.Errorf("rewrite: max_file_size must be positive, got %d", opts.MaxFileSize)
	}

	slog.Debug("options loaded",
		slog.Bool("xrefs", opts.Xrefs),
		slog.Bool("describe", opts.Describe),
		slog.Bool("line_comments", opts.LineComments),
		slog.Bool("count_in_name", opts.CountInName),
		slog.Bool("ai_rename", opts.AIRename),
		slog.Int("concurrency", opts.Concurrency),
	)
	return &opts, nil
}
