// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rewrite orchestrates the analysis and mutation passes over
// one JavaScript source unit: parse, scope tree, function registry,
// reference graph, selection, transformation, emission.
package rewrite

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/untangle/services/llm"
	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/scope"
	"github.com/AleutianAI/untangle/services/rewrite/selection"
	"github.com/AleutianAI/untangle/services/rewrite/transform"
	"github.com/AleutianAI/untangle/services/rewrite/xref"
)

var tracer = otel.Tracer("rewrite")

// Result is the outcome of one run.
type Result struct {
	// Output is the rewritten source. Untouched regions are
	// byte-identical to the input.
	Output []byte

	// Warnings collects the run's non-fatal conditions in the order
	// they arose: unmatched selectors first, then per-function
	// transformation warnings.
	Warnings []string

	// Functions is the number of registered function entities.
	Functions int

	// Edits is the number of spliced text edits.
	Edits int
}

// Engine wires the passes together for repeated runs.
//
// Thread Safety: Engine is safe for concurrent use across distinct
// inputs.
type Engine struct {
	options   *Options
	parser    *ast.Parser
	emitter   *emit.Emitter
	transform *transform.Engine
}

// NewEngine creates an Engine. suggester may be nil unless an AI-backed
// option is enabled.
func NewEngine(options *Options, suggester llm.Suggester) *Engine {
	parser := ast.NewParser(ast.WithMaxFileSize(options.MaxFileSize))
	return &Engine{
		options: options,
		parser:  parser,
		emitter: emit.NewEmitter(parser),
		transform: transform.NewEngine(suggester, transform.Options{
			Xrefs:        options.Xrefs,
			Describe:     options.Describe,
			LineComments: options.LineComments,
			CountInName:  options.CountInName,
			AIRename:     options.AIRename,
			Concurrency:  options.Concurrency,
		}),
	}
}

// Run processes one source unit end to end.
//
// Description:
//
//	Parses the content, builds the scope tree and function registry,
//	resolves the reference graph, applies the selection, runs the
//	transformation passes, and emits the minimal-diff output. Analysis
//	passes are sequential; only the AI sub-pass inside the
//	transformation engine fans out.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - content: Raw JavaScript source.
//   - path: Display path for diagnostics ("<stdin>" for stdin).
//   - selectors: Function name / 1-based line tokens; empty selects
//     every function.
//
// Outputs:
//   - *Result: Output text plus warnings. Nil on fatal error.
//   - error: *ast.StructuralError, *emit.EmissionError, or a wrapped
//     pass failure.
func (en *Engine) Run(ctx context.Context, content []byte, path string, selectors []string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Run")
	defer span.End()

	unit, err := en.parser.Parse(ctx, content, path)
	if err != nil {
		return nil, err
	}
	defer unit.Close()

	module, err := scope.NewBuilder().Build(unit)
	if err != nil {
		return nil, err
	}

	reg := registry.Enumerate(unit, module)
	graph := xref.NewResolver().Resolve(ctx, unit, module, reg)
	sel := selection.Resolve(reg, selectors)

	var warnings []string
	for _, w := range sel.Warnings {
		warnings = append(warnings, w.String())
	}

	edits, transformWarnings, err := en.transform.Run(ctx, unit, reg, graph, sel)
	if err != nil {
		return nil, fmt.Errorf("rewrite: transformation: %w", err)
	}
	for _, w := range transformWarnings {
		warnings = append(warnings, w.String())
	}

	output, err := en.emitter.Emit(ctx, unit, edits)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("functions", len(reg.Entities)),
		attribute.Int("edits", len(edits)),
		attribute.Int("warnings", len(warnings)),
	)
	return &Result{
		Output:    output,
		Warnings:  warnings,
		Functions: len(reg.Entities),
		Edits:     len(edits),
	}, nil
}
