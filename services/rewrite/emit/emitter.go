// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package emit serializes a transformed source unit back to text with
// a minimal diff: regions no pass touched reproduce the original bytes
// exactly, only the recorded edit spans differ.
package emit

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
)

var tracer = otel.Tracer("rewrite.emit")

// Edit replaces the half-open byte span [Start, End) of the original
// source with Text. Start == End is a pure insertion.
type Edit struct {
	Start uint32
	End   uint32
	Text  string

	// Seq orders insertions at the same offset; assigned by the
	// transformation engine in pass order.
	Seq int
}

// EmissionError reports that the mutated tree could not be serialized
// into syntactically valid source. Fatal for the file.
type EmissionError struct {
	// Path is the source file path.
	Path string

	// Line is the 1-based line of the problem, 0 if structural.
	Line int

	// Detail describes the failure.
	Detail string
}

// Error implements the error interface.
func (e *EmissionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("emit: %s: line %d: %s", e.Path, e.Line, e.Detail)
	}
	return fmt.Sprintf("emit: %s: %s", e.Path, e.Detail)
}

// Emitter applies the accumulated edits of a run to the original
// source and verifies the output still parses.
//
// Thread Safety: Emitter is stateless and safe for concurrent use.
type Emitter struct {
	parser *ast.Parser
}

// NewEmitter creates an Emitter that verifies output with the given
// parser.
func NewEmitter(parser *ast.Parser) *Emitter {
	return &Emitter{parser: parser}
}

// Emit splices the edits into the unit's original bytes and verifies
// the result.
//
// Description:
//
//	Edits are sorted by start offset (insertion sequence breaks ties
//	at equal offsets) and must not overlap; overlap means two passes
//	fought over the same span and the output would be corrupt, so it
//	is rejected as an EmissionError before any text is produced. The
//	spliced output is then re-parsed; syntax errors are likewise an
//	EmissionError.
//
// Outputs:
//   - []byte: The serialized source. Untouched regions are
//     byte-identical to the input.
//   - error: *EmissionError, or a wrapped parser failure.
func (em *Emitter) Emit(ctx context.Context, unit *ast.SourceUnit, edits []Edit) ([]byte, error) {
	_, span := tracer.Start(ctx, "Emitter.Emit")
	defer span.End()

	output, err := Apply(unit.Content, edits)
	if err != nil {
		return nil, &EmissionError{Path: unit.Path, Detail: err.Error()}
	}

	line, detail, err := em.parser.CheckSyntax(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("emit: verifying output: %w", err)
	}
	if detail != "" {
		return nil, &EmissionError{Path: unit.Path, Line: line, Detail: detail}
	}

	span.SetAttributes(
		attribute.Int("edits", len(edits)),
		attribute.Int("output_bytes", len(output)),
	)
	return output, nil
}

// Apply splices sorted, non-overlapping edits into content. Exposed
// separately so tests can exercise the splice without a parser.
func Apply(content []byte, edits []Edit) ([]byte, error) {
	if len(edits) == 0 {
		out := make([]byte, len(content))
		copy(out, content)
		return out, nil
	}

	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	size := uint32(len(content))
	out := make([]byte, 0, len(content)+growth(sorted))
	cursor := uint32(0)

	for i, e := range sorted {
		if e.End < e.Start || e.End > size {
			return nil, fmt.Errorf("edit span [%d,%d) out of bounds (size %d)", e.Start, e.End, size)
		}
		if e.Start < cursor {
			prev := sorted[i-1]
			return nil, fmt.Errorf("edit at [%d,%d) overlaps edit at [%d,%d)", e.Start, e.End, prev.Start, prev.End)
		}
		out = append(out, content[cursor:e.Start]...)
		out = append(out, e.Text...)
		cursor = e.End
	}
	out = append(out, content[cursor:]...)
	return out, nil
}

// growth estimates how much the edits expand the output.
func growth(edits []Edit) int {
	total := 0
	for _, e := range edits {
		total += len(e.Text) - int(e.End-e.Start)
	}
	if total < 0 {
		return 0
	}
	return total
}
