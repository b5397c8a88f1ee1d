// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform applies the ordered mutation passes of a run:
// canonicalization, renaming, and comment injection. Passes never touch
// the tree; they accumulate text edits against the original bytes for
// the emitter to splice.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/untangle/services/llm"
	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/selection"
	"github.com/AleutianAI/untangle/services/rewrite/xref"
)

var tracer = otel.Tracer("rewrite.transform")

// globalScopeLabel names the module-level pseudo-caller in xref
// annotations.
const globalScopeLabel = "! Global Scope"

// sentinelName matches names this engine introduced on a previous run
// (fn_<n>) plus the F_ escape hatch for manually chosen names. Entities
// carrying such a name are never renamed again.
var sentinelName = regexp.MustCompile(`^(fn_\d+|F_)`)

// Options gates the optional passes. Canonicalization and renaming of
// selected entities always run.
type Options struct {
	// Xrefs injects the caller-list fold block.
	Xrefs bool

	// Describe requests an AI header description.
	Describe bool

	// LineComments requests AI line comments.
	LineComments bool

	// CountInName appends _xref_<inbound call count> to new names.
	CountInName bool

	// AIRename replaces the synthetic id with an AI-suggested name.
	AIRename bool

	// Concurrency bounds the AI fan-out. Default: 4
	Concurrency int
}

// wantsAI reports whether any pass consults the suggestion service.
func (o Options) wantsAI() bool {
	return o.Describe || o.LineComments || o.AIRename
}

// Warning is a non-fatal per-function condition surfaced alongside the
// output.
type Warning struct {
	// Function is the display name of the affected entity.
	Function string

	// Detail describes the condition.
	Detail string
}

// String formats the warning for user-facing output.
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Function, w.Detail)
}

// plan is the per-entity outcome of the naming phase. All names are
// decided before any edit is produced so the three edit phases never
// contend for the same span.
type plan struct {
	entity *registry.FunctionEntity

	// canonical means the entity gets a canonicalization edit: an arrow
	// rewritten to a function expression, or an anonymous function
	// expression given a name.
	canonical bool

	// rename means pre-existing identifiers (declaration, binding,
	// resolved use sites) are rewritten to finalName.
	rename bool

	// finalName is the name the entity bears after the run; empty when
	// neither canonical nor rename applies.
	finalName string

	description  string
	lineComments []llm.LineComment
}

// Engine runs the mutation passes over one source unit.
//
// Thread Safety: Engine is safe for concurrent use across distinct
// units; all per-run state is local to Run.
type Engine struct {
	suggester llm.Suggester
	options   Options
}

// NewEngine creates an Engine. suggester may be nil when no AI-backed
// option is enabled.
func NewEngine(suggester llm.Suggester, options Options) *Engine {
	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}
	return &Engine{suggester: suggester, options: options}
}

// Run executes the ordered passes and returns the accumulated edits.
//
// Description:
//
//	Phase order: AI suggestions are fetched first (bounded fan-out,
//	reassembled in source order), then final names are decided
//	deterministically, then the three edit phases run — each phase
//	writes to disjoint spans, so the emitter never sees an overlap.
//	Canonicalization is unconditional over all arrows and anonymous
//	function expressions; renaming and commenting apply to selected
//	entities only. Per-function AI failures degrade to warnings.
//
// Outputs:
//   - []emit.Edit: Edits in insertion order (Seq assigned).
//   - []Warning: Non-fatal per-function conditions.
//   - error: Fatal setup failures only.
func (t *Engine) Run(ctx context.Context, unit *ast.SourceUnit, reg *registry.Registry, graph *xref.Graph, sel *selection.Set) ([]emit.Edit, []Warning, error) {
	ctx, span := tracer.Start(ctx, "Engine.Run")
	defer span.End()

	if t.options.wantsAI() && t.suggester == nil {
		return nil, nil, fmt.Errorf("transform: AI-backed options enabled without a suggestion service")
	}

	plans := make([]*plan, len(reg.Entities))
	var warnings []Warning

	for i, e := range reg.Entities {
		p := &plan{entity: e}
		plans[i] = p

		selected := sel.Contains(e)
		p.canonical = canonicalTarget(e)
		if e.Kind == registry.KindArrow && e.UsesThisOrArguments {
			warnings = append(warnings, Warning{
				Function: e.DisplayName,
				Detail:   "arrow uses this/arguments/super; left as arrow",
			})
		}

		if !selected {
			continue
		}
		switch {
		case e.Kind == registry.KindMethod:
			warnings = append(warnings, Warning{
				Function: e.DisplayName,
				Detail:   "methods are reachable through member access; not renamed",
			})
		case sentinelName.MatchString(currentName(e)):
			// Already processed or manually named.
		case e.NameNode != nil || e.BindingNameNode != nil || p.canonical:
			p.rename = true
		}
	}

	if t.options.wantsAI() {
		aiWarnings, err := t.fanOut(ctx, unit, graph, sel, plans)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, aiWarnings...)
	}

	t.assignFinalNames(reg, graph, plans)

	var edits []emit.Edit
	seq := 0
	appendEdit := func(e emit.Edit) {
		e.Seq = seq
		seq++
		edits = append(edits, e)
	}

	canonWarnings := canonicalize(unit, plans, appendEdit)
	warnings = append(warnings, canonWarnings...)
	rename(unit, graph, plans, appendEdit)
	commentWarnings := t.comment(unit, graph, sel, plans, appendEdit)
	warnings = append(warnings, commentWarnings...)

	span.SetAttributes(
		attribute.Int("entities", len(reg.Entities)),
		attribute.Int("edits", len(edits)),
		attribute.Int("warnings", len(warnings)),
	)
	slog.Debug("transformation passes complete",
		slog.String("path", unit.Path),
		slog.Int("edits", len(edits)),
		slog.Int("warnings", len(warnings)),
	)
	return edits, warnings, nil
}

// canonicalTarget reports whether the entity is rewritten by the
// canonicalization pass: safe arrows and anonymous function
// expressions.
func canonicalTarget(e *registry.FunctionEntity) bool {
	if e.Kind == registry.KindArrow {
		return !e.UsesThisOrArguments
	}
	return e.Kind == registry.KindExpression && e.NameNode == nil
}

// currentName is the name the sentinel check inspects: the declared or
// self name, falling back to the binding label for anonymous entities.
func currentName(e *registry.FunctionEntity) string {
	if e.OriginalName != "" {
		return e.OriginalName
	}
	return e.ContextLabel
}

// assignFinalNames decides every new name in ordinal order, reserving
// each against the unit's identifier set. Deterministic: AI results are
// already keyed by entity, so iteration order alone fixes the output.
func (t *Engine) assignFinalNames(reg *registry.Registry, graph *xref.Graph, plans []*plan) {
	for _, p := range plans {
		e := p.entity

		switch {
		case p.rename:
			base := e.ID
			if t.options.AIRename && p.finalName != "" {
				base = namePrefix(e) + p.finalName
			}
			if t.options.CountInName {
				base = fmt.Sprintf("%s_xref_%d", base, graph.CalleeCount(e.ID))
			}
			p.finalName = reg.UniqueName(base)

		case p.canonical:
			p.finalName = reg.UniqueName(e.ID)

		default:
			p.finalName = ""
			continue
		}

		e.DisplayName = p.finalName
		for _, edge := range graph.Inbound(e.ID) {
			edge.Name = p.finalName
		}
	}
}

// namePrefix is the marker prepended to AI-suggested names so processed
// functions remain recognizable: f_ for declarations, f_e_ for
// expressions and canonicalized arrows.
func namePrefix(e *registry.FunctionEntity) string {
	if e.Kind == registry.KindDeclaration {
		return "f_"
	}
	return "f_e_"
}

// aiResult carries one entity's suggestions out of the fan-out.
type aiResult struct {
	name         string
	description  string
	lineComments []llm.LineComment
	warnings     []Warning
}

// fanOut requests AI suggestions for every selected entity, bounded by
// the configured concurrency. Results are stored back onto the plans in
// ordinal order so downstream phases are deterministic regardless of
// completion order.
func (t *Engine) fanOut(ctx context.Context, unit *ast.SourceUnit, graph *xref.Graph, sel *selection.Set, plans []*plan) ([]Warning, error) {
	results := make([]*aiResult, len(plans))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, t.options.Concurrency)

	for i, p := range plans {
		if !sel.Contains(p.entity) {
			continue
		}
		if !p.rename && !t.options.Describe && !t.options.LineComments {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			results[i] = t.suggest(gctx, unit, graph, p)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("transform: AI suggestion fan-out: %w", err)
	}

	var warnings []Warning
	for i, res := range results {
		if res == nil {
			continue
		}
		plans[i].finalName = res.name
		plans[i].description = res.description
		plans[i].lineComments = res.lineComments
		warnings = append(warnings, res.warnings...)
	}
	return warnings, nil
}

// suggest performs the per-entity AI requests. Failures never abort the
// run; they become warnings and the entity degrades to its synthetic
// name / absent annotation.
func (t *Engine) suggest(ctx context.Context, unit *ast.SourceUnit, graph *xref.Graph, p *plan) *aiResult {
	e := p.entity
	res := &aiResult{}
	req := llm.SuggestionRequest{
		FunctionName: e.DisplayName,
		Source:       unit.Text(e.Node),
		XrefSummary:  xrefSummary(graph, e),
	}

	if t.options.AIRename && p.rename {
		req.Task = llm.TaskRename
		name, err := t.suggester.SuggestName(ctx, req)
		if err != nil {
			res.warnings = append(res.warnings, Warning{Function: e.DisplayName,
				Detail: fmt.Sprintf("name suggestion failed, keeping synthetic id: %v", err)})
		} else {
			res.name = name
		}
	}

	if t.options.Describe {
		req.Task = llm.TaskDescribe
		desc, err := t.suggester.Describe(ctx, req)
		if err != nil {
			res.warnings = append(res.warnings, Warning{Function: e.DisplayName,
				Detail: fmt.Sprintf("description unavailable: %v", err)})
		} else {
			res.description = desc
		}
	}

	if t.options.LineComments {
		req.Task = llm.TaskLineComments
		comments, err := t.suggester.LineComments(ctx, req)
		if err != nil {
			res.warnings = append(res.warnings, Warning{Function: e.DisplayName,
				Detail: fmt.Sprintf("line comments unavailable: %v", err)})
		} else {
			res.lineComments = comments
		}
	}
	return res
}

// xrefSummary renders the entity's resolved callers as "name: count"
// lines for AI context, first-seen order.
func xrefSummary(graph *xref.Graph, e *registry.FunctionEntity) string {
	names, counts := callerCounts(graph, e)
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %d\n", name, counts[name])
	}
	return b.String()
}

// callerCounts groups the entity's inbound edges by caller label in
// first-seen source order.
func callerCounts(graph *xref.Graph, e *registry.FunctionEntity) ([]string, map[string]int) {
	var names []string
	counts := make(map[string]int)
	for _, edge := range graph.Inbound(e.ID) {
		label := globalScopeLabel
		if edge.Caller != nil {
			label = edge.Caller.DisplayName
		}
		if _, seen := counts[label]; !seen {
			names = append(names, label)
		}
		counts[label]++
	}
	return names, counts
}
