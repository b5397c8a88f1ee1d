// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/untangle/services/llm"
	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/scope"
	"github.com/AleutianAI/untangle/services/rewrite/selection"
	"github.com/AleutianAI/untangle/services/rewrite/xref"
)

// runPasses executes the full pipeline over src and returns the emitted
// output plus the transformation warnings.
func runPasses(t *testing.T, src string, suggester llm.Suggester, options Options, tokens []string) (string, []Warning) {
	t.Helper()
	ctx := context.Background()
	parser := ast.NewParser()

	unit, err := parser.Parse(ctx, []byte(src), "test.js")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	t.Cleanup(unit.Close)

	module, err := scope.NewBuilder().Build(unit)
	if err != nil {
		t.Fatalf("scope build failed: %v", err)
	}
	reg := registry.Enumerate(unit, module)
	graph := xref.NewResolver().Resolve(ctx, unit, module, reg)
	sel := selection.Resolve(reg, tokens)

	edits, warnings, err := NewEngine(suggester, options).Run(ctx, unit, reg, graph, sel)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	out, err := emit.NewEmitter(parser).Emit(ctx, unit, edits)
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	return string(out), warnings
}

func TestArrowExpressionBodyCanonicalized(t *testing.T) {
	src := `const add = (a, b) => a + b;
const result = add(1, 2);
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "function fn_0(a, b) { return a + b; }") {
		t.Errorf("expression-body arrow not wrapped:\n%s", out)
	}
	if !strings.Contains(out, "const fn_0 = ") {
		t.Errorf("binding not renamed:\n%s", out)
	}
	if !strings.Contains(out, "fn_0(1, 2)") {
		t.Errorf("call site not renamed:\n%s", out)
	}
	if strings.Contains(out, "=>") {
		t.Errorf("arrow survived canonicalization:\n%s", out)
	}
}

func TestArrowBlockBodyCanonicalized(t *testing.T) {
	src := `const run = (x) => { return x * 2; };
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "function fn_0(x) { return x * 2; }") {
		t.Errorf("block-body arrow header not replaced:\n%s", out)
	}
}

func TestBareParameterArrowGetsParentheses(t *testing.T) {
	src := `const id = x => x + 1;
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "function fn_0(x) { return x + 1; }") {
		t.Errorf("bare parameter not parenthesized:\n%s", out)
	}
}

func TestRenameInsideArrowParameterDefault(t *testing.T) {
	// The call site sits inside the arrow's parameter list; the header
	// rewrite must leave the parameter bytes in place so the rename
	// edit lands there.
	src := `function foo() { return 1; }
const g = (x = foo()) => x;
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "function fn_1(x = fn_0()) { return x; }") {
		t.Errorf("default-value call site not renamed inside canonicalized params:\n%s", out)
	}
	if !strings.Contains(out, "function fn_0() { return 1; }") {
		t.Errorf("declaration not renamed:\n%s", out)
	}
}

func TestAsyncArrowKeepsModifier(t *testing.T) {
	src := `const fetchIt = async (u) => u;
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "async function fn_0(u) { return u; }") {
		t.Errorf("async modifier lost:\n%s", out)
	}
}

func TestThisArrowLeftAloneWithWarning(t *testing.T) {
	src := `const h = () => this.x;
`
	out, warnings := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "const fn_0 = () => this.x;") {
		t.Errorf("this-capturing arrow should keep its form (binding still renamed):\n%s", out)
	}
	if !hasWarning(warnings, "left as arrow") {
		t.Errorf("missing this-capture warning, got %v", warnings)
	}
}

func TestAnonymousFunctionExpressionNamed(t *testing.T) {
	src := `const beta = function() { return 2; };
beta();
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if !strings.Contains(out, "const fn_0 = function fn_0() { return 2; };") {
		t.Errorf("anonymous expression not named:\n%s", out)
	}
	if !strings.Contains(out, "fn_0();") {
		t.Errorf("call site not renamed:\n%s", out)
	}
}

func TestMethodNotRenamed(t *testing.T) {
	src := `class Box {
  open() { return 1; }
}
`
	out, warnings := runPasses(t, src, nil, Options{}, nil)

	if out != src {
		t.Errorf("method mutated:\n%s", out)
	}
	if !hasWarning(warnings, "not renamed") {
		t.Errorf("missing method warning, got %v", warnings)
	}
}

func TestCountInNameSuffix(t *testing.T) {
	src := `function worker() { return 1; }
worker();
worker();
worker();
`
	out, _ := runPasses(t, src, nil, Options{CountInName: true}, nil)

	if got := strings.Count(out, "fn_0_xref_3"); got != 4 {
		t.Errorf("fn_0_xref_3 appears %d times, want declaration plus 3 call sites:\n%s", got, out)
	}
	if strings.Contains(out, "worker") {
		t.Errorf("original name survived:\n%s", out)
	}
}

func TestSentinelNamesSkipped(t *testing.T) {
	src := `function fn_0() { return 1; }
fn_0();
function F_keep() { return 2; }
`
	out, _ := runPasses(t, src, nil, Options{}, nil)

	if out != src {
		t.Errorf("already-processed names were renamed:\n%s", out)
	}
}

func TestXrefHeaderInjection(t *testing.T) {
	src := `function callee() { return 1; }
function caller() { return callee(); }
callee();
`
	out, _ := runPasses(t, src, nil, Options{Xrefs: true}, nil)

	if !strings.Contains(out, "xrefs {{{") {
		t.Errorf("fold block missing:\n%s", out)
	}
	if !strings.Contains(out, "fn_1: 1") {
		t.Errorf("caller not listed under its final name:\n%s", out)
	}
	if !strings.Contains(out, globalScopeLabel+": 1") {
		t.Errorf("module-level caller not labeled:\n%s", out)
	}
}

func TestIdempotentRerun(t *testing.T) {
	src := `function callee() { return 1; }
const add = (a, b) => a + b;
callee();
add(1, 2);
`
	options := Options{Xrefs: true}
	first, _ := runPasses(t, src, nil, options, nil)
	second, _ := runPasses(t, first, nil, options, nil)

	if first != second {
		t.Errorf("second run changed the output:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestSelectionLimitsMutation(t *testing.T) {
	src := `function keep() { return 1; }
function touch() { return 2; }
touch();
`
	out, _ := runPasses(t, src, nil, Options{}, []string{"touch"})

	if !strings.Contains(out, "function keep()") {
		t.Errorf("unselected function renamed:\n%s", out)
	}
	if strings.Contains(out, "touch") {
		t.Errorf("selected function not renamed:\n%s", out)
	}
}

// ============================================================================
// AI-backed passes (stubbed suggester)
// ============================================================================

type stubSuggester struct {
	name     string
	desc     string
	comments []llm.LineComment
	err      error
}

func (s *stubSuggester) SuggestName(context.Context, llm.SuggestionRequest) (string, error) {
	return s.name, s.err
}

func (s *stubSuggester) Describe(context.Context, llm.SuggestionRequest) (string, error) {
	return s.desc, s.err
}

func (s *stubSuggester) LineComments(context.Context, llm.SuggestionRequest) ([]llm.LineComment, error) {
	return s.comments, s.err
}

func TestAIRenameUsesPrefixedSuggestion(t *testing.T) {
	src := `function mess() { return 1; }
mess();
`
	sugg := &stubSuggester{name: "computeTotal"}
	out, _ := runPasses(t, src, sugg, Options{AIRename: true}, nil)

	if !strings.Contains(out, "function f_computeTotal()") {
		t.Errorf("declaration not renamed to prefixed suggestion:\n%s", out)
	}
	if !strings.Contains(out, "f_computeTotal();") {
		t.Errorf("call site not renamed:\n%s", out)
	}
}

func TestExpressionPrefixDiffers(t *testing.T) {
	src := `const beta = function() { return 2; };
`
	sugg := &stubSuggester{name: "makeBeta"}
	out, _ := runPasses(t, src, sugg, Options{AIRename: true}, nil)

	if !strings.Contains(out, "f_e_makeBeta") {
		t.Errorf("expression rename missing f_e_ prefix:\n%s", out)
	}
}

func TestDescribeInjectsHeaderWithFoldBlock(t *testing.T) {
	src := `function calc(x) { return x * 2; }
`
	sugg := &stubSuggester{desc: "Doubles the input."}
	out, _ := runPasses(t, src, sugg, Options{Describe: true}, nil)

	if !strings.Contains(out, "Doubles the input.") {
		t.Errorf("description missing:\n%s", out)
	}
	// The fold block always rides along so re-runs can detect the header.
	if !strings.Contains(out, "xrefs {{{") {
		t.Errorf("sentinel fold block missing from describe-only header:\n%s", out)
	}
}

func TestLineCommentsInsertedWithIndent(t *testing.T) {
	src := `function calc(x) {
  return x * 2;
}
`
	sugg := &stubSuggester{comments: []llm.LineComment{
		{Line: 2, Text: "double it"},
		{Line: 99, Text: "out of range"},
	}}
	out, warnings := runPasses(t, src, sugg, Options{LineComments: true}, nil)

	if !strings.Contains(out, "  // double it\n  return x * 2;") {
		t.Errorf("line comment not placed above its target:\n%s", out)
	}
	if strings.Contains(out, "out of range") {
		t.Errorf("out-of-range comment inserted:\n%s", out)
	}
	if !hasWarning(warnings, "out-of-range") {
		t.Errorf("missing drop warning, got %v", warnings)
	}
}

func TestAIFailureDegradesToWarning(t *testing.T) {
	src := `function mess() { return 1; }
mess();
`
	sugg := &stubSuggester{err: errors.New("model unavailable")}
	out, warnings := runPasses(t, src, sugg, Options{AIRename: true}, nil)

	if !strings.Contains(out, "function fn_0()") {
		t.Errorf("entity did not fall back to its synthetic id:\n%s", out)
	}
	if !hasWarning(warnings, "keeping synthetic id") {
		t.Errorf("missing degradation warning, got %v", warnings)
	}
}

func TestAIOptionsRequireSuggester(t *testing.T) {
	unit, err := ast.NewParser().Parse(context.Background(), []byte("function f() {}"), "test.js")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Close()

	module, err := scope.NewBuilder().Build(unit)
	if err != nil {
		t.Fatalf("scope build failed: %v", err)
	}
	reg := registry.Enumerate(unit, module)
	graph := xref.NewResolver().Resolve(context.Background(), unit, module, reg)

	_, _, err = NewEngine(nil, Options{Describe: true}).Run(context.Background(), unit, reg, graph, selection.Resolve(reg, nil))
	if err == nil {
		t.Error("AI option without a suggester must fail fast")
	}
}

func hasWarning(warnings []Warning, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w.Detail, substr) {
			return true
		}
	}
	return false
}
