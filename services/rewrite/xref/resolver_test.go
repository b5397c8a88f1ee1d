// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package xref

import (
	"context"
	"testing"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/scope"
)

// resolveSrc runs parse → scope → registry → resolve over src.
func resolveSrc(t *testing.T, src string) (*registry.Registry, *Graph) {
	t.Helper()
	unit, err := ast.NewParser().Parse(context.Background(), []byte(src), "test.js")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	t.Cleanup(unit.Close)

	module, err := scope.NewBuilder().Build(unit)
	if err != nil {
		t.Fatalf("scope build failed: %v", err)
	}
	reg := registry.Enumerate(unit, module)
	return reg, NewResolver().Resolve(context.Background(), unit, module, reg)
}

// entityByDisplay finds an entity by display name.
func entityByDisplay(t *testing.T, reg *registry.Registry, name string) *registry.FunctionEntity {
	t.Helper()
	for _, e := range reg.Entities {
		if e.DisplayName == name {
			return e
		}
	}
	t.Fatalf("entity %q not found", name)
	return nil
}

func TestCallResolvesToDeclaration(t *testing.T) {
	src := `function ping() { return 1; }
ping();
`
	reg, g := resolveSrc(t, src)

	target := entityByDisplay(t, reg, "ping")
	inbound := g.Inbound(target.ID)
	if len(inbound) != 1 {
		t.Fatalf("inbound edges = %d, want 1", len(inbound))
	}
	edge := inbound[0]
	if edge.Kind != EdgeCall {
		t.Errorf("edge kind = %v, want EdgeCall", edge.Kind)
	}
	if edge.Caller != nil {
		t.Errorf("module-level caller = %v, want nil", edge.Caller.DisplayName)
	}
	if edge.UseNode == nil {
		t.Error("identifier call edge should carry its use node")
	}
}

func TestShadowedCallResolvesInnerDeclaration(t *testing.T) {
	src := `function target() { return 1; }
function wrapper() {
  function target() { return 2; }
  return target();
}
`
	reg, g := resolveSrc(t, src)

	outer := entityByDisplay(t, reg, "wrapper.target")
	shadowed := entityByDisplay(t, reg, "target")

	if n := len(g.Inbound(outer.ID)); n != 1 {
		t.Errorf("inner declaration inbound = %d, want 1", n)
	}
	if n := len(g.Inbound(shadowed.ID)); n != 0 {
		t.Errorf("shadowed outer declaration inbound = %d, want 0", n)
	}
}

func TestDeadZoneUseIsUnknownDynamic(t *testing.T) {
	// The let binding shadows the outer helper throughout wrapper's
	// scope; the call before the declaration must not be attributed to
	// the outer declaration.
	src := `function helper() { return 1; }
function wrapper() {
  helper();
  let helper = () => 2;
}
`
	reg, g := resolveSrc(t, src)

	outer := reg.Entities[0]
	if outer.Kind != registry.KindDeclaration {
		t.Fatalf("entity 0 kind = %v, want the outer declaration", outer.Kind)
	}
	if n := len(g.Inbound(outer.ID)); n != 0 {
		t.Errorf("shadowed outer declaration inbound = %d, want 0", n)
	}
	if g.DynamicCount("helper") != 1 {
		t.Errorf("DynamicCount(helper) = %d, want 1", g.DynamicCount("helper"))
	}
}

func TestCalleeCountCountsCallsOnly(t *testing.T) {
	src := `function worker() { return 1; }
worker();
worker();
const alias = worker;
`
	reg, g := resolveSrc(t, src)

	target := entityByDisplay(t, reg, "worker")
	if n := g.CalleeCount(target.ID); n != 2 {
		t.Errorf("CalleeCount = %d, want 2 (assignment must not count)", n)
	}
	if n := len(g.Inbound(target.ID)); n != 3 {
		t.Errorf("inbound edges = %d, want 3", n)
	}
}

func TestAssignmentEdge(t *testing.T) {
	src := `function src() { return 1; }
let handle;
handle = src;
`
	reg, g := resolveSrc(t, src)

	target := entityByDisplay(t, reg, "src")
	inbound := g.Inbound(target.ID)
	if len(inbound) != 1 {
		t.Fatalf("inbound edges = %d, want 1", len(inbound))
	}
	if inbound[0].Kind != EdgeAssignment {
		t.Errorf("edge kind = %v, want EdgeAssignment", inbound[0].Kind)
	}
}

func TestExportEdges(t *testing.T) {
	src := `function named() { return 1; }
function main() { return 2; }
export { named };
export default main;
`
	reg, g := resolveSrc(t, src)

	for _, name := range []string{"named", "main"} {
		target := entityByDisplay(t, reg, name)
		inbound := g.Inbound(target.ID)
		if len(inbound) != 1 {
			t.Fatalf("%s inbound = %d, want 1", name, len(inbound))
		}
		if inbound[0].Kind != EdgeExport {
			t.Errorf("%s edge kind = %v, want EdgeExport", name, inbound[0].Kind)
		}
	}
}

func TestUnboundCallIsUnknownDynamic(t *testing.T) {
	src := `mystery();`
	_, g := resolveSrc(t, src)

	if len(g.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(g.Edges))
	}
	edge := g.Edges[0]
	if edge.Kind != EdgeUnknownDynamic {
		t.Errorf("edge kind = %v, want EdgeUnknownDynamic", edge.Kind)
	}
	if edge.Target != nil {
		t.Error("unknown-dynamic edge must not guess a target")
	}
	if g.DynamicCount("mystery") != 1 {
		t.Errorf("DynamicCount(mystery) = %d, want 1", g.DynamicCount("mystery"))
	}
}

func TestMemberCallWithoutAssignmentIsDynamic(t *testing.T) {
	src := `const obj = { run: function() { return 1; } };
obj.run();
obj[key]();
`
	_, g := resolveSrc(t, src)

	dynamic := 0
	for _, e := range g.Edges {
		if e.Kind == EdgeUnknownDynamic {
			dynamic++
		}
	}
	if dynamic != 2 {
		t.Errorf("dynamic edges = %d, want 2", dynamic)
	}
}

func TestStaticPropertyAssignmentResolvesCall(t *testing.T) {
	src := `var a = {};
var b = {};
a.foo = function() { return 1; };
b.bar = function() { return a.foo(); };
`
	reg, g := resolveSrc(t, src)

	callee := entityByDisplay(t, reg, "foo")
	inbound := g.Inbound(callee.ID)
	if len(inbound) != 1 {
		t.Fatalf("inbound edges = %d, want 1", len(inbound))
	}
	edge := inbound[0]
	if edge.Kind != EdgeCall {
		t.Errorf("edge kind = %v, want EdgeCall", edge.Kind)
	}
	if edge.Caller == nil || edge.Caller.DisplayName != "bar" {
		t.Errorf("caller = %v, want bar", edge.Caller)
	}
	if edge.UseNode != nil {
		t.Error("member call sites must not be rewritable")
	}
}

func TestAmbiguousPropertyAssignmentStaysDynamic(t *testing.T) {
	src := `var a = {};
a.foo = function() { return 1; };
a.foo = function() { return 2; };
a.foo();
`
	reg, g := resolveSrc(t, src)

	for _, e := range reg.Entities {
		if n := len(g.Inbound(e.ID)); n != 0 {
			t.Errorf("ambiguous target %s has %d inbound edges, want 0", e.ID, n)
		}
	}
	if g.DynamicCount("foo") != 1 {
		t.Errorf("DynamicCount(foo) = %d, want 1", g.DynamicCount("foo"))
	}
}

func TestIIFEResolves(t *testing.T) {
	src := `(function boot() { return 1; })();`
	reg, g := resolveSrc(t, src)

	target := entityByDisplay(t, reg, "boot")
	inbound := g.Inbound(target.ID)
	if len(inbound) != 1 {
		t.Fatalf("inbound edges = %d, want 1", len(inbound))
	}
	if inbound[0].Kind != EdgeCall {
		t.Errorf("edge kind = %v, want EdgeCall", inbound[0].Kind)
	}
}

func TestExactlyOneEdgePerUse(t *testing.T) {
	src := `function once() { return 1; }
once();
`
	_, g := resolveSrc(t, src)

	type key struct {
		start, end uint32
		kind       EdgeKind
	}
	seen := make(map[key]int)
	for _, e := range g.Edges {
		seen[key{e.Loc.StartByte, e.Loc.EndByte, e.Kind}]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("use site %v produced %d edges, want 1", k, n)
		}
	}
}

func TestHasUntraceableCallers(t *testing.T) {
	src := `class Svc {
  run() { return 1; }
}
function helper() { return 2; }
window.cb();
`
	reg, g := resolveSrc(t, src)

	method := entityByDisplay(t, reg, "run")
	if !g.HasUntraceableCallers(method) {
		t.Error("method should always have untraceable callers")
	}

	helper := entityByDisplay(t, reg, "helper")
	if g.HasUntraceableCallers(helper) {
		t.Error("plain declaration with no matching dynamic edge flagged untraceable")
	}
}

func TestCallerAttribution(t *testing.T) {
	src := `function callee() { return 1; }
function caller() { return callee(); }
`
	reg, g := resolveSrc(t, src)

	target := entityByDisplay(t, reg, "callee")
	inbound := g.Inbound(target.ID)
	if len(inbound) != 1 {
		t.Fatalf("inbound edges = %d, want 1", len(inbound))
	}
	if inbound[0].Caller == nil || inbound[0].Caller.DisplayName != "caller" {
		t.Errorf("caller = %v, want caller", inbound[0].Caller)
	}
}
