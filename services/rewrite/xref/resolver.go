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
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/scope"
)

var tracer = otel.Tracer("rewrite.xref")

// Graph is the resolved cross-reference graph of one run.
type Graph struct {
	// Edges in source order of their use sites.
	Edges []*Edge

	inbound      map[string][]*Edge // entity ID → edges targeting it
	dynamicNames map[string]int     // name text → dynamic edge count
	seenUses     map[useKey]bool
}

type useKey struct {
	start uint32
	end   uint32
	kind  EdgeKind
}

// Inbound returns the edges targeting the entity, in source order.
func (g *Graph) Inbound(id string) []*Edge {
	return g.inbound[id]
}

// CalleeCount returns how many resolved call edges target the entity.
func (g *Graph) CalleeCount(id string) int {
	n := 0
	for _, e := range g.inbound[id] {
		if e.Kind == EdgeCall {
			n++
		}
	}
	return n
}

// DynamicCount returns the number of unknown-dynamic edges whose
// use-site text matches the name.
func (g *Graph) DynamicCount(name string) int {
	if name == "" {
		return 0
	}
	return g.dynamicNames[name]
}

// HasUntraceableCallers reports whether the entity may be invoked from
// sites the resolver could not attribute: methods and property-keyed
// functions are reachable through member access, and any dynamic edge
// matching the entity's name or context label may refer to it.
func (g *Graph) HasUntraceableCallers(e *registry.FunctionEntity) bool {
	if e.Kind == registry.KindMethod {
		return true
	}
	return g.DynamicCount(e.OriginalName) > 0 || g.DynamicCount(e.ContextLabel) > 0
}

// add appends an edge unless an edge of the same kind was already
// recorded for the same use span. Every qualifying use yields exactly
// one edge.
func (g *Graph) add(e *Edge) {
	key := useKey{e.Loc.StartByte, e.Loc.EndByte, e.Kind}
	if g.seenUses[key] {
		return
	}
	g.seenUses[key] = true
	g.Edges = append(g.Edges, e)
	if e.Target != nil {
		g.inbound[e.Target.ID] = append(g.inbound[e.Target.ID], e)
	} else if e.Name != "" {
		g.dynamicNames[e.Name]++
	}
}

// Resolver builds the cross-reference graph.
//
// Pass 1 (declare) is the scope builder's output; Resolve is pass 2:
// it walks every identifier use in a callable context outward through
// the scope tree to the nearest matching binding.
//
// Thread Safety: Resolver is safe for concurrent use; all state lives
// in the per-call Graph.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve builds the reference graph for the unit.
//
// Description:
//
//	Visits call callees, assignment right-hand sides, export clauses,
//	and object property values. Identifier callees resolve through the
//	scope chain (nearest enclosing declaration wins; shadowed outer
//	declarations are excluded). Member and computed callees, eval, and
//	unbound names become unknown-dynamic edges.
//
// Outputs:
//   - *Graph: The complete graph; never nil.
func (r *Resolver) Resolve(ctx context.Context, unit *ast.SourceUnit, module *scope.Scope, reg *registry.Registry) *Graph {
	_, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()

	g := &Graph{
		inbound:      make(map[string][]*Edge),
		dynamicNames: make(map[string]int),
		seenUses:     make(map[useKey]bool),
	}

	props := collectPropertyTargets(unit, unit.Root, reg)
	r.walk(unit, unit.Root, module, reg, props, g)

	resolved := 0
	for _, e := range g.Edges {
		if e.Target != nil {
			resolved++
		}
	}
	span.SetAttributes(
		attribute.Int("edges", len(g.Edges)),
		attribute.Int("resolved", resolved),
	)
	slog.Debug("reference graph built",
		slog.String("path", unit.Path),
		slog.Int("edges", len(g.Edges)),
		slog.Int("resolved", resolved),
	)
	return g
}

func (r *Resolver) walk(unit *ast.SourceUnit, node *sitter.Node, module *scope.Scope, reg *registry.Registry, props map[string]*registry.FunctionEntity, g *Graph) {
	if node == nil {
		return
	}

	switch node.Type() {
	case ast.NodeCallExpression, ast.NodeNewExpression:
		r.visitCall(unit, node, module, reg, props, g)

	case ast.NodeAssignmentExpression:
		if right := node.ChildByFieldName("right"); right != nil {
			r.visitValueRef(unit, right, module, reg, g, EdgeAssignment)
		}

	case ast.NodeVariableDeclarator:
		if value := node.ChildByFieldName("value"); value != nil {
			r.visitValueRef(unit, value, module, reg, g, EdgeAssignment)
		}

	case ast.NodeExportStatement:
		r.visitExport(unit, node, module, reg, g)

	case ast.NodePair:
		if value := node.ChildByFieldName("value"); value != nil {
			r.visitValueRef(unit, value, module, reg, g, EdgePropertyValue)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		r.walk(unit, node.Child(i), module, reg, props, g)
	}
}

// visitCall records exactly one edge for a call expression's callee.
func (r *Resolver) visitCall(unit *ast.SourceUnit, node *sitter.Node, module *scope.Scope, reg *registry.Registry, props map[string]*registry.FunctionEntity, g *Graph) {
	callee := node.ChildByFieldName("function")
	if callee == nil {
		callee = node.ChildByFieldName("constructor")
	}
	if callee == nil && node.ChildCount() > 0 {
		callee = node.Child(0)
	}
	callee = unwrapParens(callee)
	if callee == nil {
		return
	}

	caller := enclosingEntity(node, reg)
	loc := ast.LocationOf(callee)

	switch {
	case callee.Type() == ast.NodeIdentifier:
		name := unit.Text(callee)
		if target := r.resolveToEntity(unit, callee, module, reg); target != nil {
			g.add(&Edge{Kind: EdgeCall, Name: name, Loc: loc, UseNode: callee, Target: target, Caller: caller})
			return
		}
		// Unbound or bound to a non-function value; either way the
		// callee cannot be attributed to a registered function.
		g.add(&Edge{Kind: EdgeUnknownDynamic, Name: name, Loc: loc, Caller: caller})

	case ast.IsFunctionLike(callee.Type()):
		// IIFE: the callee is the function itself.
		if target := reg.ByNode(callee); target != nil {
			g.add(&Edge{Kind: EdgeCall, Name: target.DisplayName, Loc: loc, Target: target, Caller: caller})
		}

	case callee.Type() == ast.NodeMemberExpression:
		name := ""
		if prop := callee.ChildByFieldName("property"); prop != nil {
			name = unit.Text(prop)
		}
		// A literal path with exactly one static function assignment
		// resolves; anything else stays unknown-dynamic. The use node is
		// deliberately omitted: rewriting a property access into a bare
		// name would change semantics, so member call sites are never
		// renamed.
		if path, ok := staticMemberPath(unit, callee); ok {
			if target, known := props[path]; known && target != nil {
				g.add(&Edge{Kind: EdgeCall, Name: name, Loc: loc, Target: target, Caller: caller})
				return
			}
		}
		g.add(&Edge{Kind: EdgeUnknownDynamic, Name: name, Loc: loc, Caller: caller})

	default:
		// Computed access, sequence expressions, etc.
		g.add(&Edge{Kind: EdgeUnknownDynamic, Name: "", Loc: loc, Caller: caller})
	}
}

// visitValueRef records an edge when an identifier value resolves to a
// registered function. Non-function values are not reference edges.
func (r *Resolver) visitValueRef(unit *ast.SourceUnit, value *sitter.Node, module *scope.Scope, reg *registry.Registry, g *Graph, kind EdgeKind) {
	value = unwrapParens(value)
	if value == nil || value.Type() != ast.NodeIdentifier {
		return
	}
	target := r.resolveToEntity(unit, value, module, reg)
	if target == nil {
		return
	}
	g.add(&Edge{
		Kind:    kind,
		Name:    unit.Text(value),
		Loc:     ast.LocationOf(value),
		UseNode: value,
		Target:  target,
		Caller:  enclosingEntity(value, reg),
	})
}

// visitExport records export edges for named and default exports that
// reference a registered function by identifier.
func (r *Resolver) visitExport(unit *ast.SourceUnit, node *sitter.Node, module *scope.Scope, reg *registry.Registry, g *Graph) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case ast.NodeExportClause:
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec == nil || spec.Type() != ast.NodeExportSpecifier {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					nameNode = spec.Child(0)
				}
				if nameNode == nil || nameNode.Type() != ast.NodeIdentifier {
					continue
				}
				if target := r.resolveToEntity(unit, nameNode, module, reg); target != nil {
					g.add(&Edge{
						Kind:    EdgeExport,
						Name:    unit.Text(nameNode),
						Loc:     ast.LocationOf(nameNode),
						UseNode: nameNode,
						Target:  target,
					})
				}
			}

		case ast.NodeIdentifier:
			// export default someFunction
			if target := r.resolveToEntity(unit, child, module, reg); target != nil {
				g.add(&Edge{
					Kind:    EdgeExport,
					Name:    unit.Text(child),
					Loc:     ast.LocationOf(child),
					UseNode: child,
					Target:  target,
				})
			}
		}
	}
}

// resolveToEntity resolves an identifier use to a registered function
// entity, or nil: nearest enclosing binding wins, and the binding must
// carry a function-like value.
func (r *Resolver) resolveToEntity(unit *ast.SourceUnit, use *sitter.Node, module *scope.Scope, reg *registry.Registry) *registry.FunctionEntity {
	name := unit.Text(use)
	useScope := module.ScopeFor(use)
	binding := useScope.Resolve(name, use.StartByte())
	if binding == nil || binding.ValueNode == nil {
		return nil
	}
	value := unwrapParens(binding.ValueNode)
	if value == nil || !ast.IsFunctionLike(value.Type()) {
		return nil
	}
	return reg.ByNode(value)
}

// enclosingEntity finds the registered function whose body contains
// the node, nil at module level.
func enclosingEntity(node *sitter.Node, reg *registry.Registry) *registry.FunctionEntity {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if ast.IsFunctionLike(cur.Type()) {
			return reg.ByNode(cur)
		}
	}
	return nil
}

// collectPropertyTargets maps literal member paths ("a.foo") to the
// function entity assigned to them, when exactly one static assignment
// exists. A path assigned more than once maps to nil so member calls on
// it fall back to unknown-dynamic instead of guessing.
func collectPropertyTargets(unit *ast.SourceUnit, root *sitter.Node, reg *registry.Registry) map[string]*registry.FunctionEntity {
	props := make(map[string]*registry.FunctionEntity)

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil {
			continue
		}

		if node.Type() == ast.NodeAssignmentExpression {
			left := node.ChildByFieldName("left")
			right := unwrapParens(node.ChildByFieldName("right"))
			if left != nil && left.Type() == ast.NodeMemberExpression &&
				right != nil && ast.IsFunctionLike(right.Type()) {
				if path, ok := staticMemberPath(unit, left); ok {
					if target := reg.ByNode(right); target != nil {
						if _, seen := props[path]; seen {
							props[path] = nil
						} else {
							props[path] = target
						}
					}
				}
			}
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			stack = append(stack, node.Child(i))
		}
	}
	return props
}

// staticMemberPath renders a member expression as its literal path text
// when it is a plain identifier/property chain. Computed access, calls,
// and anything else report false.
func staticMemberPath(unit *ast.SourceUnit, node *sitter.Node) (string, bool) {
	switch node.Type() {
	case ast.NodeIdentifier, ast.NodeThis:
		return unit.Text(node), true
	case ast.NodeMemberExpression:
		object := node.ChildByFieldName("object")
		property := node.ChildByFieldName("property")
		if object == nil || property == nil || property.Type() != ast.NodePropertyIdentifier {
			return "", false
		}
		base, ok := staticMemberPath(unit, object)
		if !ok {
			return "", false
		}
		return base + "." + unit.Text(property), true
	default:
		return "", false
	}
}

// unwrapParens drills through parenthesized expressions.
func unwrapParens(node *sitter.Node) *sitter.Node {
	for node != nil && node.Type() == ast.NodeParenthesizedExpr {
		inner := node.NamedChild(0)
		if inner == nil {
			return node
		}
		node = inner
	}
	return node
}
