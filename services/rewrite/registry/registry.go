// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry enumerates every function-like construct in a
// source unit and assigns each a synthetic identity that is stable and
// deterministic across runs on identical input.
package registry

import (
	"fmt"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/scope"
)

// EntityKind classifies a function-like construct.
type EntityKind int

const (
	// KindDeclaration is a hoisted function declaration.
	KindDeclaration EntityKind = iota

	// KindExpression is a (named or anonymous) function expression.
	KindExpression

	// KindArrow is an arrow function.
	KindArrow

	// KindMethod is an object or class method definition.
	KindMethod
)

// String returns the string representation of the EntityKind.
func (k EntityKind) String() string {
	switch k {
	case KindDeclaration:
		return "declaration"
	case KindExpression:
		return "expression"
	case KindArrow:
		return "arrow"
	case KindMethod:
		return "method"
	default:
		return "unknown"
	}
}

// FunctionEntity is one registered function-like construct.
//
// Entities are created during enumeration and mutated only by the
// transformation engine (DisplayName, Kind after canonicalization);
// they are never destroyed mid-run.
type FunctionEntity struct {
	// ID is the synthetic identifier, fn_<ordinal> in stable pre-order
	// traversal order. Unique within a run, identical across runs on
	// identical input.
	ID string

	// Ordinal is the 0-based pre-order position among all entities.
	Ordinal int

	// OriginalName is the source-level name: declaration name,
	// expression self-name, or method key. Empty when anonymous.
	OriginalName string

	// DisplayName is the name shown in annotations and logs. Starts as
	// the disambiguated original name or a contextual label, and is
	// replaced by the rename pass for selected entities.
	DisplayName string

	// ContextLabel is the label derived from the nearest enclosing
	// binding for anonymous entities (variable name, assignment
	// target, property key). Empty when none applies.
	ContextLabel string

	// Kind is the construct kind. Canonicalization flips arrows to
	// KindExpression.
	Kind EntityKind

	// Node is the function-like CST node.
	Node *sitter.Node

	// NameNode is the declaring identifier / property key node, nil
	// when anonymous.
	NameNode *sitter.Node

	// BindingNameNode is the enclosing variable declarator or
	// assignment-target identifier when the entity's value is bound to
	// one, nil otherwise. The rename pass rewrites this identifier.
	BindingNameNode *sitter.Node

	// BodyNode is the function body (statement block or arrow
	// expression body).
	BodyNode *sitter.Node

	// Loc is the source span of the whole construct.
	Loc ast.Location

	// Scope is the scope enclosing the construct (not the function's
	// own inner scope).
	Scope *scope.Scope

	// UsesThisOrArguments reports whether the body references `this`,
	// `arguments`, or `super` without an intervening non-arrow
	// function boundary. Canonicalization must skip arrows with this
	// flag set.
	UsesThisOrArguments bool

	// IsAsync and IsGenerator preserve the async/generator modifiers.
	IsAsync     bool
	IsGenerator bool
}

// Anonymous reports whether the entity had no source-level name.
func (e *FunctionEntity) Anonymous() bool {
	return e.OriginalName == ""
}

type spanKey struct {
	start uint32
	end   uint32
}

// Registry holds the enumerated entities of one run.
type Registry struct {
	// Entities in stable pre-order (source) order.
	Entities []*FunctionEntity

	byID   map[string]*FunctionEntity
	bySpan map[spanKey]*FunctionEntity

	// allNames is every identifier-like token text in the unit. New
	// names are checked against it so a rename can never collide with
	// an existing identifier.
	allNames map[string]struct{}
}

// ByID returns the entity with the given synthetic id, or nil.
func (r *Registry) ByID(id string) *FunctionEntity {
	return r.byID[id]
}

// ByNode returns the entity registered for a function-like node, or
// nil. Nodes are keyed by byte span; two function nodes can never
// share an identical span.
func (r *Registry) ByNode(node *sitter.Node) *FunctionEntity {
	return r.bySpan[spanKey{node.StartByte(), node.EndByte()}]
}

// NameTaken reports whether the name collides with any identifier in
// the unit or any name reserved so far this run.
func (r *Registry) NameTaken(name string) bool {
	_, ok := r.allNames[name]
	return ok
}

// ReserveName records a newly introduced name so later uniquification
// sees it.
func (r *Registry) ReserveName(name string) {
	r.allNames[name] = struct{}{}
}

// UniqueName returns base, or base with the smallest numeric suffix
// that avoids every identifier in the unit, and reserves the result.
// This is the same discipline the rest of the engine relies on for
// collision-free renames.
func (r *Registry) UniqueName(base string) string {
	name := base
	for n := 2; r.NameTaken(name); n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	r.ReserveName(name)
	return name
}

// Enumerate walks the tree once in source order and registers every
// function-like node.
//
// Description:
//
//	Assigns fn_<ordinal> ids from a stable pre-order traversal,
//	extracts original names and async/generator modifiers, derives
//	contextual labels for anonymous entities, computes the
//	UsesThisOrArguments flag, and resolves each entity's enclosing
//	scope. Read-only over the tree.
//
// Outputs:
//   - *Registry: The populated registry. Never nil on success.
func Enumerate(unit *ast.SourceUnit, module *scope.Scope) *Registry {
	reg := &Registry{
		byID:     make(map[string]*FunctionEntity),
		bySpan:   make(map[spanKey]*FunctionEntity),
		allNames: make(map[string]struct{}),
	}

	collectNames(unit, unit.Root, reg.allNames)
	enumerate(unit, unit.Root, module, reg)
	assignDisplayNames(reg)

	slog.Debug("function registry populated",
		slog.String("path", unit.Path),
		slog.Int("entities", len(reg.Entities)),
	)
	return reg
}

// enumerate performs the pre-order registration walk. Only named nodes
// can register: the `function` keyword token inside a declaration or
// expression shares the "function" type string with the expression node
// itself, and must never become an entity.
func enumerate(unit *ast.SourceUnit, node *sitter.Node, module *scope.Scope, reg *Registry) {
	if node == nil {
		return
	}

	if node.IsNamed() && ast.IsFunctionLike(node.Type()) {
		register(unit, node, module, reg)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		enumerate(unit, node.Child(i), module, reg)
	}
}

// register creates and stores the FunctionEntity for one node.
func register(unit *ast.SourceUnit, node *sitter.Node, module *scope.Scope, reg *Registry) {
	ordinal := len(reg.Entities)
	entity := &FunctionEntity{
		ID:       fmt.Sprintf("fn_%d", ordinal),
		Ordinal:  ordinal,
		Node:     node,
		BodyNode: node.ChildByFieldName("body"),
		Loc:      ast.LocationOf(node),
		Scope:    enclosingScope(module, node),
	}

	switch t := node.Type(); {
	case ast.IsFunctionDeclaration(t):
		entity.Kind = KindDeclaration
		entity.IsGenerator = t == ast.NodeGeneratorFunctionDecl
	case t == ast.NodeArrowFunction:
		entity.Kind = KindArrow
	case t == ast.NodeMethodDefinition:
		entity.Kind = KindMethod
	default:
		entity.Kind = KindExpression
		entity.IsGenerator = t == ast.NodeGeneratorFunction
	}

	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		entity.NameNode = nameNode
		entity.OriginalName = unit.Text(nameNode)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case ast.NodeAsync:
			entity.IsAsync = true
		case "*":
			entity.IsGenerator = true
		}
	}

	entity.ContextLabel, entity.BindingNameNode = bindingContext(unit, node)
	entity.UsesThisOrArguments = usesThisOrArguments(unit, entity.BodyNode)

	reg.Entities = append(reg.Entities, entity)
	reg.byID[entity.ID] = entity
	reg.bySpan[spanKey{node.StartByte(), node.EndByte()}] = entity
}

// enclosingScope finds the scope surrounding the function node. ScopeFor
// lands in the function's own scope (their spans coincide), so step out
// one level.
func enclosingScope(module *scope.Scope, node *sitter.Node) *scope.Scope {
	s := module.ScopeFor(node)
	if s.Node == node && s.Parent != nil {
		return s.Parent
	}
	return s
}

// bindingContext derives a contextual label for an entity from its
// nearest enclosing binding: the variable being assigned, the
// assignment target, or the object property key. Returns the label and
// the bindable identifier node when the target is a plain identifier.
func bindingContext(unit *ast.SourceUnit, node *sitter.Node) (string, *sitter.Node) {
	parent := node.Parent()
	if parent == nil {
		return "", nil
	}
	// Parenthesized expressions are transparent: const f = (function(){});
	for parent != nil && parent.Type() == ast.NodeParenthesizedExpr {
		parent = parent.Parent()
	}
	if parent == nil {
		return "", nil
	}

	switch parent.Type() {
	case ast.NodeVariableDeclarator:
		nameNode := parent.ChildByFieldName("name")
		if nameNode != nil && nameNode.Type() == ast.NodeIdentifier {
			return unit.Text(nameNode), nameNode
		}

	case ast.NodeAssignmentExpression:
		left := parent.ChildByFieldName("left")
		if left == nil {
			return "", nil
		}
		if left.Type() == ast.NodeIdentifier {
			return unit.Text(left), left
		}
		if left.Type() == ast.NodeMemberExpression {
			// a.b.c = function … — label only; member targets are not
			// statically renameable.
			if prop := left.ChildByFieldName("property"); prop != nil {
				return unit.Text(prop), nil
			}
		}

	case ast.NodePair:
		if key := parent.ChildByFieldName("key"); key != nil {
			return unit.Text(key), nil
		}
	}

	return "", nil
}

// usesThisOrArguments walks the body looking for `this`, `super`, or
// an `arguments` identifier. Nested arrows are descended into (they
// share the lexical `this`); nested non-arrow functions rebind both
// and are skipped.
func usesThisOrArguments(unit *ast.SourceUnit, body *sitter.Node) bool {
	if body == nil {
		return false
	}

	stack := []*sitter.Node{body}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil {
			continue
		}

		switch node.Type() {
		case ast.NodeThis, ast.NodeSuper:
			return true
		case ast.NodeIdentifier:
			if unit.Text(node) == "arguments" {
				return true
			}
		case ast.NodeFunction, ast.NodeFunctionExpression, ast.NodeGeneratorFunction,
			ast.NodeFunctionDeclaration, ast.NodeGeneratorFunctionDecl, ast.NodeMethodDefinition:
			continue
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			stack = append(stack, node.Child(i))
		}
	}
	return false
}

// assignDisplayNames applies the naming policy: unique original names
// stay as-is, duplicates get scope-path qualification, anonymous
// entities fall back to their contextual label or the synthetic id.
func assignDisplayNames(reg *Registry) {
	counts := make(map[string]int)
	for _, e := range reg.Entities {
		if e.OriginalName != "" {
			counts[e.OriginalName]++
		}
	}

	for _, e := range reg.Entities {
		switch {
		case e.OriginalName != "" && counts[e.OriginalName] == 1:
			e.DisplayName = e.OriginalName
		case e.OriginalName != "":
			if path := e.Scope.Path(); path != "" {
				e.DisplayName = path + "." + e.OriginalName
			} else {
				e.DisplayName = e.OriginalName
			}
		case e.ContextLabel != "":
			e.DisplayName = e.ContextLabel
		default:
			e.DisplayName = fmt.Sprintf("anonymous_%d", e.Ordinal)
		}
	}
}

// collectNames gathers every identifier-like token in the unit.
func collectNames(unit *ast.SourceUnit, node *sitter.Node, names map[string]struct{}) {
	if node == nil {
		return
	}
	switch node.Type() {
	case ast.NodeIdentifier, ast.NodePropertyIdentifier,
		ast.NodePrivatePropertyIdent, ast.NodeStatementIdentifier,
		"shorthand_property_identifier", "shorthand_property_identifier_pattern":
		names[unit.Text(node)] = struct{}{}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectNames(unit, node.Child(i), names)
	}
}
