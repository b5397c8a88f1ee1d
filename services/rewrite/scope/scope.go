// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scope builds the lexical scope tree for one parsed source
// unit, with JavaScript hoisting applied: function declarations and
// `var` bindings register at the nearest enclosing function or module
// scope, block-scoped bindings only in their immediate block.
package scope

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
)

// Kind classifies a lexical binding context.
type Kind int

const (
	// KindModule is the top-level program scope.
	KindModule Kind = iota

	// KindFunction covers a function's parameters and body.
	KindFunction

	// KindBlock is a statement block, for-statement head, or catch clause.
	KindBlock
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindFunction:
		return "function"
	case KindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// BindingKind classifies how a name was introduced.
type BindingKind int

const (
	// BindVar is a `var` declaration (hoisted to function scope).
	BindVar BindingKind = iota

	// BindLexical is a `let`, `const`, or class declaration.
	BindLexical

	// BindFunction is a hoisted function declaration.
	BindFunction

	// BindParam is a formal parameter.
	BindParam

	// BindSelfName is a function expression's own name, visible only
	// inside its body.
	BindSelfName

	// BindCatch is a catch clause parameter.
	BindCatch
)

// Binding is one name introduced into a scope.
type Binding struct {
	// Name is the declared identifier text.
	Name string

	// Kind is how the name was introduced.
	Kind BindingKind

	// NameNode is the declaring identifier node.
	NameNode *sitter.Node

	// ValueNode is the initializer when the binding carries one
	// (function declaration node, variable initializer). May be nil.
	ValueNode *sitter.Node

	// Scope is the scope the binding registered in.
	Scope *Scope

	// DeclByte is the byte offset of the declaration, used to enforce
	// that block-scoped names are not visible before their
	// declaration point.
	DeclByte uint32
}

// Hoisted reports whether the binding is visible throughout its scope
// regardless of textual position.
func (b *Binding) Hoisted() bool {
	return b.Kind == BindVar || b.Kind == BindFunction || b.Kind == BindParam || b.Kind == BindSelfName
}

// Scope is one lexical binding context.
//
// Ownership flows downward: a Scope owns its children and bindings.
// Parent is a weak back-reference used only for outward lookup during
// resolution, never for lifetime decisions.
type Scope struct {
	// Kind is the scope kind.
	Kind Kind

	// Label names the scope for path-qualified display names. Module
	// scope is "", function scopes carry the function's name or "".
	Label string

	// Node is the CST node that opened the scope.
	Node *sitter.Node

	// Parent is the enclosing scope, nil for the module scope.
	Parent *Scope

	// Children are the nested scopes in source order.
	Children []*Scope

	bindings map[string]*Binding
	order    []string
}

func newScope(kind Kind, label string, node *sitter.Node, parent *Scope) *Scope {
	s := &Scope{
		Kind:     kind,
		Label:    label,
		Node:     node,
		Parent:   parent,
		bindings: make(map[string]*Binding),
	}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	}
	return s
}

// Declare registers a binding in this scope. A redeclaration of the
// same name keeps the earliest entry, matching hoisting semantics
// where the first registration wins for lookup purposes.
func (s *Scope) Declare(b *Binding) {
	b.Scope = s
	if _, exists := s.bindings[b.Name]; !exists {
		s.bindings[b.Name] = b
		s.order = append(s.order, b.Name)
	}
}

// Binding returns the binding declared directly in this scope, or nil.
func (s *Scope) Binding(name string) *Binding {
	return s.bindings[name]
}

// Names returns the declared names in declaration order.
func (s *Scope) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Path returns the dot-joined labels from the module scope down to
// this scope, skipping unlabeled segments. Used to disambiguate
// duplicate function names across scopes.
func (s *Scope) Path() string {
	var segs []string
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Label != "" {
			segs = append(segs, cur.Label)
		}
	}
	// reverse
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	path := ""
	for i, seg := range segs {
		if i > 0 {
			path += "."
		}
		path += seg
	}
	return path
}

// hoistTarget walks outward to the nearest function or module scope,
// where `var` and function declarations register.
func (s *Scope) hoistTarget() *Scope {
	cur := s
	for cur.Kind == KindBlock && cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// Resolve finds the nearest visible binding for a name at a use site.
//
// Description:
//
//	Walks outward from this scope. Hoisted bindings always match.
//	A block-scoped binding (let/const/class) whose declaration is
//	textually after the use site ends the lookup unresolved when no
//	function boundary separates the two: the lexical binding shadows
//	the name throughout its scope, and the use sits in its temporal
//	dead zone, so it can never refer to an outer binding. Once a
//	function boundary is crossed the declaration may have executed by
//	call time, and the binding matches normally.
//
// Inputs:
//   - name: The identifier text.
//   - useByte: The byte offset of the use site.
//
// Outputs:
//   - *Binding: The winning binding, or nil when the name is unbound
//     or only reachable through a temporal dead zone.
func (s *Scope) Resolve(name string, useByte uint32) *Binding {
	crossedFunction := false
	for cur := s; cur != nil; cur = cur.Parent {
		if b := cur.bindings[name]; b != nil {
			if b.Kind == BindLexical && useByte < b.DeclByte && !crossedFunction {
				return nil
			}
			return b
		}
		if cur.Kind == KindFunction {
			crossedFunction = true
		}
	}
	return nil
}

// ScopeFor returns the innermost scope whose node span contains the
// given node. Falls back to this scope when no child contains it.
func (s *Scope) ScopeFor(node *sitter.Node) *Scope {
	start, end := node.StartByte(), node.EndByte()
	cur := s
	for {
		descended := false
		for _, child := range cur.Children {
			if child.Node.StartByte() <= start && end <= child.Node.EndByte() {
				cur = child
				descended = true
				break
			}
		}
		if !descended {
			return cur
		}
	}
}

// Module walks up to the root module scope.
func (s *Scope) Module() *Scope {
	cur := s
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// EnclosingFunction returns the nearest enclosing function scope, or
// nil when the position is at module level.
func (s *Scope) EnclosingFunction() *Scope {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Kind == KindFunction {
			return cur
		}
	}
	return nil
}

// functionLabel extracts a display label for a function scope: the
// declared name, the expression's self-name, or the method key.
func functionLabel(node *sitter.Node, unit *ast.SourceUnit) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return unit.Text(name)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		t := child.Type()
		if t == ast.NodeIdentifier || t == ast.NodePropertyIdentifier || t == ast.NodePrivatePropertyIdent {
			return unit.Text(child)
		}
		if t == ast.NodeFormalParameters || t == ast.NodeStatementBlock {
			break
		}
	}
	return ""
}
