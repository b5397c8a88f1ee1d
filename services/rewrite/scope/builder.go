// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import (
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
)

// Builder constructs the scope tree for a SourceUnit.
//
// The builder is stateless and can be reused across units.
//
// Thread Safety: Builder is safe for concurrent use; each Build call
// operates on its own state.
type Builder struct{}

// NewBuilder creates a scope tree Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build walks the parsed tree and returns the module scope.
//
// Description:
//
//	Creates one scope per function and per block, registering every
//	binding at the scope hoisting rules place it in: function
//	declarations and `var` at the nearest function/module scope,
//	let/const/class in their immediate block, parameters and function
//	expression self-names in the function's own scope.
//
// Outputs:
//   - *Scope: The module scope owning the whole tree.
//   - error: *ast.StructuralError when a function node is missing its
//     required parameter or body children.
func (b *Builder) Build(unit *ast.SourceUnit) (*Scope, error) {
	module := newScope(KindModule, "", unit.Root, nil)
	if err := b.walk(unit, unit.Root, module, false); err != nil {
		return nil, err
	}

	slog.Debug("scope tree built",
		slog.String("path", unit.Path),
		slog.Int("module_bindings", len(module.order)),
	)
	return module, nil
}

// walk recursively builds scopes below node. bodyOfFunction marks a
// statement block that is a function body, which shares the function
// scope instead of opening a fresh block scope.
func (b *Builder) walk(unit *ast.SourceUnit, node *sitter.Node, current *Scope, bodyOfFunction bool) error {
	if node == nil {
		return nil
	}

	switch t := node.Type(); {
	case ast.IsFunctionDeclaration(t):
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			return &ast.StructuralError{Path: unit.Path, Line: int(node.StartPoint().Row) + 1, Detail: "function declaration without name"}
		}
		current.hoistTarget().Declare(&Binding{
			Name:      unit.Text(nameNode),
			Kind:      BindFunction,
			NameNode:  nameNode,
			ValueNode: node,
			DeclByte:  node.StartByte(),
		})
		return b.enterFunction(unit, node, current)

	case ast.IsFunctionExpression(t), t == ast.NodeArrowFunction, t == ast.NodeMethodDefinition:
		return b.enterFunction(unit, node, current)

	case t == ast.NodeVariableDeclaration:
		if err := b.declareVariables(unit, node, current.hoistTarget(), BindVar); err != nil {
			return err
		}
		// Recurse for initializer expressions (nested functions etc.).
		return b.walkChildren(unit, node, current)

	case t == ast.NodeLexicalDeclaration:
		if err := b.declareVariables(unit, node, current, BindLexical); err != nil {
			return err
		}
		return b.walkChildren(unit, node, current)

	case t == ast.NodeClassDeclaration:
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			current.Declare(&Binding{
				Name:      unit.Text(nameNode),
				Kind:      BindLexical,
				NameNode:  nameNode,
				ValueNode: node,
				DeclByte:  node.StartByte(),
			})
		}
		return b.walkChildren(unit, node, current)

	case t == ast.NodeStatementBlock:
		if bodyOfFunction {
			return b.walkChildren(unit, node, current)
		}
		block := newScope(KindBlock, "", node, current)
		return b.walkChildren(unit, node, block)

	case t == ast.NodeForStatement, t == ast.NodeForInStatement:
		// The for head's let/const bindings live in a scope covering
		// the whole statement, body included.
		block := newScope(KindBlock, "", node, current)
		return b.walkChildren(unit, node, block)

	case t == ast.NodeCatchClause:
		block := newScope(KindBlock, "", node, current)
		if param := node.ChildByFieldName("parameter"); param != nil {
			declarePattern(unit, param, block, BindCatch, node.StartByte())
		}
		return b.walkChildren(unit, node, block)

	default:
		return b.walkChildren(unit, node, current)
	}
}

// walkChildren recurses into every child within the current scope.
func (b *Builder) walkChildren(unit *ast.SourceUnit, node *sitter.Node, current *Scope) error {
	for i := 0; i < int(node.ChildCount()); i++ {
		if err := b.walk(unit, node.Child(i), current, false); err != nil {
			return err
		}
	}
	return nil
}

// enterFunction opens a function scope, binds the self-name and
// parameters, and walks the body inside it.
func (b *Builder) enterFunction(unit *ast.SourceUnit, node *sitter.Node, current *Scope) error {
	fn := newScope(KindFunction, functionLabel(node, unit), node, current)

	// A named function expression can refer to itself by name, but the
	// name is invisible outside its own body.
	if ast.IsFunctionExpression(node.Type()) {
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			fn.Declare(&Binding{
				Name:      unit.Text(nameNode),
				Kind:      BindSelfName,
				NameNode:  nameNode,
				ValueNode: node,
				DeclByte:  node.StartByte(),
			})
		}
	}

	params := node.ChildByFieldName("parameters")
	if params == nil {
		// Bare single-parameter arrow: x => ...
		params = node.ChildByFieldName("parameter")
	}
	if params != nil {
		declarePattern(unit, params, fn, BindParam, node.StartByte())
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return &ast.StructuralError{Path: unit.Path, Line: int(node.StartPoint().Row) + 1, Detail: "function without body"}
	}
	if body.Type() == ast.NodeStatementBlock {
		return b.walk(unit, body, fn, true)
	}
	// Expression-bodied arrow.
	return b.walk(unit, body, fn, false)
}

// declareVariables registers every declarator of a var/let/const
// statement with the given binding kind.
func (b *Builder) declareVariables(unit *ast.SourceUnit, node *sitter.Node, target *Scope, kind BindingKind) error {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || child.Type() != ast.NodeVariableDeclarator {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			return &ast.StructuralError{Path: unit.Path, Line: int(child.StartPoint().Row) + 1, Detail: "declarator without name"}
		}
		valueNode := child.ChildByFieldName("value")

		if nameNode.Type() == ast.NodeIdentifier {
			target.Declare(&Binding{
				Name:      unit.Text(nameNode),
				Kind:      kind,
				NameNode:  nameNode,
				ValueNode: valueNode,
				DeclByte:  child.StartByte(),
			})
		} else {
			// Destructuring: every identifier in the pattern binds.
			declarePattern(unit, nameNode, target, kind, child.StartByte())
		}
	}
	return nil
}

// declarePattern registers every identifier found in a binding pattern
// (formal parameters, destructuring patterns, catch parameters).
// Default-value expressions are not descended into; only the bound
// names on the pattern side count.
func declarePattern(unit *ast.SourceUnit, node *sitter.Node, target *Scope, kind BindingKind, declByte uint32) {
	if node == nil {
		return
	}

	switch node.Type() {
	case ast.NodeIdentifier, "shorthand_property_identifier_pattern":
		target.Declare(&Binding{
			Name:     unit.Text(node),
			Kind:     kind,
			NameNode: node,
			DeclByte: declByte,
		})
		return

	case ast.NodeAssignmentPattern:
		// param = default — only the left side binds.
		declarePattern(unit, node.ChildByFieldName("left"), target, kind, declByte)
		return

	case "pair_pattern":
		// { key: binding } — only the value side binds.
		declarePattern(unit, node.ChildByFieldName("value"), target, kind, declByte)
		return

	case ast.NodeMemberExpression, ast.NodeSubscriptExpression:
		// Assignment targets like obj.x in patterns bind nothing.
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		declarePattern(unit, node.Child(i), target, kind, declByte)
	}
}
