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
	"fmt"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
)

// canonicalize rewrites arrows into named function expressions and
// gives anonymous function expressions their final name.
//
// Arrow rewrites touch only the bytes around the parameter list and
// body: the parameter span and the body span are kept in place, so
// rename edits inside them (call sites in default-value expressions,
// in the body) can never overlap a canonicalization edit.
// Expression-bodied arrows additionally gain a "; }" suffix after the
// body.
func canonicalize(unit *ast.SourceUnit, plans []*plan, appendEdit func(emit.Edit)) []Warning {
	var warnings []Warning

	for _, p := range plans {
		if !p.canonical {
			continue
		}
		e := p.entity

		if e.Kind == registry.KindArrow {
			if err := canonicalizeArrow(p, appendEdit); err != nil {
				warnings = append(warnings, Warning{
					Function: e.DisplayName,
					Detail:   fmt.Sprintf("canonicalization skipped: %v", err),
				})
				continue
			}
			e.Kind = registry.KindExpression
			continue
		}

		nameFunctionExpression(e, p.finalName, appendEdit)
	}
	return warnings
}

// canonicalizeArrow emits the header edits for one arrow: the stretch
// before the parameter list becomes the function keyword and final
// name, the stretch between parameters and body (the `=>` token)
// becomes the body opener. Parameter bytes are never rewritten here.
func canonicalizeArrow(p *plan, appendEdit func(emit.Edit)) error {
	e := p.entity
	body := e.BodyNode
	if body == nil {
		return fmt.Errorf("arrow has no body")
	}

	header := ""
	if e.IsAsync {
		header += "async "
	}
	header += "function " + p.finalName

	opener := " "
	if body.Type() != ast.NodeStatementBlock {
		// Expression body: wrap in { return …; }.
		opener = " { return "
	}

	if params := e.Node.ChildByFieldName("parameters"); params != nil {
		appendEdit(emit.Edit{Start: e.Node.StartByte(), End: params.StartByte(), Text: header})
		appendEdit(emit.Edit{Start: params.EndByte(), End: body.StartByte(), Text: opener})
	} else if param := e.Node.ChildByFieldName("parameter"); param != nil {
		// Bare single-identifier form gains parentheses.
		appendEdit(emit.Edit{Start: e.Node.StartByte(), End: param.StartByte(), Text: header + "("})
		appendEdit(emit.Edit{Start: param.EndByte(), End: body.StartByte(), Text: ")" + opener})
	} else {
		return fmt.Errorf("arrow has no parameter list")
	}

	if body.Type() != ast.NodeStatementBlock {
		appendEdit(emit.Edit{Start: body.EndByte(), End: body.EndByte(), Text: "; }"})
	}
	return nil
}

// nameFunctionExpression inserts the final name after the function
// keyword (and generator star) of an anonymous function expression.
func nameFunctionExpression(e *registry.FunctionEntity, name string, appendEdit func(emit.Edit)) {
	at := e.Node.StartByte()
	for i := 0; i < int(e.Node.ChildCount()); i++ {
		child := e.Node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "function", "*", ast.NodeAsync:
			at = child.EndByte()
		case ast.NodeFormalParameters:
			appendEdit(emit.Edit{Start: at, End: at, Text: " " + name})
			return
		}
	}
	appendEdit(emit.Edit{Start: at, End: at, Text: " " + name})
}
