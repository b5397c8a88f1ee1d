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
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/xref"
)

// rename rewrites pre-existing identifiers to the final names decided
// by the naming phase: the declaration or self name, the enclosing
// binding, and every resolvable inbound use site. Unknown-dynamic edges
// carry no use node and are untouched.
//
// Canonicalization inserts final names as fresh text, so this pass only
// ever touches identifiers that existed in the original source — the
// two passes write disjoint spans.
func rename(unit *ast.SourceUnit, graph *xref.Graph, plans []*plan, appendEdit func(emit.Edit)) {
	type span struct{ start, end uint32 }
	touched := make(map[span]bool)

	replace := func(node *sitter.Node, text string) {
		if node == nil {
			return
		}
		key := span{node.StartByte(), node.EndByte()}
		if touched[key] {
			return
		}
		touched[key] = true
		appendEdit(emit.Edit{Start: key.start, End: key.end, Text: text})
	}

	for _, p := range plans {
		if !p.rename || p.finalName == "" {
			continue
		}
		e := p.entity

		replace(e.NameNode, p.finalName)
		replace(e.BindingNameNode, p.finalName)

		for _, edge := range graph.Inbound(e.ID) {
			if edge.Kind == xref.EdgeUnknownDynamic {
				continue
			}
			replace(edge.UseNode, p.finalName)
		}
	}
}
