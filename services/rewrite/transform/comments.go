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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/emit"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
	"github.com/AleutianAI/untangle/services/rewrite/selection"
	"github.com/AleutianAI/untangle/services/rewrite/xref"
)

// xrefFoldOpen is the sentinel marking a function as already annotated.
// Rendered inside every injected header block (even when the caller
// list is empty) so re-runs can detect processed functions, and matched
// against leading comments before inserting.
const xrefFoldOpen = "xrefs {{{"

// descriptionWidth is the wrap column for AI header descriptions.
const descriptionWidth = 72

// comment injects the header annotation block (xref fold list plus
// optional AI description) and AI line comments for selected entities.
func (t *Engine) comment(unit *ast.SourceUnit, graph *xref.Graph, sel *selection.Set, plans []*plan, appendEdit func(emit.Edit)) []Warning {
	if !t.options.Xrefs && !t.options.Describe && !t.options.LineComments {
		return nil
	}

	var warnings []Warning
	for _, p := range plans {
		e := p.entity
		if !sel.Contains(e) {
			continue
		}

		anchor := commentAnchor(e.Node)
		if hasXrefSentinel(unit, anchor) {
			continue
		}

		if t.options.Xrefs || p.description != "" {
			indent := lineIndent(unit.Content, anchor.StartByte())
			block := renderHeader(indent, p.description, graph, e)
			appendEdit(emit.Edit{
				Start: anchor.StartByte(),
				End:   anchor.StartByte(),
				Text:  block + "\n" + indent,
			})
		}

		warnings = append(warnings, insertLineComments(unit, p, appendEdit)...)
	}
	return warnings
}

// renderHeader builds the block comment placed above the function: the
// wrapped description (when present) followed by the xrefs fold list.
func renderHeader(indent, description string, graph *xref.Graph, e *registry.FunctionEntity) string {
	var lines []string
	if description != "" {
		lines = append(lines, wrapText(description, descriptionWidth)...)
		lines = append(lines, "")
	}

	lines = append(lines, xrefFoldOpen)
	names, counts := callerCounts(graph, e)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %s: %d", name, counts[name]))
	}
	if graph.HasUntraceableCallers(e) {
		lines = append(lines, "  dynamic/unknown: has untraceable callers")
	}
	lines = append(lines, "}}}")

	var b strings.Builder
	b.WriteString("/*")
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(indent)
		b.WriteString(" *")
		if line != "" {
			b.WriteString(" ")
			b.WriteString(line)
		}
	}
	b.WriteString("\n")
	b.WriteString(indent)
	b.WriteString(" */")
	return b.String()
}

// insertLineComments places each AI line comment on its own line above
// the target, matching the target line's indentation. Comments aimed at
// the function's first line or outside its span are dropped with a
// warning.
func insertLineComments(unit *ast.SourceUnit, p *plan, appendEdit func(emit.Edit)) []Warning {
	if len(p.lineComments) == 0 {
		return nil
	}
	e := p.entity

	var warnings []Warning
	for _, lc := range p.lineComments {
		if lc.Line <= 1 {
			continue
		}
		absLine := e.Loc.StartLine + lc.Line - 1
		offset, ok := lineStartOffset(unit.Content, absLine)
		if !ok || offset <= e.Node.StartByte() || offset >= e.Node.EndByte() {
			warnings = append(warnings, Warning{
				Function: e.DisplayName,
				Detail:   fmt.Sprintf("line comment for out-of-range line %d dropped", lc.Line),
			})
			continue
		}
		indent := indentAt(unit.Content, offset)
		appendEdit(emit.Edit{
			Start: offset,
			End:   offset,
			Text:  indent + "// " + lc.Text + "\n",
		})
	}
	return warnings
}

// commentAnchor climbs from the function node to the statement the
// annotation belongs above: through parentheses, declarators, variable
// statements, assignments, and export wrappers. Stops at anything else
// (object pairs, call arguments), where the comment sits inline before
// the value.
func commentAnchor(node *sitter.Node) *sitter.Node {
	anchor := node
	for parent := anchor.Parent(); parent != nil; parent = anchor.Parent() {
		switch parent.Type() {
		case ast.NodeParenthesizedExpr, ast.NodeVariableDeclarator,
			ast.NodeLexicalDeclaration, ast.NodeVariableDeclaration,
			ast.NodeAssignmentExpression, ast.NodeExpressionStmt,
			ast.NodeExportStatement:
			anchor = parent
		default:
			return anchor
		}
	}
	return anchor
}

// hasXrefSentinel reports whether a leading comment already carries the
// fold marker.
func hasXrefSentinel(unit *ast.SourceUnit, anchor *sitter.Node) bool {
	for prev := anchor.PrevNamedSibling(); prev != nil && prev.Type() == ast.NodeComment; prev = prev.PrevNamedSibling() {
		if strings.Contains(unit.Text(prev), xrefFoldOpen) {
			return true
		}
	}
	return false
}

// lineIndent returns the whitespace prefix of the line containing the
// offset, truncated at the offset itself.
func lineIndent(content []byte, offset uint32) string {
	start := offset
	for start > 0 && content[start-1] != '\n' {
		start--
	}
	end := start
	for end < offset && (content[end] == ' ' || content[end] == '\t') {
		end++
	}
	return string(content[start:end])
}

// indentAt returns the whitespace prefix of the line starting at
// lineStart.
func indentAt(content []byte, lineStart uint32) string {
	end := lineStart
	for end < uint32(len(content)) && (content[end] == ' ' || content[end] == '\t') {
		end++
	}
	return string(content[lineStart:end])
}

// lineStartOffset returns the byte offset of the 1-based line's first
// byte.
func lineStartOffset(content []byte, line int) (uint32, bool) {
	if line < 1 {
		return 0, false
	}
	current := 1
	for i := 0; i < len(content); i++ {
		if current == line {
			return uint32(i), true
		}
		if content[i] == '\n' {
			current++
		}
	}
	if current == line {
		return uint32(len(content)), true
	}
	return 0, false
}

// wrapText greedily wraps prose at the given column.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
			continue
		}
		current += " " + word
	}
	return append(lines, current)
}
