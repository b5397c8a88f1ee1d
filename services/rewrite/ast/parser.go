// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast wraps the tree-sitter JavaScript grammar behind the
// engine's Parser/Printer collaborator interface: raw source text in,
// a SourceUnit out, plus the syntax re-check the emitter runs on its
// own output.
package ast

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("rewrite.ast")

// Parse failure sentinels.
var (
	// ErrFileTooLarge is returned when the input exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("ast: file exceeds maximum size")

	// ErrInvalidContent is returned when the input is not valid UTF-8.
	ErrInvalidContent = errors.New("ast: content is not valid UTF-8")
)

// StructuralError reports a malformed input tree. It is fatal: the run
// aborts before any mutation is attempted.
type StructuralError struct {
	// Path is the source file path.
	Path string

	// Line is the 1-based line of the first syntax error, 0 if unknown.
	Line int

	// Detail describes what was malformed.
	Detail string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ast: structural error in %s at line %d: %s", e.Path, e.Line, e.Detail)
	}
	return fmt.Sprintf("ast: structural error in %s: %s", e.Path, e.Detail)
}

// Location is a source span in both line/column and byte terms.
// Lines are 1-based, columns 0-based, matching tree-sitter points.
type Location struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartCol  int `json:"start_col"`
	EndCol    int `json:"end_col"`

	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
}

// LocationOf builds a Location from a tree-sitter node.
func LocationOf(node *sitter.Node) Location {
	return Location{
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		StartCol:  int(node.StartPoint().Column),
		EndCol:    int(node.EndPoint().Column),
		StartByte: node.StartByte(),
		EndByte:   node.EndByte(),
	}
}

// Contains reports whether the 1-based line falls inside the span.
func (l Location) Contains(line int) bool {
	return line >= l.StartLine && line <= l.EndLine
}

// ByteLen returns the span length in bytes.
func (l Location) ByteLen() uint32 {
	return l.EndByte - l.StartByte
}

// SourceUnit is one parsed source file: the original bytes plus the
// owned tree-sitter tree. It is immutable for the life of a run;
// transformation passes record text edits against Content instead of
// mutating the tree.
//
// Ownership: the SourceUnit owns the tree. Call Close when done.
type SourceUnit struct {
	// Path is the input path, or "<stdin>".
	Path string

	// Content is the original source bytes. Never modified.
	Content []byte

	// Root is the program node.
	Root *sitter.Node

	tree *sitter.Tree
}

// Text returns the source text covered by the node.
func (u *SourceUnit) Text(node *sitter.Node) string {
	return string(u.Content[node.StartByte():node.EndByte()])
}

// Close releases the underlying tree-sitter tree.
func (u *SourceUnit) Close() {
	if u.tree != nil {
		u.tree.Close()
		u.tree = nil
	}
}

// Parser parses JavaScript source text into SourceUnits.
//
// Description:
//
//	Parser is the engine's concrete Parser collaborator. It uses the
//	tree-sitter JavaScript grammar and rejects malformed input with a
//	StructuralError before any downstream pass runs.
//
// Thread Safety:
//
//	Parser is safe for concurrent use. Each Parse call creates its own
//	tree-sitter parser instance.
type Parser struct {
	options ParserOptions
}

// ParserOptions configures Parser behavior.
type ParserOptions struct {
	// MaxFileSize is the maximum input size in bytes.
	// Inputs larger than this return ErrFileTooLarge.
	// Default: 10MB
	MaxFileSize int
}

// DefaultParserOptions returns the default options.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		MaxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// ParserOption is a functional option for configuring Parser.
type ParserOption func(*ParserOptions)

// WithMaxFileSize sets the maximum input size in bytes.
func WithMaxFileSize(size int) ParserOption {
	return func(o *ParserOptions) {
		o.MaxFileSize = size
	}
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...ParserOption) *Parser {
	options := DefaultParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Parser{options: options}
}

// Parse parses JavaScript source into a SourceUnit.
//
// Description:
//
//	Validates size and encoding, parses with tree-sitter, and rejects
//	trees containing syntax errors or missing nodes. A rejected input
//	never reaches the analysis passes (fatal by design).
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw JavaScript source bytes. Must be valid UTF-8.
//   - path: Source path used in errors and logs.
//
// Outputs:
//   - *SourceUnit: The parsed unit. Never nil on success.
//   - error: ErrFileTooLarge, ErrInvalidContent, *StructuralError, or a
//     wrapped tree-sitter failure.
//
// Thread Safety: This method is safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, content []byte, path string) (*SourceUnit, error) {
	ctx, span := tracer.Start(ctx, "Parser.Parse")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ast: parse canceled before start: %w", err)
	}

	if len(content) > p.options.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("ast: tree-sitter parse failed: %w", err)
	}

	root := tree.RootNode()
	if root == nil || root.Type() != NodeProgram {
		tree.Close()
		return nil, &StructuralError{Path: path, Detail: "no program node"}
	}
	if root.HasError() {
		line, detail := firstSyntaxError(root, content)
		tree.Close()
		return nil, &StructuralError{Path: path, Line: line, Detail: detail}
	}

	span.SetAttributes(
		attribute.String("path", path),
		attribute.Int("bytes", len(content)),
	)

	return &SourceUnit{
		Path:    path,
		Content: content,
		Root:    root,
		tree:    tree,
	}, nil
}

// CheckSyntax re-parses serialized output and reports whether it is
// syntactically valid. The emitter uses this as its final gate.
//
// Outputs:
//   - int: 1-based line of the first syntax error, 0 if valid.
//   - string: description of the error, "" if valid.
//   - error: a non-nil error only when parsing itself fails.
func (p *Parser) CheckSyntax(ctx context.Context, content []byte) (int, string, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return 0, "", fmt.Errorf("ast: syntax check parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return 1, "no program node", nil
	}
	if root.HasError() {
		line, detail := firstSyntaxError(root, content)
		return line, detail, nil
	}
	return 0, "", nil
}

// firstSyntaxError locates the first ERROR or missing node in a tree
// that reported HasError.
func firstSyntaxError(root *sitter.Node, content []byte) (int, string) {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil {
			continue
		}

		if node.Type() == NodeError {
			text := string(content[node.StartByte():node.EndByte()])
			if len(text) > 40 {
				text = text[:40]
			}
			return int(node.StartPoint().Row) + 1, fmt.Sprintf("syntax error near %q", text)
		}
		if node.IsMissing() {
			return int(node.StartPoint().Row) + 1, fmt.Sprintf("missing %s", node.Type())
		}

		if !node.HasError() {
			continue
		}
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.Child(i))
		}
	}
	return 0, "malformed tree"
}
