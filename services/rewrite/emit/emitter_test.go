// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package emit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
)

func TestApplyNoEditsCopiesInput(t *testing.T) {
	content := []byte("function f() {}\n")
	out, err := Apply(content, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(out) != string(content) {
		t.Errorf("output = %q, want unchanged input", out)
	}
	// Must be a copy, not an alias.
	out[0] = 'X'
	if content[0] == 'X' {
		t.Error("Apply returned the input slice instead of a copy")
	}
}

func TestApplyReplaceAndInsert(t *testing.T) {
	content := []byte("const x = old();")
	edits := []Edit{
		{Start: 10, End: 13, Text: "replacement"}, // old -> replacement
		{Start: 16, End: 16, Text: " // tail"},    // pure insertion at EOF
	}
	out, err := Apply(content, edits)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := "const x = replacement(); // tail"
	if string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestApplyUntouchedRegionsIdentical(t *testing.T) {
	content := []byte("aaa bbb ccc ddd")
	out, err := Apply(content, []Edit{{Start: 4, End: 7, Text: "BBB"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "aaa ") || !strings.HasSuffix(string(out), " ccc ddd") {
		t.Errorf("untouched regions changed: %q", out)
	}
}

func TestApplySameOffsetOrderedBySeq(t *testing.T) {
	content := []byte("x")
	edits := []Edit{
		{Start: 0, End: 0, Text: "second;", Seq: 2},
		{Start: 0, End: 0, Text: "first;", Seq: 1},
	}
	out, err := Apply(content, edits)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(out) != "first;second;x" {
		t.Errorf("output = %q, want sequence order preserved", out)
	}
}

func TestApplyRejectsOverlap(t *testing.T) {
	content := []byte("0123456789")
	edits := []Edit{
		{Start: 2, End: 6, Text: "A"},
		{Start: 4, End: 8, Text: "B"},
	}
	if _, err := Apply(content, edits); err == nil {
		t.Error("overlapping edits accepted")
	}
}

func TestApplyRejectsOutOfBounds(t *testing.T) {
	content := []byte("short")
	if _, err := Apply(content, []Edit{{Start: 2, End: 99, Text: "A"}}); err == nil {
		t.Error("out-of-bounds edit accepted")
	}
	if _, err := Apply(content, []Edit{{Start: 4, End: 2, Text: "A"}}); err == nil {
		t.Error("inverted span accepted")
	}
}

func TestEmitVerifiesSyntax(t *testing.T) {
	parser := ast.NewParser()
	unit, err := parser.Parse(context.Background(), []byte("function f() { return 1; }\n"), "test.js")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Close()

	em := NewEmitter(parser)

	// A rename-shaped edit keeps the output valid.
	out, err := em.Emit(context.Background(), unit, []Edit{{Start: 9, End: 10, Text: "fn_0"}})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if !strings.Contains(string(out), "function fn_0()") {
		t.Errorf("output = %q, want renamed declaration", out)
	}

	// Deleting the brace breaks the program; the emitter must refuse.
	_, err = em.Emit(context.Background(), unit, []Edit{{Start: 13, End: 14, Text: ""}})
	var emitErr *EmissionError
	if !errors.As(err, &emitErr) {
		t.Fatalf("err = %v, want *EmissionError", err)
	}
	if emitErr.Line < 1 {
		t.Errorf("emission error line = %d, want positive", emitErr.Line)
	}
}

func TestEmitRejectsOverlapBeforeParsing(t *testing.T) {
	parser := ast.NewParser()
	unit, err := parser.Parse(context.Background(), []byte("let a = 1;"), "test.js")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Close()

	edits := []Edit{
		{Start: 0, End: 5, Text: "x"},
		{Start: 3, End: 8, Text: "y"},
	}
	_, err = NewEmitter(parser).Emit(context.Background(), unit, edits)
	var emitErr *EmissionError
	if !errors.As(err, &emitErr) {
		t.Fatalf("err = %v, want *EmissionError", err)
	}
}
