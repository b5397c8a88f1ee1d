// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package xref resolves identifier uses to function declarations under
// lexical scoping and builds the cross-reference graph between
// functions. Statically unresolvable sites are recorded as explicit
// unknown-dynamic edges, never guessed.
package xref

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/untangle/services/rewrite/ast"
	"github.com/AleutianAI/untangle/services/rewrite/registry"
)

// EdgeKind classifies the use-site context of a reference.
type EdgeKind int

const (
	// EdgeCall is a call-expression callee.
	EdgeCall EdgeKind = iota

	// EdgeAssignment is a function value on the right-hand side of an
	// assignment or variable initializer.
	EdgeAssignment

	// EdgeExport is an export clause or default-export reference.
	EdgeExport

	// EdgePropertyValue is a function value of an object property.
	EdgePropertyValue

	// EdgeUnknownDynamic is a callee that cannot be statically
	// resolved: member or computed access, eval-style invocation, or
	// an unbound name.
	EdgeUnknownDynamic
)

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	switch k {
	case EdgeCall:
		return "call"
	case EdgeAssignment:
		return "assignment"
	case EdgeExport:
		return "export"
	case EdgePropertyValue:
		return "property-value"
	case EdgeUnknownDynamic:
		return "unknown-dynamic"
	default:
		return "unknown"
	}
}

// Edge is one directed reference from a use site to a target function.
//
// Edges are created once by the resolver and immutable afterward,
// except Name, which the rename pass updates when the target is
// renamed.
type Edge struct {
	// Kind is the use-site context.
	Kind EdgeKind

	// Name is the referenced name as it currently reads at the use
	// site (the property name for dynamic member calls).
	Name string

	// Loc is the use-site location.
	Loc ast.Location

	// UseNode is the identifier node at the use site when it is
	// rewritable, nil for dynamic sites.
	UseNode *sitter.Node

	// Target is the resolved function entity, nil for unknown-dynamic.
	Target *registry.FunctionEntity

	// Caller is the function entity whose body contains the use site,
	// nil at module level.
	Caller *registry.FunctionEntity
}
