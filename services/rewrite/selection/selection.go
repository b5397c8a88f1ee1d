// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selection maps user-supplied name and line tokens to the
// subset of registered functions eligible for mutation.
package selection

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/untangle/services/rewrite/registry"
)

// Warning records a selector token that matched nothing. Non-fatal:
// the run continues without it.
type Warning struct {
	// Token is the original selector text.
	Token string

	// Reason explains why it did not select anything.
	Reason string
}

// String formats the warning for user-facing output.
func (w Warning) String() string {
	return fmt.Sprintf("selector %q: %s", w.Token, w.Reason)
}

// Set is the resolved selection: the entity ids chosen for mutation
// plus warnings for tokens that matched nothing. Consumed read-only by
// the transformation engine.
type Set struct {
	ids      map[string]struct{}
	all      bool
	Warnings []Warning
}

// Contains reports whether the entity is selected.
func (s *Set) Contains(e *registry.FunctionEntity) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[e.ID]
	return ok
}

// Len returns the number of explicitly selected entities;
// 0 with All() true means everything.
func (s *Set) Len() int {
	return len(s.ids)
}

// All reports whether the selection covers the full registry.
func (s *Set) All() bool {
	return s.all
}

// Resolve maps an ordered token list to a Set.
//
// Description:
//
//	Each token is a function name or a 1-based line number. A name
//	token selects every entity whose original name matches exactly
//	(falling back to display name for entities without an original
//	name); all matches are selected, never a silent single pick. A
//	line token selects the entity whose span contains that line,
//	innermost (smallest span) winning when several are nested on the
//	same line. Unmatched tokens become Warnings and are skipped. An
//	empty token list selects the entire registry.
func Resolve(reg *registry.Registry, tokens []string) *Set {
	set := &Set{ids: make(map[string]struct{})}
	if len(tokens) == 0 {
		set.all = true
		return set
	}

	for _, token := range tokens {
		if line, err := strconv.Atoi(token); err == nil {
			resolveLine(reg, set, token, line)
			continue
		}
		resolveName(reg, set, token)
	}

	slog.Debug("selection resolved",
		slog.Int("tokens", len(tokens)),
		slog.Int("selected", len(set.ids)),
		slog.Int("warnings", len(set.Warnings)),
	)
	return set
}

// resolveName selects every entity matching the name token.
func resolveName(reg *registry.Registry, set *Set, token string) {
	matched := false
	for _, e := range reg.Entities {
		switch {
		case e.OriginalName != "":
			if e.OriginalName == token {
				set.ids[e.ID] = struct{}{}
				matched = true
			}
		case e.DisplayName == token || e.ID == token:
			set.ids[e.ID] = struct{}{}
			matched = true
		}
	}
	if !matched {
		set.Warnings = append(set.Warnings, Warning{Token: token, Reason: "no function with that name"})
	}
}

// resolveLine selects the innermost entity whose span contains the
// 1-based line.
func resolveLine(reg *registry.Registry, set *Set, token string, line int) {
	if line < 1 {
		set.Warnings = append(set.Warnings, Warning{Token: token, Reason: "line numbers are 1-based"})
		return
	}

	var best *registry.FunctionEntity
	var bestLen uint32
	for _, e := range reg.Entities {
		if !e.Loc.Contains(line) {
			continue
		}
		if best == nil || e.Loc.ByteLen() < bestLen {
			best = e
			bestLen = e.Loc.ByteLen()
		}
	}

	if best == nil {
		set.Warnings = append(set.Warnings, Warning{Token: token, Reason: "no function spans that line"})
		return
	}
	set.ids[best.ID] = struct{}{}
}
