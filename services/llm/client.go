// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the AI suggestion collaborator: a chat client
// over the OpenAI REST API (no SDK) and the request/response shaping
// for rename, description, and line-comment suggestions.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Message is a single message in a conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// GenerationParams controls generation behavior. Nil fields use
// provider defaults.
type GenerationParams struct {
	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float32

	// MaxTokens caps the response length.
	MaxTokens *int
}

// ChatClient is the minimal chat-completion capability the suggester
// builds on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends a conversation and returns the assistant's reply.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// StatusError is a non-200 provider response.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Body is the response body, truncated for logging.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: provider returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether another attempt can succeed: rate limits
// and server errors qualify, client errors do not.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// ConfigurationError reports missing credentials for a requested AI
// feature. Fatal: surfaced before any processing begins.
type ConfigurationError struct {
	// Missing names the absent configuration values.
	Missing []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llm: missing configuration: %s", strings.Join(e.Missing, ", "))
}

// Config carries the explicit credentials and settings for a provider
// client. Values are passed in by the caller, never read from the
// environment here, so the engine stays testable without env coupling.
type Config struct {
	// APIKey is the provider API key (OPENAI_API_KEY at the CLI).
	APIKey string

	// Organization is the provider organization id
	// (OPENAI_ORGANIZATION at the CLI).
	Organization string

	// Model overrides DefaultModel when set.
	Model string

	// BaseURL overrides the provider endpoint, for tests.
	BaseURL string
}

// Validate checks that both credentials are present.
//
// Outputs:
//   - error: *ConfigurationError naming every missing value, nil when
//     complete.
func (c Config) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Organization == "" {
		missing = append(missing, "OPENAI_ORGANIZATION")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}
