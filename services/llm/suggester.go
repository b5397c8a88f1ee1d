// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Task selects what the collaborator is asked to produce.
type Task int

const (
	// TaskRename asks for a better function name.
	TaskRename Task = iota

	// TaskDescribe asks for a header description of the function.
	TaskDescribe

	// TaskLineComments asks for a handful of line comments.
	TaskLineComments
)

// String returns the string representation of the Task.
func (t Task) String() string {
	switch t {
	case TaskRename:
		return "rename"
	case TaskDescribe:
		return "header-description"
	case TaskLineComments:
		return "line-comments"
	default:
		return "unknown"
	}
}

// SuggestionRequest carries the context the collaborator needs for one
// function.
type SuggestionRequest struct {
	// FunctionName is the function's current display name.
	FunctionName string

	// Source is the function's source text.
	Source string

	// XrefSummary describes the function's resolved callers, for
	// grounding.
	XrefSummary string

	// Task selects the suggestion kind.
	Task Task
}

// LineComment is one suggested comment for a line inside the function,
// 1-based relative to the function's first line.
type LineComment struct {
	Line int
	Text string
}

// Suggestion failure sentinels. All are non-fatal to the run: the
// caller degrades per-function.
var (
	// ErrMalformedResponse means the model's reply did not follow the
	// expected protocol.
	ErrMalformedResponse = errors.New("llm: malformed suggestion response")

	// ErrSourceTooLarge means the function exceeds the request budget
	// and was not sent.
	ErrSourceTooLarge = errors.New("llm: function source too large for suggestion")
)

// AIServiceError wraps a suggestion failure after retries were
// exhausted.
type AIServiceError struct {
	// Function is the display name of the affected function.
	Function string

	// Task is the suggestion kind that failed.
	Task Task

	// Err is the final underlying error.
	Err error
}

// Error implements the error interface.
func (e *AIServiceError) Error() string {
	return fmt.Sprintf("llm: %s suggestion for %s failed: %v", e.Task, e.Function, e.Err)
}

// Unwrap exposes the underlying error.
func (e *AIServiceError) Unwrap() error { return e.Err }

// Suggester is the interface the transformation engine consumes.
//
// Implementations must be safe for concurrent use: the engine fans out
// one request per selected function.
type Suggester interface {
	// SuggestName proposes a replacement name for the function.
	SuggestName(ctx context.Context, req SuggestionRequest) (string, error)

	// Describe produces a short header description.
	Describe(ctx context.Context, req SuggestionRequest) (string, error)

	// LineComments produces per-line comments, lines 1-based relative
	// to the function start.
	LineComments(ctx context.Context, req SuggestionRequest) ([]LineComment, error)
}

// =============================================================================
// Chat-backed Suggester
// =============================================================================

// nameMarker precedes the suggested name in the model's reply.
const nameMarker = ">> "

// maxRequestSource caps the function source size sent per request.
const maxRequestSource = 24 * 1024

// ChatSuggester implements Suggester over any ChatClient, with
// client-side rate limiting and bounded retry.
//
// Thread Safety: ChatSuggester is safe for concurrent use.
type ChatSuggester struct {
	client  ChatClient
	limiter *rate.Limiter
	options SuggesterOptions
}

// SuggesterOptions configures ChatSuggester behavior.
type SuggesterOptions struct {
	// MaxAttempts is the bounded attempt count per request.
	// Default: 3
	MaxAttempts int

	// RequestTimeout scopes each individual attempt.
	// Default: 60s
	RequestTimeout time.Duration

	// RequestsPerSecond caps the client-side request rate.
	// Default: 2
	RequestsPerSecond float64

	// InitialBackoff is the first retry delay; it doubles per attempt.
	// Default: 1s
	InitialBackoff time.Duration
}

// DefaultSuggesterOptions returns sensible defaults.
func DefaultSuggesterOptions() SuggesterOptions {
	return SuggesterOptions{
		MaxAttempts:       3,
		RequestTimeout:    60 * time.Second,
		RequestsPerSecond: 2,
		InitialBackoff:    time.Second,
	}
}

// SuggesterOption is a functional option for configuring ChatSuggester.
type SuggesterOption func(*SuggesterOptions)

// WithMaxAttempts sets the bounded attempt count.
func WithMaxAttempts(n int) SuggesterOption {
	return func(o *SuggesterOptions) {
		o.MaxAttempts = n
	}
}

// WithRequestTimeout sets the per-attempt timeout.
func WithRequestTimeout(d time.Duration) SuggesterOption {
	return func(o *SuggesterOptions) {
		o.RequestTimeout = d
	}
}

// WithRequestsPerSecond sets the client-side rate cap.
func WithRequestsPerSecond(rps float64) SuggesterOption {
	return func(o *SuggesterOptions) {
		o.RequestsPerSecond = rps
	}
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) SuggesterOption {
	return func(o *SuggesterOptions) {
		o.InitialBackoff = d
	}
}

// NewChatSuggester creates a ChatSuggester over the given client.
func NewChatSuggester(client ChatClient, opts ...SuggesterOption) *ChatSuggester {
	options := DefaultSuggesterOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &ChatSuggester{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(options.RequestsPerSecond), 1),
		options: options,
	}
}

// SuggestName implements Suggester.
//
// The model is asked to precede the name with the ">> " marker; the
// text after the last marker is taken, reduced to its first word, and
// sanitized into a valid identifier.
func (s *ChatSuggester) SuggestName(ctx context.Context, req SuggestionRequest) (string, error) {
	prompt := fmt.Sprintf(
		"Can you please suggest a better name for the following JavaScript function? "+
			"Please precede the suggested name with '%s'.\n\nKnown callers:\n%s\n\n%s\n",
		nameMarker, orNone(req.XrefSummary), req.Source)

	reply, err := s.request(ctx, req, prompt)
	if err != nil {
		return "", err
	}

	idx := strings.LastIndex(reply, nameMarker)
	if idx == -1 {
		return "", ErrMalformedResponse
	}
	rest := strings.TrimSpace(reply[idx+len(nameMarker):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", ErrMalformedResponse
	}
	name := sanitizeIdentifier(strings.Trim(fields[0], "`'\"()."))
	if name == "" {
		return "", ErrMalformedResponse
	}
	return name, nil
}

// Describe implements Suggester.
func (s *ChatSuggester) Describe(ctx context.Context, req SuggestionRequest) (string, error) {
	prompt := fmt.Sprintf(
		"Write a short description of the following JavaScript function: what it does, "+
			"its arguments, and its return value. Reply with plain prose only, no code, "+
			"no markdown.\n\nKnown callers:\n%s\n\n%s\n",
		orNone(req.XrefSummary), req.Source)

	reply, err := s.request(ctx, req, prompt)
	if err != nil {
		return "", err
	}

	desc := strings.TrimSpace(stripFences(reply))
	if desc == "" {
		return "", ErrMalformedResponse
	}
	return desc, nil
}

// lineCommentPattern matches "<line>: <comment>" reply lines.
var lineCommentPattern = regexp.MustCompile(`^\s*(\d+)\s*[:\-.)]\s*(.+?)\s*$`)

// LineComments implements Suggester.
//
// The model replies with "<line>: <comment>" lines; line numbers are
// 1-based relative to the function's first line. Out-of-range and
// unparseable lines are dropped rather than failing the suggestion.
func (s *ChatSuggester) LineComments(ctx context.Context, req SuggestionRequest) ([]LineComment, error) {
	totalLines := strings.Count(req.Source, "\n") + 1
	prompt := fmt.Sprintf(
		"Suggest a few line comments for the following JavaScript function. "+
			"Don't comment every line, and please ignore any nested functions. "+
			"Reply only with lines of the form '<line>: <comment>', where <line> is the "+
			"1-based line number within the function (it has %d lines).\n\n%s\n",
		totalLines, req.Source)

	reply, err := s.request(ctx, req, prompt)
	if err != nil {
		return nil, err
	}

	var comments []LineComment
	for _, line := range strings.Split(stripFences(reply), "\n") {
		m := lineCommentPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > totalLines {
			continue
		}
		comments = append(comments, LineComment{Line: n, Text: m[2]})
	}
	if len(comments) == 0 {
		return nil, ErrMalformedResponse
	}
	return comments, nil
}

// request sends one prompt with rate limiting, per-attempt timeout,
// and exponential backoff on retryable failures.
func (s *ChatSuggester) request(ctx context.Context, req SuggestionRequest, prompt string) (string, error) {
	if len(req.Source) > maxRequestSource {
		return "", ErrSourceTooLarge
	}

	messages := []Message{{Role: "user", Content: prompt}}
	temperature := float32(0.2)
	params := GenerationParams{Temperature: &temperature}

	backoff := s.options.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.options.MaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limiter wait: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.options.RequestTimeout)
		reply, err := s.client.Chat(attemptCtx, messages, params)
		cancel()

		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !retryable(err) || attempt == s.options.MaxAttempts {
			break
		}

		slog.Warn("llm: suggestion attempt failed, retrying",
			slog.String("function", req.FunctionName),
			slog.String("task", req.Task.String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", &AIServiceError{Function: req.FunctionName, Task: req.Task, Err: lastErr}
}

// retryable reports whether another attempt can help: provider rate
// limits, server errors, and per-attempt timeouts qualify.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(reply string) string {
	start := strings.Index(reply, "```")
	if start == -1 {
		return reply
	}
	afterOpen := strings.Index(reply[start:], "\n")
	if afterOpen == -1 {
		return reply
	}
	bodyStart := start + afterOpen + 1
	end := strings.Index(reply[bodyStart:], "```")
	if end == -1 {
		return reply
	}
	return reply[bodyStart : bodyStart+end]
}

// sanitizeIdentifier reduces text to a valid JavaScript identifier, or
// "" when nothing survives.
func sanitizeIdentifier(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '$':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() == 0 {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// orNone substitutes a placeholder for an empty xref summary.
func orNone(summary string) string {
	if strings.TrimSpace(summary) == "" {
		return "(none known)"
	}
	return summary
}
