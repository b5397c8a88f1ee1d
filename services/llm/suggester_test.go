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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatClient returns a canned reply without any transport.
type fakeChatClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeChatClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	f.calls++
	return f.reply, f.err
}

func fastSuggester(client ChatClient) *ChatSuggester {
	return NewChatSuggester(client,
		WithRequestsPerSecond(10000),
		WithInitialBackoff(time.Millisecond),
	)
}

func TestSuggestNameParsesMarker(t *testing.T) {
	fake := &fakeChatClient{reply: "Sure! A better name would be:\n>> computeTotal\nHope that helps."}
	s := fastSuggester(fake)

	name, err := s.SuggestName(context.Background(), SuggestionRequest{FunctionName: "fn_0", Source: "function fn_0() {}"})
	require.NoError(t, err)
	assert.Equal(t, "computeTotal", name)
}

func TestSuggestNameStripsDecoration(t *testing.T) {
	for reply, want := range map[string]string{
		">> `fetchUser`.":           "fetchUser",
		">> 'parseHeader'":          "parseHeader",
		">> \"renderGrid\" (nicer)": "renderGrid",
		">> handleClick()":          "handleClick",
	} {
		fake := &fakeChatClient{reply: reply}
		name, err := fastSuggester(fake).SuggestName(context.Background(), SuggestionRequest{Source: "x"})
		require.NoError(t, err, "reply %q", reply)
		assert.Equal(t, want, name, "reply %q", reply)
	}
}

func TestSuggestNameUsesLastMarker(t *testing.T) {
	fake := &fakeChatClient{reply: ">> draft\nOn reflection:\n>> final"}
	name, err := fastSuggester(fake).SuggestName(context.Background(), SuggestionRequest{Source: "x"})
	require.NoError(t, err)
	assert.Equal(t, "final", name)
}

func TestSuggestNameMalformed(t *testing.T) {
	for _, reply := range []string{"no marker here", ">> ", ">> 123!!!"} {
		fake := &fakeChatClient{reply: reply}
		_, err := fastSuggester(fake).SuggestName(context.Background(), SuggestionRequest{Source: "x"})
		assert.ErrorIs(t, err, ErrMalformedResponse, "reply %q", reply)
	}
}

func TestDescribeStripsFences(t *testing.T) {
	fake := &fakeChatClient{reply: "```text\nAdds two numbers and returns the sum.\n```"}
	desc, err := fastSuggester(fake).Describe(context.Background(), SuggestionRequest{Source: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Adds two numbers and returns the sum.", desc)
}

func TestDescribeEmptyIsMalformed(t *testing.T) {
	fake := &fakeChatClient{reply: "   \n  "}
	_, err := fastSuggester(fake).Describe(context.Background(), SuggestionRequest{Source: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLineCommentsParsing(t *testing.T) {
	source := "function f() {\n  a();\n  b();\n}"
	fake := &fakeChatClient{reply: "1: function entry\n3 - calls b\nsome chatter\n99: out of range"}

	comments, err := fastSuggester(fake).LineComments(context.Background(), SuggestionRequest{Source: source})
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, LineComment{Line: 1, Text: "function entry"}, comments[0])
	assert.Equal(t, LineComment{Line: 3, Text: "calls b"}, comments[1])
}

func TestLineCommentsAllUnusable(t *testing.T) {
	fake := &fakeChatClient{reply: "nothing parseable"}
	_, err := fastSuggester(fake).LineComments(context.Background(), SuggestionRequest{Source: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSourceTooLargeNotSent(t *testing.T) {
	fake := &fakeChatClient{reply: ">> name"}
	big := strings.Repeat("x", maxRequestSource+1)

	_, err := fastSuggester(fake).SuggestName(context.Background(), SuggestionRequest{Source: big})
	assert.ErrorIs(t, err, ErrSourceTooLarge)
	assert.Zero(t, fake.calls, "oversized source must not reach the provider")
}

func TestNonRetryableErrorSingleAttempt(t *testing.T) {
	fake := &fakeChatClient{err: &StatusError{Code: 400, Body: "bad request"}}
	s := fastSuggester(fake)

	_, err := s.SuggestName(context.Background(), SuggestionRequest{FunctionName: "fn_0", Source: "x", Task: TaskRename})

	var svcErr *AIServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "fn_0", svcErr.Function)
	assert.Equal(t, TaskRename, svcErr.Task)
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 1, fake.calls, "client errors must not be retried")
}

func TestRetryableErrorExhaustsAttempts(t *testing.T) {
	fake := &fakeChatClient{err: &StatusError{Code: 503, Body: "overloaded"}}
	s := NewChatSuggester(fake,
		WithRequestsPerSecond(10000),
		WithInitialBackoff(time.Millisecond),
		WithMaxAttempts(3),
	)

	_, err := s.Describe(context.Background(), SuggestionRequest{Source: "x"})
	var svcErr *AIServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 3, fake.calls)
}

func TestStatusErrorRetryable(t *testing.T) {
	assert.True(t, (&StatusError{Code: 429}).Retryable())
	assert.True(t, (&StatusError{Code: 500}).Retryable())
	assert.True(t, (&StatusError{Code: 503}).Retryable())
	assert.False(t, (&StatusError{Code: 400}).Retryable())
	assert.False(t, (&StatusError{Code: 404}).Retryable())
}

func TestConfigValidate(t *testing.T) {
	err := Config{}.Validate()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"OPENAI_API_KEY", "OPENAI_ORGANIZATION"}, cfgErr.Missing)

	assert.NoError(t, Config{APIKey: "k", Organization: "o"}.Validate())
}
