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

import "context"

// Message is a single turn in a chat conversation.
//
// Thread Safety: Message is immutable and safe for concurrent read access.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// GenerationParams controls sampling and output shape for a single call.
//
// Description:
//
//	Pointer fields distinguish "unset" from "zero". Unset fields are
//	omitted from the wire request so the provider applies its own
//	defaults. ResponseSchema constrains the model to emit JSON matching
//	the given schema (Gemini structured output); when set, ResponseMIMEType
//	should be "application/json".
//
// Thread Safety: GenerationParams is safe for concurrent read access.
type GenerationParams struct {
	Temperature      *float32
	TopP             *float32
	TopK             *int
	MaxTokens        *int
	Stop             []string
	ModelOverride    string
	ResponseMIMEType string
	ResponseSchema   any
}

// StreamCallback receives incremental output during a streaming call.
//
// chunk is the newly generated text fragment (never empty). Returning a
// non-nil error aborts the stream; the error is propagated to the caller
// of ChatStream.
type StreamCallback func(chunk string) error

// LLMClient is the provider interface used by the analyst engine.
//
// Description:
//
//	A single implementation exists (GeminiClient). The interface stays
//	small so tests can substitute a mock without an HTTP server.
//
// Thread Safety: Implementations must be safe for concurrent use.
type LLMClient interface {
	// Generate sends a single user prompt and returns the full response text.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat sends a multi-turn conversation and returns the full response text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream sends a conversation and delivers the response incrementally
	// through callback. Returns after the stream completes or callback errors.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error

	// ChatWithTools sends a conversation with tool definitions and returns
	// text and/or tool calls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}
