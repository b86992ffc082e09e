// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// scriptedModel is a canned LLMClient for agent tests. Function fields
// override behavior per test; unset fields return benign defaults.
type scriptedModel struct {
	generateFn      func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error)
	chatWithToolsFn func(ctx context.Context, messages []llm.ChatMessage, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error)
	streamChunks    []string
	streamErr       error

	generateCalls      int
	chatWithToolsCalls int
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.generateCalls++
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt, params)
	}
	return "{}", nil
}

func (m *scriptedModel) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return m.Generate(ctx, "", params)
}

func (m *scriptedModel) ChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	if m.streamErr != nil {
		return m.streamErr
	}
	for _, chunk := range m.streamChunks {
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (m *scriptedModel) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams, defs []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	m.chatWithToolsCalls++
	if m.chatWithToolsFn != nil {
		return m.chatWithToolsFn(ctx, messages, defs)
	}
	return &llm.ChatWithToolsResult{Content: "final answer", StopReason: "end"}, nil
}

// toolCall builds a model tool call with a synthetic id.
func toolCall(name, args string) llm.ToolCallResponse {
	return llm.ToolCallResponse{
		ID:        fmt.Sprintf("call-%s", name),
		Name:      name,
		Arguments: []byte(args),
	}
}

// testRegistry builds a registry whose tools record invocations.
//
// Each named tool echoes "<name> output" unless its name appears in
// failing, in which case it errors. The invoked map counts calls.
func testRegistry(names []string, failing map[string]bool, invoked map[string]int) *tools.Registry {
	var mu sync.Mutex
	specs := make([]tools.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, tools.Spec{
			Name:        name,
			Description: "test tool",
			Category:    tools.CategoryMarket,
			Params: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"query": {Type: "string"},
				},
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				if invoked != nil {
					mu.Lock()
					invoked[name]++
					mu.Unlock()
				}
				if failing[name] {
					return "", fmt.Errorf("%s unavailable", name)
				}
				if q, ok := args["query"].(string); ok && q != "" {
					return fmt.Sprintf("%s output for %s", name, q), nil
				}
				return fmt.Sprintf("%s output", name), nil
			},
		})
	}
	return tools.NewRegistry(specs, time.Minute, nil)
}

// collectEvents returns an emitter that appends into sink.
func collectEvents(sink *[]StreamEvent) Emitter {
	return func(e StreamEvent) {
		*sink = append(*sink, e)
	}
}
