// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

func echoSpec(name string, cat Category) Spec {
	return Spec{
		Name:        name,
		Description: "echoes its input",
		Category:    cat,
		Params: llm.ToolParameters{
			Type: "object",
			Properties: map[string]llm.ToolParamDef{
				"text": {Type: "string", Description: "text to echo"},
			},
			Required: []string{"text"},
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestRegistry_DuplicateNamesKeepFirst(t *testing.T) {
	first := echoSpec("echo", CategoryMarket)
	second := echoSpec("echo", CategoryFiling)

	r := NewRegistry([]Spec{first, second}, 0, nil)
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	spec, _ := r.Get("echo")
	if spec.Category != CategoryMarket {
		t.Errorf("kept category = %q, want first registration", spec.Category)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry([]Spec{
		echoSpec("zeta", CategoryMarket),
		echoSpec("alpha", CategoryMarket),
		echoSpec("mid", CategoryMarket),
	}, 0, nil)

	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistry_WithoutCategory(t *testing.T) {
	r := NewRegistry([]Spec{
		echoSpec("filing_tool", CategoryFiling),
		echoSpec("market_tool", CategoryMarket),
		echoSpec("research_tool", CategoryResearch),
	}, 0, nil)

	trimmed := r.WithoutCategory(CategoryResearch)
	if trimmed.Has("research_tool") {
		t.Error("research tool should be removed")
	}
	if !trimmed.Has("filing_tool") || !trimmed.Has("market_tool") {
		t.Error("other categories should survive")
	}
	// Original registry is untouched.
	if !r.Has("research_tool") {
		t.Error("source registry was mutated")
	}
}

func TestRegistry_ToolDefs(t *testing.T) {
	r := NewRegistry([]Spec{echoSpec("echo", CategoryMarket)}, 0, nil)

	defs := r.ToolDefs()
	if len(defs) != 1 {
		t.Fatalf("ToolDefs len = %d", len(defs))
	}
	if defs[0].Type != "function" {
		t.Errorf("Type = %q", defs[0].Type)
	}
	if defs[0].Function.Name != "echo" {
		t.Errorf("Name = %q", defs[0].Function.Name)
	}
	if len(defs[0].Function.Parameters.Required) != 1 {
		t.Error("required parameters not carried over")
	}
}

func TestRegistry_ValidateArgs(t *testing.T) {
	r := NewRegistry([]Spec{echoSpec("echo", CategoryMarket)}, 0, nil)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", "echo", map[string]any{"text": "hi"}, false},
		{"missing required", "echo", map[string]any{}, true},
		{"unknown argument", "echo", map[string]any{"text": "hi", "bogus": 1}, true},
		{"wrong type", "echo", map[string]any{"text": 42}, true},
		{"unknown tool", "nope", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateArgs(tt.tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_Invoke_Success(t *testing.T) {
	r := NewRegistry([]Spec{echoSpec("echo", CategoryMarket)}, 0, nil)

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	r := NewRegistry(nil, 0, nil)
	_, err := r.Invoke(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistry_Invoke_ToolErrorWrapped(t *testing.T) {
	failing := Spec{
		Name:     "always_fails",
		Category: CategoryMarket,
		Params:   llm.ToolParameters{Type: "object"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("upstream unavailable")
		},
	}
	r := NewRegistry([]Spec{failing}, 0, nil)

	_, err := r.Invoke(context.Background(), "always_fails", map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "always_fails") {
		t.Errorf("error should name the tool: %v", err)
	}
	if !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("error should wrap the cause: %v", err)
	}
}

func TestRegistry_Invoke_Timeout(t *testing.T) {
	slow := Spec{
		Name:     "slow",
		Category: CategoryMarket,
		Params:   llm.ToolParameters{Type: "object"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	r := NewRegistry([]Spec{slow}, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", map[string]any{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("invocation did not respect the timeout")
	}
}

func TestRegistry_Invoke_ContextCancellation(t *testing.T) {
	blocked := Spec{
		Name:     "blocked",
		Category: CategoryMarket,
		Params:   llm.ToolParameters{Type: "object"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	r := NewRegistry([]Spec{blocked}, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Invoke(ctx, "blocked", map[string]any{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
