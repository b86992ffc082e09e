// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyst

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/agent"
	badgerstore "github.com/AleutianAI/AleutianAnalyst/services/analyst/storage/badger"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// fakeModel satisfies llm.LLMClient without network access. Session
// tests exercise the state machine, not the engine, so canned responses
// suffice.
type fakeModel struct {
	generateFn func(ctx context.Context, prompt string, params llm.GenerationParams) (string, error)
}

func (m *fakeModel) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt, params)
	}
	return `{"complexity":"SIMPLE","estimated_tool_count":1}`, nil
}

func (m *fakeModel) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return "canned", nil
}

func (m *fakeModel) ChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	return callback("canned")
}

func (m *fakeModel) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams, defs []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	return &llm.ChatWithToolsResult{Content: "canned answer", StopReason: "end"}, nil
}

func withFakeModel(t *testing.T) {
	t.Helper()
	prev := newModelClient
	newModelClient = func(apiKey string) (llm.LLMClient, error) {
		return &fakeModel{}, nil
	}
	t.Cleanup(func() { newModelClient = prev })
}

func newTestSession(t *testing.T) (*Session, *badgerstore.ChatStore) {
	t.Helper()
	withFakeModel(t)
	db, err := badgerstore.OpenDB(badgerstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := badgerstore.NewChatStore(db)
	return NewSession(store, nil), store
}

func validAuth() *AuthRequest {
	return &AuthRequest{
		Type:           MessageTypeAuth,
		GeminiAPIKey:   "AIzaSyTest000000000000000000000000",
		EdgarUserAgent: "Test test@example.com",
		Ticker:         "AAPL",
	}
}

func TestSession_AuthenticateNewSession(t *testing.T) {
	session, _ := newTestSession(t)

	if session.State() != StateConnecting {
		t.Fatalf("initial state = %q", session.State())
	}
	ack, err := session.Authenticate(context.Background(), validAuth())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if session.State() != StateAuthenticated {
		t.Errorf("state = %q", session.State())
	}
	if ack.SessionID == "" || ack.Ticker != "AAPL" {
		t.Errorf("ack = %+v", ack)
	}
	if len(ack.History) != 0 {
		t.Errorf("new session should have no history")
	}
	// No Tavily key: research tools are absent.
	for _, name := range ack.Tools {
		if name == "web_search" {
			t.Error("research tools should require a tavily key")
		}
	}
}

func TestSession_AuthenticateWithResearchKey(t *testing.T) {
	session, _ := newTestSession(t)

	req := validAuth()
	req.TavilyAPIKey = "tvly-test00000000000000"
	ack, err := session.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	found := false
	for _, name := range ack.Tools {
		if name == "web_search" {
			found = true
		}
	}
	if !found {
		t.Error("research tools missing despite tavily key")
	}
}

func TestSession_AuthenticateTwiceIsProtocolError(t *testing.T) {
	session, _ := newTestSession(t)

	if _, err := session.Authenticate(context.Background(), validAuth()); err != nil {
		t.Fatalf("first auth: %v", err)
	}
	_, err := session.Authenticate(context.Background(), validAuth())
	if err == nil {
		t.Fatal("second auth should fail")
	}
	if agent.CodeOf(err) != agent.ErrCodeProtocol {
		t.Errorf("code = %q", agent.CodeOf(err))
	}
}

func TestSession_ResumeReplaysHistory(t *testing.T) {
	session, store := newTestSession(t)

	ack, err := session.Authenticate(context.Background(), validAuth())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := store.AppendTurn(context.Background(), ack.SessionID, "user", "price?"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendTurn(context.Background(), ack.SessionID, "assistant", "$230"); err != nil {
		t.Fatalf("append: %v", err)
	}

	resumed := NewSession(store, nil)
	req := validAuth()
	req.Ticker = ""
	req.SessionID = ack.SessionID
	resumedAck, err := resumed.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumedAck.SessionID != ack.SessionID {
		t.Errorf("session id changed on resume")
	}
	if resumedAck.Ticker != "AAPL" {
		t.Errorf("ticker = %q, should come from the stored session", resumedAck.Ticker)
	}
	if len(resumedAck.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(resumedAck.History))
	}
	if resumedAck.History[0].Content != "price?" || resumedAck.History[1].Content != "$230" {
		t.Errorf("history = %+v", resumedAck.History)
	}
}

func TestSession_ResumeUnknownSession(t *testing.T) {
	session, _ := newTestSession(t)

	req := validAuth()
	req.Ticker = ""
	req.SessionID = "0c7f6a90-9f3a-4df5-8c2e-5a3f1b2c4d6e"
	_, err := session.Authenticate(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for unknown session id")
	}
	if agent.CodeOf(err) != agent.ErrCodeAuthentication {
		t.Errorf("code = %q", agent.CodeOf(err))
	}
	if session.State() != StateConnecting {
		t.Errorf("failed auth should return to CONNECTING, got %q", session.State())
	}
}

func TestSession_QueryBeforeAuthIsProtocolError(t *testing.T) {
	session, _ := newTestSession(t)

	_, err := session.BeginQuery(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if agent.CodeOf(err) != agent.ErrCodeProtocol {
		t.Errorf("code = %q", agent.CodeOf(err))
	}
}

func TestSession_BusyRejectsSecondQuery(t *testing.T) {
	session, _ := newTestSession(t)
	if _, err := session.Authenticate(context.Background(), validAuth()); err != nil {
		t.Fatalf("auth: %v", err)
	}

	if _, err := session.BeginQuery(context.Background()); err != nil {
		t.Fatalf("first query: %v", err)
	}
	_, err := session.BeginQuery(context.Background())
	if err == nil {
		t.Fatal("second concurrent query should be rejected")
	}
	if agent.CodeOf(err) != agent.ErrCodeBusy {
		t.Errorf("code = %q", agent.CodeOf(err))
	}
}

func TestSession_ProcessQueryEmitsOneTerminalEvent(t *testing.T) {
	session, _ := newTestSession(t)
	if _, err := session.Authenticate(context.Background(), validAuth()); err != nil {
		t.Fatalf("auth: %v", err)
	}
	ctx, err := session.BeginQuery(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	var events []agent.StreamEvent
	session.ProcessQuery(ctx, "what's the price?", func(e agent.StreamEvent) {
		events = append(events, e)
	})

	terminals := 0
	for _, e := range events {
		if e.Terminal() {
			terminals++
			if e.Type != agent.EventResponse {
				t.Errorf("terminal type = %q", e.Type)
			}
			if e.Message != "canned answer" {
				t.Errorf("answer = %q", e.Message)
			}
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
	if session.State() != StateIdle {
		t.Errorf("state after query = %q", session.State())
	}
}

func TestSession_ProcessQueryPersistsTurns(t *testing.T) {
	session, store := newTestSession(t)
	ack, err := session.Authenticate(context.Background(), validAuth())
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	ctx, _ := session.BeginQuery(context.Background())
	session.ProcessQuery(ctx, "what's the price?", func(agent.StreamEvent) {})

	turns, err := store.LoadTurns(context.Background(), ack.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want question and answer", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("roles = %q %q", turns[0].Role, turns[1].Role)
	}
}

func TestSession_EmptyQueryEmitsErrorEvent(t *testing.T) {
	session, _ := newTestSession(t)
	if _, err := session.Authenticate(context.Background(), validAuth()); err != nil {
		t.Fatalf("auth: %v", err)
	}
	ctx, _ := session.BeginQuery(context.Background())

	var events []agent.StreamEvent
	session.ProcessQuery(ctx, "", func(e agent.StreamEvent) {
		events = append(events, e)
	})

	var last agent.StreamEvent
	for _, e := range events {
		if e.Terminal() {
			last = e
		}
	}
	if last.Type != agent.EventError {
		t.Fatalf("terminal = %+v, want error event", last)
	}
	if last.Code != string(agent.ErrCodeClassification) {
		t.Errorf("code = %q", last.Code)
	}
	if session.State() != StateIdle {
		t.Errorf("state = %q, session should survive a failed query", session.State())
	}
}

func TestSession_CloseIsTerminal(t *testing.T) {
	session, _ := newTestSession(t)
	if _, err := session.Authenticate(context.Background(), validAuth()); err != nil {
		t.Fatalf("auth: %v", err)
	}

	session.Close()
	if session.State() != StateClosed {
		t.Fatalf("state = %q", session.State())
	}
	if _, err := session.BeginQuery(context.Background()); err == nil {
		t.Error("query after close should fail")
	}
}

func TestParseAuth_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"type":"auth","gemini_api_key":"AIzaSyTest000000000000","edgar_user_agent":"me me@example.com","ticker":"AAPL"}`, false},
		{"missing gemini key", `{"type":"auth","edgar_user_agent":"me me@example.com","ticker":"AAPL"}`, true},
		{"short gemini key", `{"type":"auth","gemini_api_key":"short","edgar_user_agent":"me me@example.com","ticker":"AAPL"}`, true},
		{"missing edgar ua", `{"type":"auth","gemini_api_key":"AIzaSyTest000000000000","ticker":"AAPL"}`, true},
		{"no ticker no session", `{"type":"auth","gemini_api_key":"AIzaSyTest000000000000","edgar_user_agent":"me me@example.com"}`, true},
		{"bad session id", `{"type":"auth","gemini_api_key":"AIzaSyTest000000000000","edgar_user_agent":"me me@example.com","session_id":"not-a-uuid"}`, true},
		{"wrong type", `{"type":"query","gemini_api_key":"AIzaSyTest000000000000","edgar_user_agent":"me me@example.com","ticker":"AAPL"}`, true},
		{"not json", `auth please`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAuth([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseAuth err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseQuery_Validation(t *testing.T) {
	if _, err := parseQuery([]byte(`{"type":"query","message":"what's the price?"}`)); err != nil {
		t.Errorf("valid query rejected: %v", err)
	}
	if _, err := parseQuery([]byte(`{"type":"query","message":""}`)); err == nil {
		t.Error("empty message should be rejected")
	}
	if _, err := parseQuery([]byte(`{"type":"auth","message":"hi"}`)); err == nil {
		t.Error("wrong type should be rejected")
	}
}
