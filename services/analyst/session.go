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
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/agent"
	badgerstore "github.com/AleutianAI/AleutianAnalyst/services/analyst/storage/badger"
	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/datasources"
	"github.com/AleutianAI/AleutianAnalyst/services/llm"
)

// SessionState tracks a session channel through its lifecycle.
type SessionState string

const (
	// StateConnecting: socket open, no auth message yet.
	StateConnecting SessionState = "CONNECTING"
	// StateAuthenticating: auth message received, credentials being verified.
	StateAuthenticating SessionState = "AUTHENTICATING"
	// StateAuthenticated: ready for the first query.
	StateAuthenticated SessionState = "AUTHENTICATED"
	// StateProcessing: a query is in flight. New queries are rejected.
	StateProcessing SessionState = "PROCESSING"
	// StateIdle: a query completed; ready for the next one.
	StateIdle SessionState = "IDLE"
	// StateClosed: terminal. Credentials are destroyed.
	StateClosed SessionState = "CLOSED"
)

// Session is one authenticated analyst conversation.
//
// Description:
//
//	Built per WebSocket connection. Authentication constructs the
//	session's own model client, data source clients, and tool registry
//	from the credentials the client presented; nothing is shared between
//	sessions and nothing credential-shaped is written to disk. The keys
//	themselves live in memguard enclaves inside the Gemini and Tavily
//	clients, decrypted per request; Close drops those clients so the
//	enclaves become unreachable. The conversation itself (turns, ticker)
//	persists in the chat store so a later connection can resume it by id.
//
//	One query runs at a time. A query arriving while another is in
//	flight is rejected with a busy error rather than queued, so the
//	client always knows which question an event stream belongs to.
//
// Thread Safety: Safe for concurrent use. State transitions and the
// in-flight cancel function are guarded by mu.
type Session struct {
	mu          sync.Mutex
	state       SessionState
	id          string
	ticker      string
	history     []agent.ConversationTurn
	cancelQuery context.CancelFunc

	engine   *agent.Engine
	registry *tools.Registry
	store    *badgerstore.ChatStore
	logger   *slog.Logger
}

// NewSession creates a session in the CONNECTING state.
func NewSession(store *badgerstore.ChatStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{state: StateConnecting, store: store, logger: logger}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the persistent session id. Empty before authentication.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Registry returns the session's tool registry. Nil before authentication.
func (s *Session) Registry() *tools.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

// Authenticate validates credentials and makes the session ready.
//
// Description:
//
//	Must be the first message on the channel. Builds the per-session
//	Gemini client, EDGAR client, Yahoo client, and (when a Tavily key
//	was presented) the research client, then assembles the tool registry
//	and engine. With a session id the previous conversation is loaded
//	and replayed in the ack; otherwise a new session is created for the
//	given ticker.
//
// Outputs:
//   - *AuthAck: Session id, ticker, tool names, and prior history.
//   - error: ErrCodeProtocol when called in the wrong state,
//     ErrCodeAuthentication for bad credentials or an unknown session id.
func (s *Session) Authenticate(ctx context.Context, req *AuthRequest) (*AuthAck, error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		return nil, agent.NewAgentError(agent.ErrCodeProtocol,
			"auth not allowed in state "+string(state), false)
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	ack, err := s.authenticate(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateConnecting
		return nil, err
	}
	s.state = StateAuthenticated
	return ack, nil
}

// newModelClient builds the session's model client. Tests swap this to
// avoid real Gemini calls.
var newModelClient = func(apiKey string) (llm.LLMClient, error) {
	return llm.NewGeminiClient(apiKey, "")
}

func (s *Session) authenticate(ctx context.Context, req *AuthRequest) (*AuthAck, error) {
	model, err := newModelClient(req.GeminiAPIKey)
	if err != nil {
		return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "invalid gemini credentials", false, err)
	}
	edgar, err := datasources.NewEdgarClient(req.EdgarUserAgent)
	if err != nil {
		return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "invalid edgar user agent", false, err)
	}

	// Resolve the conversation before building tools: resuming fixes the
	// ticker, a new session takes it from the request.
	var (
		record  *badgerstore.SessionRecord
		history []agent.ConversationTurn
	)
	if req.SessionID != "" {
		record, err = s.store.GetSession(ctx, req.SessionID)
		if errors.Is(err, badgerstore.ErrSessionNotFound) {
			return nil, agent.NewAgentError(agent.ErrCodeAuthentication, "unknown session id", false)
		}
		if err != nil {
			return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "session lookup failed", true, err)
		}
		turns, err := s.store.LoadTurns(ctx, record.ID)
		if err != nil {
			return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "history load failed", true, err)
		}
		for _, turn := range turns {
			history = append(history, agent.ConversationTurn{
				Role: turn.Role, Content: turn.Content, CreatedAt: turn.CreatedAt,
			})
		}
	} else {
		record, err = s.store.CreateSession(ctx, strings.ToUpper(req.Ticker))
		if err != nil {
			return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "session creation failed", true, err)
		}
	}

	yahoo := datasources.NewYahooClient()
	specs := append(
		tools.NewFilingTools(edgar, model, record.Ticker).Specs(),
		tools.NewMarketTools(yahoo, edgar, record.Ticker).Specs()...,
	)
	if req.TavilyAPIKey != "" {
		tavily, err := datasources.NewTavilyClient(req.TavilyAPIKey)
		if err != nil {
			return nil, agent.WrapAgentError(agent.ErrCodeAuthentication, "invalid tavily credentials", false, err)
		}
		specs = append(specs, tools.NewResearchTools(tavily, record.Ticker).Specs()...)
	}
	registry := tools.NewRegistry(specs, 0, s.logger)

	s.id = record.ID
	s.ticker = record.Ticker
	s.history = history
	s.registry = registry
	s.engine = agent.NewEngine(model, registry, s.logger)

	s.logger.Info("Session authenticated",
		slog.String("session_id", record.ID),
		slog.String("ticker", record.Ticker),
		slog.Int("tools", registry.Len()),
		slog.Bool("research", req.TavilyAPIKey != ""),
		slog.Int("history_turns", len(history)),
	)
	return &AuthAck{
		Type:      MessageTypeAuthSuccess,
		SessionID: record.ID,
		Ticker:    record.Ticker,
		Tools:     registry.Names(),
		History:   history,
	}, nil
}

// BeginQuery transitions the session into PROCESSING.
//
// Outputs:
//   - context.Context: A cancelable context for the query, cancelled by
//     CancelInFlight or Close.
//   - error: ErrCodeBusy when a query is already running,
//     ErrCodeProtocol before authentication or after close.
func (s *Session) BeginQuery(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticated, StateIdle:
		ctx, cancel := context.WithCancel(parent)
		s.state = StateProcessing
		s.cancelQuery = cancel
		return ctx, nil
	case StateProcessing:
		return nil, agent.NewAgentError(agent.ErrCodeBusy,
			"a query is already in progress", true)
	default:
		return nil, agent.NewAgentError(agent.ErrCodeProtocol,
			"query not allowed in state "+string(s.state), false)
	}
}

// ProcessQuery runs one query and emits exactly one terminal event.
//
// Description:
//
//	Runs the engine, persists the user/assistant turns on success, and
//	emits the terminal response or error event. The session returns to
//	IDLE afterwards regardless of outcome. BeginQuery must have been
//	called first; ctx is the context it returned.
func (s *Session) ProcessQuery(ctx context.Context, text string, emit agent.Emitter) {
	defer s.endQuery()

	s.mu.Lock()
	query := agent.Query{Text: text, Ticker: s.ticker, History: s.history}
	engine := s.engine
	s.mu.Unlock()

	// The session closed between BeginQuery and this goroutine starting.
	if engine == nil {
		return
	}

	answer, err := engine.Answer(ctx, query, emit)
	if err != nil {
		code := agent.CodeOf(err)
		s.logger.Warn("Query failed",
			slog.String("session_id", s.ID()),
			slog.String("code", string(code)),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		emit(errorMessage(code, "query failed: "+string(code)))
		return
	}

	s.recordTurns(text, answer)
	emit(agent.StreamEvent{Type: agent.EventResponse, Message: answer})
}

// recordTurns persists the exchange and extends the in-memory history.
// Persistence failure degrades to memory-only history for this session.
func (s *Session) recordTurns(question, answer string) {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.store.AppendTurn(ctx, id, "user", question); err != nil {
		s.logger.Warn("Failed to persist user turn", slog.String("error", err.Error()))
	} else if err := s.store.AppendTurn(ctx, id, "assistant", answer); err != nil {
		s.logger.Warn("Failed to persist assistant turn", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.history = append(s.history,
		agent.ConversationTurn{Role: "user", Content: question},
		agent.ConversationTurn{Role: "assistant", Content: answer},
	)
	s.mu.Unlock()
}

func (s *Session) endQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQuery != nil {
		s.cancelQuery()
		s.cancelQuery = nil
	}
	if s.state == StateProcessing {
		s.state = StateIdle
	}
}

// CancelInFlight aborts the running query, if any. Called on disconnect.
func (s *Session) CancelInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQuery != nil {
		s.cancelQuery()
	}
}

// Close terminates the session and releases its credential-bearing
// clients.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if s.cancelQuery != nil {
		s.cancelQuery()
		s.cancelQuery = nil
	}
	// Drop the engine and registry so the per-session clients, and the
	// key enclaves they hold, become unreachable.
	s.engine = nil
	s.registry = nil
	s.state = StateClosed
}
