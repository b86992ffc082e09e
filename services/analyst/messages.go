// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyst exposes the stock analyst over a WebSocket session
// channel plus a small REST surface for discovery and health.
package analyst

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/agent"
)

// validate is the shared request validator.
var validate = validator.New()

// Client message types.
const (
	MessageTypeAuth  = "auth"
	MessageTypeQuery = "query"
)

// Server message types beyond agent stream events.
const (
	MessageTypeAuthSuccess = "auth_success"
)

// clientEnvelope is the minimal shape read from every inbound message to
// dispatch on type.
type clientEnvelope struct {
	Type string `json:"type"`
}

// AuthRequest is the first message a client must send after connecting.
//
// Description:
//
//	Carries the per-session credentials. The Gemini key and the EDGAR
//	user agent (SEC requires requesters to identify themselves) are
//	mandatory; the Tavily key is optional and its absence removes the
//	research tools for the session. A session id resumes a previous
//	conversation; otherwise Ticker starts a new one.
//
//	Credentials live only in this struct and the session built from it.
//	They are never persisted and never logged.
type AuthRequest struct {
	Type           string `json:"type" validate:"required,eq=auth"`
	GeminiAPIKey   string `json:"gemini_api_key" validate:"required,min=20"`
	EdgarUserAgent string `json:"edgar_user_agent" validate:"required,min=3"`
	TavilyAPIKey   string `json:"tavily_api_key,omitempty"`
	SessionID      string `json:"session_id,omitempty" validate:"omitempty,uuid4"`
	Ticker         string `json:"ticker,omitempty" validate:"omitempty,alphanum,min=1,max=10"`
}

// QueryRequest is one user question inside an authenticated session.
type QueryRequest struct {
	Type string `json:"type" validate:"required,eq=query"`
	Text string `json:"message" validate:"required,min=1,max=4000"`
}

// AuthAck confirms authentication and replays session history.
type AuthAck struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id"`
	Ticker    string                   `json:"ticker"`
	Tools     []string                 `json:"tools"`
	History   []agent.ConversationTurn `json:"history,omitempty"`
}

// errorMessage builds an error stream event for the wire.
func errorMessage(code agent.ErrorCode, message string) agent.StreamEvent {
	return agent.StreamEvent{
		Type:    agent.EventError,
		Code:    string(code),
		Message: message,
	}
}

// parseAuth decodes and validates an auth message.
func parseAuth(data []byte) (*AuthRequest, error) {
	var req AuthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid auth message: %w", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid auth message: %w", err)
	}
	if req.SessionID == "" && req.Ticker == "" {
		return nil, fmt.Errorf("invalid auth message: ticker is required for a new session")
	}
	return &req, nil
}

// parseQuery decodes and validates a query message.
func parseQuery(data []byte) (*QueryRequest, error) {
	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid query message: %w", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("invalid query message: %w", err)
	}
	return &req, nil
}
