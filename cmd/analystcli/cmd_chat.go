// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Wire shapes, mirrored from the server's session channel protocol.

type authMessage struct {
	Type           string `json:"type"`
	GeminiAPIKey   string `json:"gemini_api_key"`
	EdgarUserAgent string `json:"edgar_user_agent"`
	TavilyAPIKey   string `json:"tavily_api_key,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Ticker         string `json:"ticker,omitempty"`
}

type queryMessage struct {
	Type string `json:"type"`
	Text string `json:"message"`
}

type serverEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Action    string `json:"action,omitempty"`
	Step      int    `json:"step,omitempty"`
	Total     int    `json:"total,omitempty"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Ticker    string `json:"ticker,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	History   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
}

func runChatCommand(_ *cobra.Command, args []string) {
	if len(args) > 0 {
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
	}
	if ticker == "" && resumeID == "" {
		log.Fatal("Either --ticker (new session) or --resume <session-id> is required")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}
	edgarUA := os.Getenv("EDGAR_USER_AGENT")
	if edgarUA == "" {
		log.Fatal(`EDGAR_USER_AGENT is required (SEC asks for "Name email@example.com")`)
	}

	wsURL := url.URL{Scheme: "ws", Host: serverURL, Path: "/v1/analyst/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", wsURL.String(), err)
	}
	defer conn.Close()

	auth := authMessage{
		Type:           "auth",
		GeminiAPIKey:   geminiKey,
		EdgarUserAgent: edgarUA,
		TavilyAPIKey:   os.Getenv("TAVILY_API_KEY"),
		SessionID:      resumeID,
		Ticker:         strings.ToUpper(ticker),
	}
	if err := conn.WriteJSON(auth); err != nil {
		log.Fatalf("Failed to send auth: %v", err)
	}

	var ack serverEvent
	if err := conn.ReadJSON(&ack); err != nil {
		log.Fatalf("Failed to read auth response: %v", err)
	}
	if ack.Type == "error" {
		log.Fatalf("Authentication failed: %s (%s)", ack.Message, ack.Code)
	}

	fmt.Printf("Connected. Session %s for %s (%d tools).\n", ack.SessionID, ack.Ticker, len(ack.Tools))
	if auth.TavilyAPIKey == "" {
		fmt.Println("Note: no TAVILY_API_KEY set; web research tools are unavailable.")
	}
	for _, turn := range ack.History {
		fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
	}
	fmt.Println("Type your question, or 'exit' to quit.")

	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("\n> ")
		if !stdin.Scan() {
			return
		}
		question := strings.TrimSpace(stdin.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			fmt.Printf("Session %s saved. Resume with: analystcli chat --resume %s\n", ack.SessionID, ack.SessionID)
			return
		}

		if err := conn.WriteJSON(queryMessage{Type: "query", Text: question}); err != nil {
			log.Fatalf("Failed to send query: %v", err)
		}
		if err := streamAnswer(conn); err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
	}
}

// streamAnswer prints events until the query's terminal event arrives.
func streamAnswer(conn *websocket.Conn) error {
	streamedTokens := false
	for {
		var event serverEvent
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}

		switch event.Type {
		case "status":
			fmt.Printf("  … %s\n", event.Message)
		case "tool":
			if event.Total > 0 {
				fmt.Printf("  [%d/%d] %s\n", event.Step, event.Total, event.Tool)
			} else {
				fmt.Printf("  [tool] %s\n", event.Tool)
			}
		case "thinking":
			// Intermediate reasoning is noisy in a terminal; skip it.
		case "token":
			streamedTokens = true
			fmt.Print(event.Message)
		case "response":
			// Tokens already printed the answer incrementally.
			if !streamedTokens {
				fmt.Printf("\n%s\n", event.Message)
			} else {
				fmt.Println()
			}
			return nil
		case "error":
			fmt.Printf("\nError: %s (%s)\n", event.Message, event.Code)
			return nil
		}
	}
}

func runSessionsCommand(_ *cobra.Command, _ []string) {
	resp, err := http.Get(fmt.Sprintf("http://%s/v1/analyst/sessions", serverURL))
	if err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Sessions []struct {
			ID        string `json:"id"`
			Ticker    string `json:"ticker"`
			UpdatedAt string `json:"updated_at"`
			TurnCount int    `json:"turn_count"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Sessions) == 0 {
		fmt.Println("No stored sessions.")
		return
	}
	for _, s := range body.Sessions {
		fmt.Printf("%s  %-6s  %2d turns  %s\n", s.ID, s.Ticker, s.TurnCount, s.UpdatedAt)
	}
}
