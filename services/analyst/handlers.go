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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	badgerstore "github.com/AleutianAI/AleutianAnalyst/services/analyst/storage/badger"
	"github.com/AleutianAI/AleutianAnalyst/services/analyst/tools"
	"github.com/AleutianAI/AleutianAnalyst/services/datasources"
)

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers holds the analyst HTTP and WebSocket handlers.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	store    *badgerstore.ChatStore
	catalog  *tools.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
//
// Description:
//
//	The catalog registry backs the read-only tool discovery endpoint.
//	It is built without credentials and its tools are never invoked;
//	real per-session registries are built at authentication time.
func NewHandlers(store *badgerstore.ChatStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	edgar := datasources.NewEdgarClientWithConfig("catalog listing only",
		"https://data.sec.gov", "https://www.sec.gov")
	yahoo := datasources.NewYahooClient()
	tavily := datasources.NewTavilyClientWithConfig("", "https://api.tavily.com")
	specs := append(
		tools.NewFilingTools(edgar, nil, "").Specs(),
		tools.NewMarketTools(yahoo, edgar, "").Specs()...,
	)
	specs = append(specs, tools.NewResearchTools(tavily, "").Specs()...)

	return &Handlers{
		store:   store,
		catalog: tools.NewRegistry(specs, 0, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Credentials arrive in the first message, not in cookies,
				// so cross-origin upgrades carry no ambient authority.
				return true
			},
		},
		logger: logger,
	}
}

// HandleHealth handles GET /v1/analyst/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListSessions handles GET /v1/analyst/sessions.
//
// Response:
//
//	200 OK: {"sessions": [SessionRecord...]}
//	500 Internal Server Error: storage failure
func (h *Handlers) HandleListSessions(c *gin.Context) {
	sessions, err := h.store.ListSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("List sessions failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list sessions",
			Code:  "STORAGE_ERROR",
		})
		return
	}
	if sessions == nil {
		sessions = []badgerstore.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// HandleSessionTurns handles GET /v1/analyst/sessions/:id/turns.
//
// Response:
//
//	200 OK: {"session_id": ..., "turns": [TurnRecord...]}
//	404 Not Found: unknown session id
func (h *Handlers) HandleSessionTurns(c *gin.Context) {
	id := c.Param("id")
	turns, err := h.store.LoadTurns(c.Request.Context(), id)
	if errors.Is(err, badgerstore.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "session not found",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	if err != nil {
		h.logger.Error("Load turns failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load turns",
			Code:  "STORAGE_ERROR",
		})
		return
	}
	if turns == nil {
		turns = []badgerstore.TurnRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": turns})
}

// toolInfo is one entry of the tool discovery response.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// HandleListTools handles GET /v1/analyst/tools.
//
// Description:
//
//	Lists the full tool catalog. Individual sessions may see fewer tools
//	(research tools require a Tavily key), which the auth ack reports
//	per session.
func (h *Handlers) HandleListTools(c *gin.Context) {
	registry := h.catalog
	if c.Query("category") == "core" {
		registry = registry.WithoutCategory(tools.CategoryResearch)
	}

	infos := make([]toolInfo, 0, registry.Len())
	for _, spec := range registry.Specs() {
		infos = append(infos, toolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Category:    string(spec.Category),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": infos})
}
