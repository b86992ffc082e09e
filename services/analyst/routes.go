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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all analyst routes with the router.
//
// Description:
//
//	Registers all /v1/analyst/* endpoints with the given Gin router
//	group. The group should already have any required middleware applied.
//
// Endpoints:
//
//	GET /v1/analyst/ws - Session channel (WebSocket upgrade)
//	GET /v1/analyst/health - Liveness check
//	GET /v1/analyst/sessions - List persisted sessions
//	GET /v1/analyst/sessions/:id/turns - Conversation history
//	GET /v1/analyst/tools - Tool catalog discovery
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	analyst := rg.Group("/analyst")
	{
		analyst.GET("/ws", handlers.HandleSessionChannel)
		analyst.GET("/health", handlers.HandleHealth)
		analyst.GET("/sessions", handlers.HandleListSessions)
		analyst.GET("/sessions/:id/turns", handlers.HandleSessionTurns)
		analyst.GET("/tools", handlers.HandleListTools)
	}
}
