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
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAnalyst/services/analyst/agent"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxMessageSize = 64 * 1024
	wsSendBuffer     = 256
)

// HandleSessionChannel handles GET /v1/analyst/ws.
//
// Description:
//
//	Upgrades the connection and runs the session channel protocol: the
//	first message must be auth, then queries one at a time. All writes
//	go through a single writer goroutine; the read loop dispatches
//	messages and spawns one worker per accepted query. Disconnect
//	cancels the in-flight query and destroys the session credentials.
//
// Thread Safety: Safe for concurrent use; each connection gets its own
// session and channel.
func (h *Handlers) HandleSessionChannel(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	session := NewSession(h.store, h.logger)
	ch := &wsChannel{
		conn:    conn,
		session: session,
		send:    make(chan any, wsSendBuffer),
		done:    make(chan struct{}),
		logger:  h.logger,
	}
	ch.run(c.Request.Context())
}

// wsChannel ties one WebSocket connection to one session.
type wsChannel struct {
	conn    *websocket.Conn
	session *Session
	send    chan any
	done    chan struct{}
	logger  *slog.Logger
}

func (ch *wsChannel) run(ctx context.Context) {
	defer func() {
		ch.session.CancelInFlight()
		ch.session.Close()
		close(ch.done)
		_ = ch.conn.Close()
	}()

	go ch.writePump()

	ch.conn.SetReadLimit(wsMaxMessageSize)
	_ = ch.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.logger.Debug("WebSocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if !ch.dispatch(ctx, data) {
			return
		}
	}
}

// dispatch handles one inbound message. Returns false to close the
// connection.
func (ch *wsChannel) dispatch(ctx context.Context, data []byte) bool {
	var envelope clientEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		ch.emit(errorMessage(agent.ErrCodeProtocol, "invalid JSON message"))
		return true
	}

	switch envelope.Type {
	case MessageTypeAuth:
		return ch.handleAuth(ctx, data)
	case MessageTypeQuery:
		ch.handleQuery(ctx, data)
		return true
	default:
		ch.emit(errorMessage(agent.ErrCodeProtocol, "unknown message type "+envelope.Type))
		return true
	}
}

func (ch *wsChannel) handleAuth(ctx context.Context, data []byte) bool {
	req, err := parseAuth(data)
	if err != nil {
		// The raw error may echo field names but never credential values.
		ch.emit(errorMessage(agent.ErrCodeAuthentication, err.Error()))
		return false
	}

	ack, err := ch.session.Authenticate(ctx, req)
	if err != nil {
		ch.emit(errorMessage(agent.CodeOf(err), "authentication failed"))
		return false
	}
	ch.emit(ack)
	return true
}

func (ch *wsChannel) handleQuery(ctx context.Context, data []byte) {
	req, err := parseQuery(data)
	if err != nil {
		ch.emit(errorMessage(agent.ErrCodeProtocol, err.Error()))
		return
	}

	queryCtx, err := ch.session.BeginQuery(ctx)
	if err != nil {
		ch.emit(errorMessage(agent.CodeOf(err), err.Error()))
		return
	}

	go ch.session.ProcessQuery(queryCtx, req.Text, ch.emitEvent)
}

// emitEvent forwards an engine event to the writer. Non-terminal events
// are dropped when the client cannot keep up; terminal events wait so
// every accepted query still ends with exactly one of them.
func (ch *wsChannel) emitEvent(e agent.StreamEvent) {
	if e.Terminal() {
		select {
		case ch.send <- e:
		case <-ch.done:
		}
		return
	}
	select {
	case ch.send <- e:
	case <-ch.done:
	default:
	}
}

// emit queues any server message for the writer.
func (ch *wsChannel) emit(message any) {
	select {
	case ch.send <- message:
	case <-ch.done:
	}
}

func (ch *wsChannel) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks the read loop when writing is no longer possible.
		_ = ch.conn.Close()
	}()

	for {
		select {
		case message := <-ch.send:
			_ = ch.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ch.conn.WriteJSON(message); err != nil {
				ch.logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = ch.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ch.done:
			return
		}
	}
}
