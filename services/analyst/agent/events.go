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

// EventType discriminates stream events sent to the client.
type EventType string

const (
	// EventStatus is a coarse progress update ("Building analysis plan...").
	EventStatus EventType = "status"
	// EventTool announces a tool invocation with step counters.
	EventTool EventType = "tool"
	// EventThinking is intermediate model reasoning the client may render.
	EventThinking EventType = "thinking"
	// EventToken is one incremental fragment of the final answer.
	EventToken EventType = "token"
	// EventResponse carries the complete final answer. Terminal.
	EventResponse EventType = "response"
	// EventError carries a query-level failure. Terminal.
	EventError EventType = "error"
)

// StreamEvent is one progress or result event for an in-flight query.
//
// Description:
//
//	Exactly one terminal event (response or error) is emitted per
//	accepted query, after any number of non-terminal events. Tool events
//	carry the 1-based step index and the total planned steps so clients
//	can render "step 2 of 5". A zero Total means the total is unknown:
//	the reactive loop cannot know its length in advance, so its tool
//	events carry the iteration as Step and 0 as Total.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Action  string    `json:"action,omitempty"`
	Step    int       `json:"step,omitempty"`
	Total   int       `json:"total,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Terminal reports whether the event ends the query.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventResponse || e.Type == EventError
}

// Emitter receives stream events during query processing.
//
// Implementations must be safe for calls from the engine's worker
// goroutine and must not block indefinitely; a disconnected client's
// emitter should drop events.
type Emitter func(StreamEvent)

// nopEmitter discards events. Used when the caller passes nil.
func nopEmitter(StreamEvent) {}

// statusEvent builds a status event.
func statusEvent(message string) StreamEvent {
	return StreamEvent{Type: EventStatus, Message: message}
}

// toolEvent builds a tool progress event. A zero total marks the step
// count as unknown.
func toolEvent(tool, action string, step, total int) StreamEvent {
	return StreamEvent{Type: EventTool, Tool: tool, Action: action, Step: step, Total: total}
}
