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
	"errors"
	"fmt"
)

// ErrorCode classifies agent failures for clients and metrics.
type ErrorCode string

const (
	// ErrCodeClassification: the classifier could not produce a verdict.
	ErrCodeClassification ErrorCode = "classification_failed"
	// ErrCodePlanValidation: no valid plan could be built from the model output.
	ErrCodePlanValidation ErrorCode = "plan_validation_failed"
	// ErrCodeToolInvocation: a tool call failed in a way the query cannot survive.
	ErrCodeToolInvocation ErrorCode = "tool_invocation_failed"
	// ErrCodeSynthesis: the synthesizer could not produce a final answer.
	ErrCodeSynthesis ErrorCode = "synthesis_failed"
	// ErrCodeAuthentication: the session presented invalid or missing credentials.
	ErrCodeAuthentication ErrorCode = "authentication_failed"
	// ErrCodeBusy: a query arrived while another was in flight.
	ErrCodeBusy ErrorCode = "busy"
	// ErrCodeProtocol: the client sent a message the session state forbids.
	ErrCodeProtocol ErrorCode = "protocol_violation"
)

// AgentError is a typed failure with a stable code.
//
// Description:
//
//	Carries a machine-readable code for the session channel's error
//	events, a human message safe to show to clients, and a retryable
//	hint. Wraps the underlying cause when one exists.
type AgentError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	cause     error
}

// NewAgentError creates an AgentError without a cause.
func NewAgentError(code ErrorCode, message string, retryable bool) *AgentError {
	return &AgentError{Code: code, Message: message, Retryable: retryable}
}

// WrapAgentError creates an AgentError wrapping cause.
func WrapAgentError(code ErrorCode, message string, retryable bool, cause error) *AgentError {
	return &AgentError{Code: code, Message: message, Retryable: retryable, cause: cause}
}

func (e *AgentError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the ErrorCode from err, or ErrCodeSynthesis when err is
// not an AgentError. Used by the session channel to tag error events.
func CodeOf(err error) ErrorCode {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return ErrCodeSynthesis
}
