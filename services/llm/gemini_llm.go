// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// DefaultGeminiBaseURL is the production Gemini REST endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultGeminiModel is used when the caller does not name a model.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements LLMClient for Google Gemini models.
//
// Description:
//
//	Uses the Gemini REST API (generateContent / streamGenerateContent)
//	directly, without a provider SDK. Supports text generation, multi-turn
//	conversations, function calling, structured JSON output via
//	responseSchema, and SSE token streaming.
//
//	The API key is supplied per client instance. The analyst server creates
//	one client per authenticated session with the credentials the session
//	presented; keys are never read from process environment on that path.
//	The key is sealed in a memguard enclave at construction and decrypted
//	only for the duration of each outbound request; memguard.Purge at
//	shutdown renders every enclave unreadable.
//
// Thread Safety: GeminiClient is safe for concurrent use.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	model      string
	baseURL    string
}

// NewGeminiClient creates a GeminiClient for the given API key.
//
// Inputs:
//   - apiKey: The Gemini API key. Must be non-empty.
//   - model: The model name. Empty selects DefaultGeminiModel.
//
// Outputs:
//   - *GeminiClient: The configured client.
//   - error: Non-nil if apiKey is empty.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     memguard.NewEnclave([]byte(apiKey)),
		model:      model,
		baseURL:    DefaultGeminiBaseURL,
	}, nil
}

// NewGeminiClientWithConfig creates a GeminiClient with an explicit base URL.
//
// Description:
//
//	Useful for testing with mock servers or routing through a proxy.
func NewGeminiClientWithConfig(apiKey, model, baseURL string) *GeminiClient {
	var key *memguard.Enclave
	if apiKey != "" {
		key = memguard.NewEnclave([]byte(apiKey))
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     key,
		model:      model,
		baseURL:    baseURL,
	}
}

// =============================================================================
// Wire Types
// =============================================================================

// geminiRequest is the request payload for generateContent.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolDeclaration `json:"tools,omitempty"`
}

// geminiContent represents a content block in the Gemini API.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of a content block.
type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

// geminiFunctionCall represents a function call from the model.
type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// geminiFunctionResp represents a function response to send back.
type geminiFunctionResp struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// geminiFunctionDeclaration defines a function for the Gemini API.
type geminiFunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// geminiToolDeclaration wraps function declarations for the tools array.
type geminiToolDeclaration struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

// geminiGenerationConfig controls generation behavior.
type geminiGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   any      `json:"responseSchema,omitempty"`
}

// geminiResponse is the response from generateContent. Streamed chunks from
// streamGenerateContent decode into the same shape.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiError      `json:"error,omitempty"`
}

// geminiCandidate represents a candidate response.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// geminiUsage contains token usage information.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiError represents an API error.
type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// =============================================================================
// Non-Streaming Calls
// =============================================================================

// Generate implements LLMClient.Generate.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return g.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements LLMClient.Chat using the generateContent API.
func (g *GeminiClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := g.buildRequest(messages, params)

	apiResp, err := g.doGenerate(ctx, g.resolveModel(params), "generateContent", req)
	if err != nil {
		return "", err
	}

	result := candidateText(apiResp)
	if result == "" {
		return "", fmt.Errorf("gemini: returned empty text content")
	}

	slog.Debug("Received Gemini response",
		slog.Int("response_len", len(result)),
		slog.String("finish_reason", apiResp.Candidates[0].FinishReason),
	)
	return result, nil
}

// ChatWithTools sends a chat request with tool definitions and returns tool calls.
//
// Description:
//
//	Extends Chat to support Gemini's function calling API. Converts generic
//	ToolDef and ChatMessage types to Gemini wire format, including
//	functionCall and functionResponse parts.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history with tool metadata.
//   - params: Generation parameters.
//   - tools: Tool definitions for function calling.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on failure.
//
// Thread Safety: This method is safe for concurrent use.
func (g *GeminiClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {

	req := geminiRequest{GenerationConfig: buildGenConfig(params)}

	if len(tools) > 0 {
		var funcDecls []geminiFunctionDeclaration
		for _, td := range tools {
			funcDecls = append(funcDecls, geminiFunctionDeclaration{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			})
		}
		req.Tools = []geminiToolDeclaration{{FunctionDeclarations: funcDecls}}
	}

	for _, msg := range messages {
		switch {
		case msg.Role == "system":
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content}},
			}

		case msg.Role == "tool" && msg.ToolName != "":
			// Tool result → functionResponse part
			var respData map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Content), &respData); err != nil {
				// If not valid JSON, wrap in a result object
				respData = map[string]interface{}{"result": msg.Content}
			}
			req.Contents = append(req.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{
					{FunctionResponse: &geminiFunctionResp{
						Name:     msg.ToolName,
						Response: respData,
					}},
				},
			})

		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			// Assistant with tool calls → functionCall parts
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]interface{}{}
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: parts})

		case msg.Role == "assistant":
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})

		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	apiResp, err := g.doGenerate(ctx, g.resolveModel(params), "generateContent", req)
	if err != nil {
		return nil, err
	}

	result := &ChatWithToolsResult{}
	var textParts []string
	callIndex := 0

	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
		if part.FunctionCall != nil {
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				argsJSON = []byte(`{}`)
			}
			// Gemini does not provide call IDs; generate synthetic ones.
			result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
				ID:        fmt.Sprintf("gemini-call-%d", callIndex),
				Name:      part.FunctionCall.Name,
				Arguments: json.RawMessage(argsJSON),
			})
			callIndex++
		}
	}

	result.Content = strings.Join(textParts, "")
	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}
	return result, nil
}

// =============================================================================
// Streaming
// =============================================================================

// ChatStream implements LLMClient.ChatStream using streamGenerateContent.
//
// Description:
//
//	Sends the conversation to the SSE variant of the generate endpoint
//	(alt=sse) and invokes callback once per text fragment as chunks
//	arrive. The stream ends when the server closes the response body.
//
// Inputs:
//   - ctx: Context for cancellation. Cancelling aborts the stream mid-flight.
//   - messages: Conversation history.
//   - params: Generation parameters.
//   - callback: Invoked per text fragment. A non-nil return aborts the stream.
//
// Outputs:
//   - error: Non-nil on transport failure, API error, or callback error.
//
// Thread Safety: This method is safe for concurrent use. Callback is
// invoked from a single goroutine, in arrival order.
func (g *GeminiClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	req := g.buildRequest(messages, params)
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("gemini: marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.resolveModel(params))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("gemini: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	key, err := g.openKey()
	if err != nil {
		return err
	}
	// Keep the buffer alive until the request has been written out.
	defer key.Destroy()
	httpReq.Header.Set("x-goog-api-key", key.String())

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	scanner := bufio.NewScanner(resp.Body)
	// Individual SSE events can carry large text parts.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Debug("Skipping unparseable SSE chunk", slog.Int("len", len(payload)))
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini: stream error [%d] %s: %s",
				chunk.Error.Code, chunk.Error.Status, SafeLogString(chunk.Error.Message))
		}
		if text := candidateText(&chunk); text != "" {
			if err := callback(text); err != nil {
				return fmt.Errorf("gemini: stream callback: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gemini: reading stream: %w", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// openKey decrypts the API key for one outbound request. The caller
// must Destroy the returned buffer after the request has been sent; the
// plaintext key exists only inside that locked allocation.
func (g *GeminiClient) openKey() (*memguard.LockedBuffer, error) {
	if g.apiKey == nil {
		return nil, fmt.Errorf("gemini: API key is missing")
	}
	key, err := g.apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("gemini: opening API key: %w", err)
	}
	return key, nil
}

func (g *GeminiClient) resolveModel(params GenerationParams) string {
	if params.ModelOverride != "" {
		return params.ModelOverride
	}
	return g.model
}

// doGenerate sends one request to the given endpoint verb and validates the
// response envelope. Callers can assume at least one candidate on success.
func (g *GeminiClient) doGenerate(ctx context.Context, model, verb string, payload geminiRequest) (*geminiResponse, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", g.baseURL, model, verb)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	key, err := g.openKey()
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	httpReq.Header.Set("x-goog-api-key", key.String())

	slog.Debug("Sending request to Gemini",
		slog.String("model", model),
		slog.Int("content_count", len(payload.Contents)),
	)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("gemini: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("gemini: API error [%d] %s: %s",
			apiResp.Error.Code, apiResp.Error.Status, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: returned no candidates")
	}
	return &apiResp, nil
}

// candidateText joins the text parts of the first candidate.
func candidateText(resp *geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}
	return strings.Join(textParts, "")
}

// buildGenConfig creates a generation config from params, or nil when every
// field is unset.
func buildGenConfig(params GenerationParams) *geminiGenerationConfig {
	genConfig := &geminiGenerationConfig{}
	hasConfig := false

	if params.Temperature != nil {
		genConfig.Temperature = params.Temperature
		hasConfig = true
	}
	if params.TopP != nil {
		genConfig.TopP = params.TopP
		hasConfig = true
	}
	if params.TopK != nil {
		genConfig.TopK = params.TopK
		hasConfig = true
	}
	if params.MaxTokens != nil {
		genConfig.MaxOutputTokens = params.MaxTokens
		hasConfig = true
	}
	if len(params.Stop) > 0 {
		genConfig.StopSequences = params.Stop
		hasConfig = true
	}
	if params.ResponseMIMEType != "" {
		genConfig.ResponseMIMEType = params.ResponseMIMEType
		hasConfig = true
	}
	if params.ResponseSchema != nil {
		genConfig.ResponseSchema = params.ResponseSchema
		hasConfig = true
	}

	if hasConfig {
		return genConfig
	}
	return nil
}

// buildRequest constructs the Gemini API request from plain messages.
func (g *GeminiClient) buildRequest(messages []Message, params GenerationParams) geminiRequest {
	req := geminiRequest{GenerationConfig: buildGenConfig(params)}

	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			// Gemini uses systemInstruction for system prompts
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content}},
			}
		case "assistant":
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			// "user" and unknown roles both map to user
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}
	return req
}
