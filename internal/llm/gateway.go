package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/attache-app/attache/internal/logging"
)

// fallbackText is returned when the model produces neither text nor a tool
// call; an empty assistant message must never reach the client.
const fallbackText = "Sorry, I didn't catch that. Could you rephrase?"

// LLMError wraps a chat-completion failure with the upstream status when
// one is available.
type LLMError struct {
	Status  int
	Message string
}

func (e *LLMError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s", e.Message)
}

// ToolCall is a structured function-invocation request extracted from the
// model's response. Arguments is never nil: malformed JSON from the model
// degrades to an empty map rather than an error.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Reply is the normalized result of one chat-completion round trip.
type Reply struct {
	AssistantText string
	ToolCalls     []ToolCall
}

// Gateway wraps the chat-completion endpoint with the fixed proposal tool
// schema. It is stateless; conversation memory is not kept server-side.
type Gateway struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger

	// sleep is swappable for tests of the retry path.
	sleep func(time.Duration)
}

// NewGateway creates a Gateway. baseURL overrides the API endpoint for
// OpenAI-compatible gateways and tests; empty selects the default.
func NewGateway(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *Gateway {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Invoke performs one chat-completion round trip with the proposal tool
// schema. systemPrompt carries the behavioral rules and redacted provider
// context; userText is the raw inbound message.
//
// A 429 or 5xx from upstream is retried once after a short backoff. Client
// errors (other 4xx) are never retried.
func (g *Gateway) Invoke(ctx context.Context, uid, systemPrompt, userText string) (*Reply, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		Tools: ProposalTools(),
	}

	resp, err := g.createWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		g.logger.Warn("llm returned no choices",
			logging.Operation("llm.invoke"),
			logging.UserHash(uid))
		return &Reply{AssistantText: fallbackText}, nil
	}

	msg := resp.Choices[0].Message
	reply := &Reply{AssistantText: msg.Content}

	for _, tc := range msg.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		if !KnownTool(tc.Function.Name) {
			g.logger.Warn("llm requested unknown tool",
				logging.Operation("llm.invoke"),
				slog.String("tool", tc.Function.Name),
				logging.UserHash(uid))
			continue
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments, g.logger),
		})
	}

	if reply.AssistantText == "" && len(reply.ToolCalls) == 0 {
		reply.AssistantText = fallbackText
	}

	g.logger.Debug("llm round trip",
		logging.Operation("llm.invoke"),
		logging.UserHash(uid),
		slog.String("schema", toolSchemaVersion),
		slog.Int("tool_calls", len(reply.ToolCalls)))

	return reply, nil
}

// createWithRetry performs the completion call, retrying once on 429/5xx.
func (g *Gateway) createWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err == nil {
		return resp, nil
	}

	status, msg := upstreamStatus(err)
	if !retryable(status) {
		return openai.ChatCompletionResponse{}, &LLMError{Status: status, Message: msg}
	}

	g.logger.Warn("llm call failed, retrying once",
		logging.Operation("llm.invoke"),
		slog.Int("status", status))
	g.sleep(500 * time.Millisecond)

	resp, err = g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		status, msg = upstreamStatus(err)
		return openai.ChatCompletionResponse{}, &LLMError{Status: status, Message: msg}
	}
	return resp, nil
}

// retryable reports whether one retry is warranted: rate limits and server
// errors only, never other client errors. Status 0 means a transport-level
// failure (timeout, connection reset), which is also worth one retry.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func upstreamStatus(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.Error()
	}
	return 0, err.Error()
}

// parseArguments decodes tool-call arguments defensively: the model
// occasionally emits truncated or invalid JSON, which must not fail the
// whole turn.
func parseArguments(raw string, logger *slog.Logger) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		logger.Warn("malformed tool-call arguments, using empty object",
			logging.Operation("llm.invoke"),
			logging.Err(err))
		return map[string]any{}
	}
	return args
}
