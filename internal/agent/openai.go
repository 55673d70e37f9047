package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/watzon/dbsentry/internal/config"
	"github.com/watzon/dbsentry/internal/metrics"
)

var emptyParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// OpenAI implements Invoker on any OpenAI-compatible chat completions API.
type OpenAI struct {
	client        *openai.Client
	limiter       *rate.Limiter
	defaultModel  string
	maxToolRounds int
	timeout       time.Duration
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	maxRounds := cfg.MaxToolRounds
	if maxRounds < 1 {
		maxRounds = config.DefaultMaxToolRounds
	}

	return &OpenAI{
		client:        openai.NewClientWithConfig(clientCfg),
		limiter:       rate.NewLimiter(limit, 1),
		defaultModel:  cfg.DefaultModel,
		maxToolRounds: maxRounds,
		timeout:       cfg.RequestTimeout,
	}
}

// Invoke runs the completion until the model answers without calling a tool.
// Tools are withheld on the last allowed round so the loop always ends with
// an answer.
func (o *OpenAI) Invoke(ctx context.Context, req Request) (*Response, error) {
	msgs := toChatMessages(req.System, req.Messages)
	tools := toChatTools(req.Tools)
	byName := make(map[string]Tool, len(req.Tools))
	for _, t := range req.Tools {
		byName[t.Name] = t
	}

	var trace []Message
	for round := 0; ; round++ {
		chatReq := openai.ChatCompletionRequest{
			Model:    o.model(req.Model),
			Messages: msgs,
		}
		if round < o.maxToolRounds && len(tools) > 0 {
			chatReq.Tools = tools
		}

		msg, err := o.complete(ctx, "invoke", chatReq)
		if err != nil {
			return nil, err
		}

		turn := fromChatMessage(msg)
		trace = append(trace, turn)
		msgs = append(msgs, msg)

		if len(msg.ToolCalls) == 0 {
			return &Response{Text: msg.Content, Messages: trace}, nil
		}

		for _, call := range msg.ToolCalls {
			out := runTool(ctx, byName, call)
			trace = append(trace, Message{
				Role:       RoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}
}

func (o *OpenAI) Classify(ctx context.Context, req ClassifyRequest, out any) error {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond with a single JSON object that validates against this JSON schema:\n" + string(req.Schema)

	msg, err := o.complete(ctx, "classify", openai.ChatCompletionRequest{
		Model:    o.model(req.Model),
		Messages: toChatMessages(system, req.Messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return err
	}

	return DecodeStructured(req.Schema, msg.Content, out)
}

func (o *OpenAI) complete(ctx context.Context, kind string, req openai.ChatCompletionRequest) (openai.ChatCompletionMessage, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.RecordAgentCall(kind, "error")
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.RecordAgentCall(kind, "error")
		return openai.ChatCompletionMessage{}, ErrNoChoices
	}

	metrics.RecordAgentCall(kind, "ok")
	log.Debug().
		Str("model", req.Model).
		Str("kind", kind).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("Chat completion finished")

	return resp.Choices[0].Message, nil
}

func (o *OpenAI) model(m string) string {
	if m != "" {
		return m
	}
	return o.defaultModel
}

func runTool(ctx context.Context, tools map[string]Tool, call openai.ToolCall) (out string) {
	tool, ok := tools[call.Function.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("Error: tool %s panicked: %v", tool.Name, p)
		}
	}()

	args := json.RawMessage(strings.TrimSpace(call.Function.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		log.Debug().Err(err).Str("tool", tool.Name).Msg("Tool returned an error")
		return "Error: " + err.Error()
	}
	return result
}

func toChatMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromChatMessage(msg openai.ChatCompletionMessage) Message {
	m := Message{
		Role:    RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return m
}

func toChatTools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParameters
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
