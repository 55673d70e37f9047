// Package agent runs tool-augmented language model completions and
// schema-checked classification calls.
package agent

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrClassification marks a structured answer that is malformed or
	// outside its schema.
	ErrClassification = errors.New("classification contract violation")
	ErrNoChoices      = errors.New("model returned no choices")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. It is persisted as part of a run's
// transcript, so its JSON shape is stable.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolFunc executes a tool. A returned error is reported to the model as the
// tool's output rather than aborting the completion.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object. Nil means the tool takes no
	// arguments.
	Parameters json.RawMessage
	Execute    ToolFunc
}

type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []Tool
}

// Response holds the final answer and every turn the completion appended
// after the request's messages.
type Response struct {
	Text     string
	Messages []Message
}

type ClassifyRequest struct {
	Model    string
	System   string
	Messages []Message
	Schema   json.RawMessage
}

// Invoker is the language model capability the runner depends on.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	// Classify asks for a JSON object matching req.Schema and decodes it into
	// out. Any violation wraps ErrClassification.
	Classify(ctx context.Context, req ClassifyRequest, out any) error
}
