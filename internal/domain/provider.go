package domain

import (
	"context"
	"encoding/json"
)

// Backend is the language-model service driving the assistant. One call takes
// the whole transcript and the tool catalogue and returns zero or more output
// items.
type Backend interface {
	Respond(ctx context.Context, req BackendRequest) (*BackendResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// ToolChoice values understood by backends.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

type BackendRequest struct {
	Turns       []Turn
	Tools       []ToolDefinition
	ToolChoice  string
	Temperature float64
	Model       string
	APIKey      string // optional per-channel credential override
}

// Output item kinds returned by a backend.
const (
	OutputMessage      = "message"
	OutputFunctionCall = "function_call"
)

// Output is one item of a backend response.
type Output struct {
	Type string
	Text string    // message
	Call *ToolCall // function_call
}

type BackendResponse struct {
	ID      string
	Outputs []Output
	Usage   Usage
}

// HasToolCalls reports whether any output asks for a tool invocation.
func (r *BackendResponse) HasToolCalls() bool {
	for _, o := range r.Outputs {
		if o.Type == OutputFunctionCall {
			return true
		}
	}
	return false
}

// ToolCall is a tool invocation requested by the model mid-turn.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
