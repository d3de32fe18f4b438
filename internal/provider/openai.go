package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"recruitmate/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAI implements domain.Backend against the OpenAI Responses API.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		retry:   defaultRetry,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type respRequest struct {
	Model       string      `json:"model"`
	Input       []respInput `json:"input"`
	Tools       []respTool  `json:"tools,omitempty"`
	ToolChoice  string      `json:"tool_choice,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

// respInput is one input item: either a role message or a function call /
// function call output pair member.
type respInput struct {
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type respTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type respResponse struct {
	ID     string       `json:"id"`
	Output []respOutput `json:"output"`
	Usage  respUsage    `json:"usage"`
}

type respOutput struct {
	Type      string        `json:"type"`
	Role      string        `json:"role"`
	Content   []respContent `json:"content"`
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
}

type respContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type respUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (o *OpenAI) Respond(ctx context.Context, req domain.BackendRequest) (*domain.BackendResponse, error) {
	body := respRequest{
		Model:      req.Model,
		Input:      toInput(req.Turns),
		ToolChoice: req.ToolChoice,
	}
	if body.Model == "" {
		body.Model = o.model
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, respTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if len(body.Tools) == 0 {
		body.ToolChoice = ""
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	apiKey := o.apiKey
	if req.APIKey != "" {
		apiKey = req.APIKey
	}

	resp, err := doWithRetry(ctx, o.client, o.retry, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/responses", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai %d: %s", resp.StatusCode, string(respBody))
	}

	var out respResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return fromOutput(out), nil
}

// toInput flattens a transcript into Responses API input items. A tool turn
// expands to the function_call it answers followed by its output.
func toInput(turns []domain.Turn) []respInput {
	items := make([]respInput, 0, len(turns))
	for _, t := range turns {
		if t.Role == domain.RoleTool && t.Call != nil {
			items = append(items,
				respInput{
					Type:      "function_call",
					CallID:    t.Call.CallID,
					Name:      t.Call.Name,
					Arguments: string(t.Call.Arguments),
				},
				respInput{
					Type:   "function_call_output",
					CallID: t.Call.CallID,
					Output: t.Content,
				},
			)
			continue
		}
		items = append(items, respInput{Role: t.Role, Content: t.Content})
	}
	return items
}

func fromOutput(r respResponse) *domain.BackendResponse {
	out := &domain.BackendResponse{
		ID: r.ID,
		Usage: domain.Usage{
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
			TotalTokens:  r.Usage.TotalTokens,
		},
	}

	for _, item := range r.Output {
		switch item.Type {
		case domain.OutputMessage:
			var text strings.Builder
			for _, c := range item.Content {
				if c.Type == "output_text" || c.Type == "text" {
					text.WriteString(c.Text)
				}
			}
			out.Outputs = append(out.Outputs, domain.Output{Type: domain.OutputMessage, Text: text.String()})
		case domain.OutputFunctionCall:
			callID := item.CallID
			if callID == "" {
				callID = "call_" + uuid.NewString()
			}
			out.Outputs = append(out.Outputs, domain.Output{
				Type: domain.OutputFunctionCall,
				Call: &domain.ToolCall{
					CallID:    callID,
					Name:      item.Name,
					Arguments: rawArguments(item.Arguments),
				},
			})
		}
	}
	return out
}

// rawArguments keeps valid JSON as is. Anything else is carried as a JSON
// string so the transcript stays encodable and the tool rejects it.
func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
