package domain

import (
	"context"
	"encoding/json"
)

// Tool is one callable function advertised to the language model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}
