package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"recruitmate/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name     string
	result   string
	err      error
	lastArgs json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	s.lastArgs = args
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "test_tool", result: "ok"})

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("expected to find registered tool")
	}
	if got.Name() != "test_tool" {
		t.Fatalf("expected 'test_tool', got %q", got.Name())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "echo", result: "hello"})

	result, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected 'hello', got %q", result)
	}
}

func TestRegistry_DispatchUnknownIsRecoverable(t *testing.T) {
	reg := NewRegistry(testLogger())

	result, err := reg.Dispatch(context.Background(), "launch_rockets", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unknown tool must not return an error, got %v", err)
	}
	if result != `{"error":"Unknown tool called: launch_rockets"}` {
		t.Fatalf("unexpected payload %q", result)
	}
}

func TestRegistry_DispatchEmptyArgsBecomeObject(t *testing.T) {
	reg := NewRegistry(testLogger())
	stub := &stubTool{name: "echo", result: "ok"}
	reg.Register(stub)

	if _, err := reg.Dispatch(context.Background(), "echo", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(stub.lastArgs) != "{}" {
		t.Fatalf("expected {} args, got %q", stub.lastArgs)
	}
}

func TestRegistry_DispatchWrapsToolErrors(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "bad", err: ErrMalformedArguments})

	_, err := reg.Dispatch(context.Background(), "bad", json.RawMessage(`{}`))
	if !errors.Is(err, ErrMalformedArguments) {
		t.Fatalf("expected ErrMalformedArguments, got %v", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "b"}, &stubTool{name: "a"}, &stubTool{name: "c"})

	names := reg.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistry_GetDefinitions(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "beta"}, &stubTool{name: "alpha"})

	defs := reg.GetDefinitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Name != "alpha" || defs[0].Description != "stub: alpha" {
		t.Fatalf("unexpected first definition %+v", defs[0])
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "dup", result: "first"})
	reg.Register(&stubTool{name: "dup", result: "second"})

	result, _ := reg.Dispatch(context.Background(), "dup", nil)
	if result != "second" {
		t.Fatalf("expected 'second', got %q", result)
	}
}

func TestToolParameters_WithRequired(t *testing.T) {
	schema := ToolParameters(map[string]Param{
		"id": {Type: "integer", Description: "The job id"},
	}, []string{"id"})

	if schema["type"] != "object" {
		t.Fatalf("expected type object, got %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	id := props["id"].(map[string]any)
	if id["type"] != "integer" {
		t.Fatalf("expected integer, got %v", id["type"])
	}
	req := schema["required"].([]string)
	if len(req) != 1 || req[0] != "id" {
		t.Fatalf("unexpected required %v", req)
	}
}

func TestToolParameters_NoRequired(t *testing.T) {
	schema := ToolParameters(map[string]Param{}, nil)
	if _, ok := schema["required"]; ok {
		t.Fatal("required should be omitted")
	}
}

func TestDecodeArgs(t *testing.T) {
	var dst struct {
		ID *int64 `json:"id"`
	}
	cases := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"object", `{"id": 3}`, false},
		{"empty", ``, false},
		{"whitespace", `  `, false},
		{"broken", `{"id":`, true},
		{"array", `[1,2]`, true},
		{"string", `"3"`, true},
		{"type mismatch", `{"id": "three"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DecodeArgs(json.RawMessage(tc.args), &dst)
			if tc.wantErr && !errors.Is(err, ErrMalformedArguments) {
				t.Fatalf("expected ErrMalformedArguments, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
