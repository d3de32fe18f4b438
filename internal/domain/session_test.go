package domain

import (
	"encoding/json"
	"testing"
)

func TestSession_AppendDoesNotMutate(t *testing.T) {
	base := NewSession("be helpful")
	next := base.Append(Turn{Role: RoleUser, Content: "hi"})

	if base.Len() != 1 {
		t.Fatalf("base len = %d, want 1", base.Len())
	}
	if next.Len() != 2 {
		t.Fatalf("next len = %d, want 2", next.Len())
	}

	// Two appends from the same parent must not share a backing array.
	a := next.Append(Turn{Role: RoleAssistant, Content: "a"})
	b := next.Append(Turn{Role: RoleAssistant, Content: "b"})
	if last, _ := a.Last(); last.Content != "a" {
		t.Errorf("a.Last = %q, want a", last.Content)
	}
	if last, _ := b.Last(); last.Content != "b" {
		t.Errorf("b.Last = %q, want b", last.Content)
	}
}

func TestSession_TurnsIsCopy(t *testing.T) {
	s := NewSession("sys")
	turns := s.Turns()
	turns[0].Content = "changed"
	if s.Turns()[0].Content != "sys" {
		t.Error("Turns() exposed internal state")
	}
}

func TestSession_LastEmpty(t *testing.T) {
	var s Session
	if _, ok := s.Last(); ok {
		t.Error("Last on empty session should report false")
	}
}

func TestSession_JSON(t *testing.T) {
	s := NewSession("sys").Append(
		Turn{Role: RoleUser, Content: "vagas?"},
		Turn{Role: RoleTool, Content: `{"ok":true}`, Call: &ToolCall{CallID: "c1", Name: "list_jobs"}},
	)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("len = %d, want 3", got.Len())
	}
	last, _ := got.Last()
	if last.Call == nil || last.Call.CallID != "c1" {
		t.Errorf("tool call lost: %+v", last)
	}
}

func TestSession_UnmarshalRequiresSystemTurn(t *testing.T) {
	var s Session
	for _, in := range []string{
		`{"turns":[]}`,
		`{"turns":[{"role":"user","content":"hi"}]}`,
		`not json`,
	} {
		if err := json.Unmarshal([]byte(in), &s); err == nil {
			t.Errorf("Unmarshal(%s) should fail", in)
		}
	}
}
