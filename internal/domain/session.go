package domain

import (
	"encoding/json"
	"errors"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is one role-tagged entry of a session transcript. A tool turn carries
// the call it answers so the transcript can be replayed to the backend.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Call    *ToolCall `json:"call,omitempty"`
}

// Session is an immutable conversation transcript. Append returns a new value;
// the receiver is never modified, so a session loaded from the cache can be
// shared without copying.
type Session struct {
	turns []Turn
}

// NewSession starts a transcript with the given system instruction.
func NewSession(systemPrompt string) Session {
	return Session{turns: []Turn{{Role: RoleSystem, Content: systemPrompt}}}
}

// Append returns a session with turns added at the end.
func (s Session) Append(turns ...Turn) Session {
	next := make([]Turn, len(s.turns), len(s.turns)+len(turns))
	copy(next, s.turns)
	return Session{turns: append(next, turns...)}
}

// Turns returns a copy of the transcript.
func (s Session) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s Session) Len() int { return len(s.turns) }

// Last returns the final turn, if any.
func (s Session) Last() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

type sessionJSON struct {
	Turns []Turn `json:"turns"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{Turns: s.turns})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Turns) == 0 || raw.Turns[0].Role != RoleSystem {
		return errors.New("session must start with a system turn")
	}
	s.turns = raw.Turns
	return nil
}
