package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"recruitmate/internal/domain"
)

// Webhook payload shape, trimmed to what the pipeline reads.
type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         waMetadata  `json:"metadata"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

const (
	objectTag        = "whatsapp_business_account"
	messagingProduct = "whatsapp"
	messagesField    = "messages"
)

// ValidEnvelope reports whether a decoded JSON payload has the shape every
// delivery must have. Only the first entry and its first change are
// inspected: object must be the business account tag, entry[0] needs an id
// and a non-empty changes list, and changes[0] needs a field name and a value
// object. Message events also need the whatsapp product tag and a routing
// key, and any messages they carry need id, from and type strings.
func ValidEnvelope(payload any) bool {
	root, ok := payload.(map[string]any)
	if !ok || root["object"] != objectTag {
		return false
	}
	entries, ok := root["entry"].([]any)
	if !ok || len(entries) == 0 {
		return false
	}
	entry, ok := entries[0].(map[string]any)
	if !ok || blank(entry["id"]) {
		return false
	}
	changes, ok := entry["changes"].([]any)
	if !ok || len(changes) == 0 {
		return false
	}
	change, ok := changes[0].(map[string]any)
	if !ok || blank(change["field"]) {
		return false
	}
	value, ok := change["value"].(map[string]any)
	if !ok {
		return false
	}
	if change["field"] != messagesField {
		return true
	}

	if value["messaging_product"] != messagingProduct {
		return false
	}
	metadata, ok := value["metadata"].(map[string]any)
	if !ok || blank(metadata["phone_number_id"]) {
		return false
	}
	return validMessages(value["messages"])
}

func validMessages(raw any) bool {
	if raw == nil {
		return true
	}
	messages, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			return false
		}
		for _, field := range []string{"id", "from", "type"} {
			if blank(msg[field]) {
				return false
			}
		}
	}
	return true
}

// blank reports whether v is missing, not a string, or only whitespace.
func blank(v any) bool {
	s, ok := v.(string)
	return !ok || strings.TrimSpace(s) == ""
}

// RoutingKey returns entry[0].changes[0].value.metadata.phone_number_id, or
// "" when the payload does not carry one.
func RoutingKey(payload any) string {
	root, _ := payload.(map[string]any)
	entries, _ := root["entry"].([]any)
	if len(entries) == 0 {
		return ""
	}
	entry, _ := entries[0].(map[string]any)
	changes, _ := entry["changes"].([]any)
	if len(changes) == 0 {
		return ""
	}
	change, _ := changes[0].(map[string]any)
	value, _ := change["value"].(map[string]any)
	metadata, _ := value["metadata"].(map[string]any)
	id, _ := metadata["phone_number_id"].(string)
	return id
}

// ExtractEnvelopes flattens every message of every change in delivery order.
// Status-only changes contribute nothing.
func ExtractEnvelopes(rawBody []byte) ([]domain.Envelope, error) {
	var p waPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var out []domain.Envelope
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				env := domain.Envelope{
					MessageID:     msg.ID,
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					From:          msg.From,
					Type:          msg.Type,
					Timestamp:     parseTimestamp(msg.Timestamp),
				}
				if msg.Type == "text" && msg.Text != nil {
					env.Text = msg.Text.Body
				}
				out = append(out, env)
			}
		}
	}
	return out, nil
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
