package domain

import "time"

// Envelope is one normalized inbound message extracted from a webhook payload.
type Envelope struct {
	MessageID     string
	PhoneNumberID string // routing key of the receiving channel
	From          string
	Type          string // text | image | audio | ... (only text is processed)
	Text          string
	Timestamp     time.Time
}

// IsText reports whether the envelope carries a processable text body.
func (e Envelope) IsText() bool {
	return e.Type == "text" && e.Text != ""
}

// InboundMessage is a deduplicated envelope queued for the agent, together
// with the channel it arrived on.
type InboundMessage struct {
	DeliveryID string
	Envelope   Envelope
	Channel    ChannelConfig
	Received   time.Time
}
