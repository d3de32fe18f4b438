package domain

import "context"

// SendResult lists the provider message ids of a delivered reply. Long
// replies are delivered as several messages.
type SendResult struct {
	MessageIDs []string
}

// Messenger delivers text to one peer of a messaging channel.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (*SendResult, error)
}
