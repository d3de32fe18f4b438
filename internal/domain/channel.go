package domain

import (
	"context"
	"time"
)

// ChannelConfig identifies one WhatsApp Business phone number and the
// credentials used to talk to the Cloud API on its behalf.
type ChannelConfig struct {
	ID                string    `json:"id"`
	PhoneNumberID     string    `json:"phone_number_id"` // routing key
	BusinessAccountID string    `json:"business_account_id"`
	AccessToken       string    `json:"access_token"`
	VerifyToken       string    `json:"verify_token,omitempty"`
	SigningSecret     string    `json:"signing_secret,omitempty"`
	LLMAPIKey         string    `json:"llm_api_key,omitempty"` // owner's backend key; empty uses the global one
	OwnerID           string    `json:"owner_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// String masks credentials so configs can be logged safely.
func (c ChannelConfig) String() string {
	return "ChannelConfig{id: " + c.ID + ", owner: " + c.OwnerID + "}"
}

// ChannelStore is the read side of the channel configuration store, plus the
// few write operations the seed CLI needs.
type ChannelStore interface {
	// FindByRoutingKey returns nil, nil when no channel owns phoneNumberID.
	FindByRoutingKey(ctx context.Context, phoneNumberID string) (*ChannelConfig, error)
	ExistsVerifyToken(ctx context.Context, token string) (bool, error)

	UpsertChannel(ctx context.Context, cfg ChannelConfig) error
	ListChannels(ctx context.Context) ([]ChannelConfig, error)
	DeleteChannel(ctx context.Context, phoneNumberID string) error
}
