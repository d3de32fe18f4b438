package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"recruitmate/internal/domain"
)

const signaturePrefix = "sha256="

// AuthConfig configures webhook authentication.
type AuthConfig struct {
	Channels domain.ChannelStore

	// AppSecret signs deliveries for channels without their own secret.
	AppSecret string

	// FallbackVerifyToken is accepted by the handshake outside production
	// only, so local setups work before any channel is registered.
	FallbackVerifyToken string
	Production          bool

	Logger *slog.Logger
}

// Authenticator checks both halves of the webhook contract: the GET
// subscription handshake and the signature of every POST delivery.
type Authenticator struct {
	channels   domain.ChannelStore
	appSecret  string
	fallback   string
	production bool
	logger     *slog.Logger
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{
		channels:   cfg.Channels,
		appSecret:  cfg.AppSecret,
		fallback:   cfg.FallbackVerifyToken,
		production: cfg.Production,
		logger:     cfg.Logger,
	}
}

// VerifyHandshake reports whether a subscription request may be answered
// with its challenge. Store errors deny the handshake.
func (a *Authenticator) VerifyHandshake(ctx context.Context, mode, token string) bool {
	if mode != "subscribe" || token == "" {
		return false
	}

	ok, err := a.channels.ExistsVerifyToken(ctx, token)
	if err != nil {
		a.logger.Error("verify token lookup failed", "err", err)
		return false
	}
	if ok {
		return true
	}

	if !a.production && a.fallback != "" {
		return hmac.Equal([]byte(token), []byte(a.fallback))
	}
	return false
}

// SigningSecret picks the secret deliveries for ch are signed with. An empty
// result means signatures are not checked.
func (a *Authenticator) SigningSecret(ch *domain.ChannelConfig) string {
	if ch != nil && ch.SigningSecret != "" {
		return ch.SigningSecret
	}
	return a.appSecret
}

// VerifySignature checks an X-Hub-Signature-256 header value against the
// HMAC-SHA256 of the raw request body.
func VerifySignature(secret string, rawBody []byte, provided string) bool {
	if secret == "" || !strings.HasPrefix(provided, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(provided, signaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(got, computeHMAC(secret, rawBody))
}

// Sign returns the header value a delivery of rawBody would carry.
func Sign(secret string, rawBody []byte) string {
	return signaturePrefix + hex.EncodeToString(computeHMAC(secret, rawBody))
}

func computeHMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
