package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"recruitmate/internal/domain"
	"recruitmate/internal/metrics"
	"recruitmate/internal/tracing"
)

// DefaultMaxBodyBytes caps webhook request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Conversations is the part of the conversation store the webhook needs.
type Conversations interface {
	ChannelConfig(ctx context.Context, phoneNumberID string) (*domain.ChannelConfig, error)
	MarkSeenIfNew(ctx context.Context, messageID string) (bool, error)
}

// WebhookConfig wires a WebhookHandler.
type WebhookConfig struct {
	Auth          *Authenticator
	Conversations Conversations
	Bus           domain.MessageBus
	MaxBodyBytes  int64
	Logger        *slog.Logger
}

// WebhookHandler serves the WhatsApp webhook endpoint. GET answers the
// subscription handshake; POST validates, authenticates and deduplicates a
// delivery and queues its text messages for the agent workers.
type WebhookHandler struct {
	auth          *Authenticator
	conversations Conversations
	bus           domain.MessageBus
	maxBody       int64
	logger        *slog.Logger
	now           func() time.Time
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		auth:          cfg.Auth,
		conversations: cfg.Conversations,
		bus:           cfg.Bus,
		maxBody:       cfg.MaxBodyBytes,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

func (h *WebhookHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleVerification(rw, r)
	case http.MethodPost:
		h.HandleDelivery(rw, r)
	default:
		rw.Header().Set("Allow", "GET, POST")
		h.respond(rw, http.StatusMethodNotAllowed)
	}
}

// HandleVerification answers hub.challenge when the verify token is known.
func (h *WebhookHandler) HandleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")

	if !h.auth.VerifyHandshake(r.Context(), mode, q.Get("hub.verify_token")) {
		h.logger.Warn("whatsapp webhook verification failed", "mode", mode)
		h.respond(rw, http.StatusForbidden)
		return
	}

	h.logger.Info("whatsapp webhook verified")
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	metrics.WebhookResponses(http.StatusOK).Inc()
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, html.EscapeString(q.Get("hub.challenge")))
}

// HandleDelivery processes one POST delivery.
func (h *WebhookHandler) HandleDelivery(rw http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.Tracer("webhook").Start(r.Context(), "webhook.delivery")
	defer span.End()

	status := h.deliver(ctx, r)
	span.SetAttributes(attribute.Int("http.status_code", status))
	h.respond(rw, status)
}

func (h *WebhookHandler) deliver(ctx context.Context, r *http.Request) int {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("whatsapp payload too large", "limit", tooLarge.Limit)
			return http.StatusRequestEntityTooLarge
		}
		h.logger.Warn("whatsapp read body failed", "err", err)
		return http.StatusBadRequest
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("whatsapp bad payload", "err", err)
		return http.StatusBadRequest
	}
	if !ValidEnvelope(payload) {
		h.logger.Warn("whatsapp payload failed schema check")
		return http.StatusBadRequest
	}

	routingKey := RoutingKey(payload)
	if routingKey == "" {
		// Non-message events such as account updates carry no routing key.
		h.logger.Debug("ignoring whatsapp event without routing key")
		return http.StatusOK
	}
	ch, err := h.conversations.ChannelConfig(ctx, routingKey)
	if err != nil {
		h.logger.Error("channel lookup failed", "phone_number_id", routingKey, "err", err)
		return http.StatusInternalServerError
	}
	if ch == nil {
		h.logger.Warn("whatsapp delivery for unknown channel", "phone_number_id", routingKey)
		return http.StatusNotFound
	}

	if secret := h.auth.SigningSecret(ch); secret != "" {
		if !VerifySignature(secret, body, r.Header.Get("X-Hub-Signature-256")) {
			h.logger.Warn("whatsapp invalid signature", "phone_number_id", routingKey)
			return http.StatusForbidden
		}
	}

	envelopes, err := ExtractEnvelopes(body)
	if err != nil {
		h.logger.Warn("whatsapp bad payload", "err", err)
		return http.StatusBadRequest
	}

	for _, env := range envelopes {
		if !env.IsText() {
			h.logger.Debug("skipping non-text message", "message_id", env.MessageID, "type", env.Type)
			continue
		}
		if env.PhoneNumberID != ch.PhoneNumberID {
			h.logger.Warn("skipping message for another channel",
				"message_id", env.MessageID,
				"phone_number_id", env.PhoneNumberID,
			)
			continue
		}

		fresh, err := h.conversations.MarkSeenIfNew(ctx, env.MessageID)
		if err != nil {
			// Already-queued messages are deduplicated on redelivery.
			h.logger.Error("dedup check failed", "message_id", env.MessageID, "err", err)
			return http.StatusInternalServerError
		}
		if !fresh {
			metrics.DuplicateMessages.Inc()
			h.logger.Info("duplicate whatsapp message", "message_id", env.MessageID)
			continue
		}

		msg := domain.InboundMessage{
			DeliveryID: uuid.NewString(),
			Envelope:   env,
			Channel:    *ch,
			Received:   h.now(),
		}
		if !h.bus.Publish(msg) {
			metrics.QueueDropped.Inc()
			h.logger.Error("inbound queue full, message dropped",
				"message_id", env.MessageID,
				"delivery_id", msg.DeliveryID,
			)
			continue
		}

		h.logger.Info("whatsapp message received",
			"message_id", env.MessageID,
			"delivery_id", msg.DeliveryID,
			"text_len", len(env.Text),
		)
	}

	return http.StatusOK
}

func (h *WebhookHandler) respond(rw http.ResponseWriter, status int) {
	metrics.WebhookResponses(status).Inc()
	rw.WriteHeader(status)
}
