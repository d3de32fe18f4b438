// Package bus queues deduplicated inbound messages between the webhook
// handler and the agent workers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"recruitmate/internal/domain"
)

const defaultPublishTimeout = 2 * time.Second

// InMemoryBus is a Go-channel based queue for in-process hand-off.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

// New creates a bus with the given buffer size. Publish waits at most
// publishTimeout for room before dropping; zero uses a short default.
func New(bufferSize int, publishTimeout time.Duration, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, bufferSize),
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Publish enqueues msg and reports whether it was accepted. It fails once the
// bus is closed or stayed full for the publish timeout.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "message_id", msg.Envelope.MessageID)
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "message_id", msg.Envelope.MessageID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return true
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"message_id", msg.Envelope.MessageID,
			"phone_number_id", msg.Envelope.PhoneNumberID,
			"waited", b.publishTimeout,
		)
		return false
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Len returns the number of queued messages.
func (b *InMemoryBus) Len() int {
	return len(b.inbound)
}

// Close stops accepting messages. Queued messages can still be received.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
