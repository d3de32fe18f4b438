package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"recruitmate/internal/conversation"
	"recruitmate/internal/domain"
	"recruitmate/internal/metrics"
	"recruitmate/internal/tool"
	"recruitmate/internal/tracing"
)

const (
	defaultConcurrency    = 8
	defaultMessageTimeout = 2 * time.Minute
)

// MessengerFactory returns the outbound client for a channel.
type MessengerFactory func(ch domain.ChannelConfig) domain.Messenger

// Loop is the worker pool: it consumes the inbound bus and, per message,
// loads the session, runs the agent, sends the reply and saves the session.
type Loop struct {
	agent          *Agent
	conversations  *conversation.Store
	locks          *conversation.Locks
	messengers     MessengerFactory
	bus            domain.MessageBus
	logger         *slog.Logger
	concurrency    int
	messageTimeout time.Duration
	tracer         trace.Tracer
}

// LoopConfig holds all dependencies and tuning parameters for the worker loop.
type LoopConfig struct {
	Agent          *Agent
	Conversations  *conversation.Store
	Locks          *conversation.Locks
	Messengers     MessengerFactory
	Bus            domain.MessageBus
	Logger         *slog.Logger
	Concurrency    int
	MessageTimeout time.Duration
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}
	if cfg.Locks == nil {
		cfg.Locks = conversation.NewLocks()
	}
	return &Loop{
		agent:          cfg.Agent,
		conversations:  cfg.Conversations,
		locks:          cfg.Locks,
		messengers:     cfg.Messengers,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		messageTimeout: cfg.MessageTimeout,
		tracer:         tracing.Tracer("worker"),
	}
}

// Run consumes inbound messages with bounded concurrency until ctx is done or
// the bus is closed, then waits for in-flight messages to finish. In-flight
// work is not cancelled by ctx; it is bounded by the message timeout.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := semaphore.NewWeighted(int64(l.concurrency))
	inbound := l.bus.Subscribe()
	workCtx := context.WithoutCancel(ctx)

	defer func() {
		_ = sem.Acquire(context.Background(), int64(l.concurrency))
		l.logger.Info("agent loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping", "queued", len(inbound))
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound queue closed, agent loop stopping")
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				l.logger.Warn("shutdown before message could start", "message_id", msg.Envelope.MessageID)
				return
			}
			go func(m domain.InboundMessage) {
				defer sem.Release(1)
				_ = l.Process(workCtx, m)
			}(msg)
		}
	}
}

// Process handles one message end to end. Messages of the same conversation
// are serialised. Failures are logged and end in silence: no reply is sent
// and the session is left as it was.
func (l *Loop) Process(ctx context.Context, msg domain.InboundMessage) error {
	ctx, cancel := context.WithTimeout(ctx, l.messageTimeout)
	defer cancel()

	env := msg.Envelope
	key := conversation.ConversationKey(env.PhoneNumberID, env.From)
	logger := l.logger.With(
		"delivery_id", msg.DeliveryID,
		"message_id", env.MessageID,
		"phone_number_id", env.PhoneNumberID,
	)

	ctx, span := l.tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("whatsapp.message_id", env.MessageID),
		attribute.String("whatsapp.phone_number_id", env.PhoneNumberID),
	))
	defer span.End()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	started := time.Now()

	unlock := l.locks.Lock(key)
	defer unlock()

	session, err := l.conversations.LoadOrInit(ctx, key)
	if err != nil {
		return l.fail(span, logger, "failed", fmt.Errorf("load session: %w", err))
	}

	next, reply, err := l.agent.HandleMessage(ctx, session, env.Text, Options{APIKey: msg.Channel.LLMAPIKey})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrMaxRounds) {
			outcome = "max_rounds"
		} else if errors.Is(err, tool.ErrMalformedArguments) {
			outcome = "malformed_arguments"
		}
		return l.fail(span, logger, outcome, err)
	}

	outcome := "silent"
	if reply != "" {
		res, err := l.messengers(msg.Channel).SendText(ctx, env.From, reply)
		if err != nil {
			metrics.SendFailures.Inc()
			tracing.RecordError(span, err)
			logger.Error("reply not delivered", "err", err)
			outcome = "send_failed"
		} else {
			metrics.RepliesSent.Inc()
			logger.Info("reply sent", "parts", len(res.MessageIDs), "reply_len", len(reply))
			outcome = "replied"
		}
	}

	if err := l.conversations.Save(ctx, key, next); err != nil {
		logger.Error("session not saved", "err", err)
	}

	metrics.MessagesProcessed(outcome).Inc()
	metrics.MessageLatency.ObserveSince(started)
	return nil
}

func (l *Loop) fail(span trace.Span, logger *slog.Logger, outcome string, err error) error {
	tracing.RecordError(span, err)
	metrics.MessagesProcessed(outcome).Inc()
	logger.Error("message processing failed, no reply sent", "outcome", outcome, "err", err)
	return err
}
