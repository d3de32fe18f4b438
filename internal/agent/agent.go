package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"recruitmate/internal/domain"
	"recruitmate/internal/metrics"
	"recruitmate/internal/tool"
	"recruitmate/internal/tracing"
)

const (
	defaultMaxRounds     = 10
	defaultTemperature   = 0.2
	defaultRatePerMinute = 120.0
	defaultRateBurst     = 10
)

// ErrMaxRounds is returned when the model keeps requesting tools past the
// configured number of rounds.
var ErrMaxRounds = errors.New("tool-call round limit exceeded")

// Agent runs the function-calling loop for one inbound message.
type Agent struct {
	backend     domain.Backend
	tools       *tool.Registry
	limiter     *rate.Limiter
	model       string
	temperature float64
	maxRounds   int
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Config struct {
	Backend     domain.Backend
	Tools       *tool.Registry
	Limiter     *rate.Limiter // shared across workers; nil builds a default one
	Model       string
	Temperature float64
	MaxRounds   int
	Logger      *slog.Logger
}

// NewLimiter converts a per-minute budget into a token bucket.
func NewLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

func New(cfg Config) *Agent {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(0, 0)
	}
	return &Agent{
		backend:     cfg.Backend,
		tools:       cfg.Tools,
		limiter:     cfg.Limiter,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRounds:   cfg.MaxRounds,
		logger:      cfg.Logger,
		tracer:      tracing.Tracer("agent"),
	}
}

// Options carries per-channel overrides.
type Options struct {
	APIKey string
}

// HandleMessage appends text as a user turn and drives the backend until it
// answers without requesting tools. Every output of a response is processed
// in order: messages become assistant turns, function calls are dispatched
// and become tool turns. The reply is the last assistant turn added by this
// call, or "" when the model produced none.
//
// On error the returned session holds the turns added so far; callers should
// not persist it.
func (a *Agent) HandleMessage(ctx context.Context, session domain.Session, text string, opts Options) (domain.Session, string, error) {
	ctx, span := a.tracer.Start(ctx, "agent.handle_message")
	defer span.End()

	session = session.Append(domain.Turn{Role: domain.RoleUser, Content: text})
	start := session.Len()
	defs := a.tools.GetDefinitions()

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			tracing.RecordError(span, err)
			return session, "", err
		}

		resp, err := a.respond(ctx, session, defs, opts, round)
		if err != nil {
			tracing.RecordError(span, err)
			return session, "", err
		}

		if !resp.HasToolCalls() {
			session = appendMessages(session, resp.Outputs)
			span.SetAttributes(attribute.Int("agent.rounds", round))
			return session, lastReply(session, start), nil
		}
		if round >= a.maxRounds {
			err := fmt.Errorf("%w (%d)", ErrMaxRounds, a.maxRounds)
			tracing.RecordError(span, err)
			return session, "", err
		}

		for _, out := range resp.Outputs {
			switch out.Type {
			case domain.OutputMessage:
				session = appendMessages(session, []domain.Output{out})
			case domain.OutputFunctionCall:
				result, err := a.dispatch(ctx, out.Call)
				if err != nil {
					tracing.RecordError(span, err)
					return session, "", err
				}
				session = session.Append(domain.Turn{Role: domain.RoleTool, Content: result, Call: out.Call})
			}
		}
	}
}

func (a *Agent) respond(ctx context.Context, session domain.Session, defs []domain.ToolDefinition, opts Options, round int) (*domain.BackendResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	ctx, span := a.tracer.Start(ctx, "backend.respond", trace.WithAttributes(
		attribute.Int("agent.round", round),
		attribute.Int("agent.turns", session.Len()),
	))
	defer span.End()

	started := time.Now()
	metrics.BackendRequests.Inc()
	resp, err := a.backend.Respond(ctx, domain.BackendRequest{
		Turns:       session.Turns(),
		Tools:       defs,
		ToolChoice:  domain.ToolChoiceAuto,
		Temperature: a.temperature,
		Model:       a.model,
		APIKey:      opts.APIKey,
	})
	metrics.BackendLatency.ObserveSince(started)
	if err != nil {
		metrics.BackendErrors.Inc()
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("backend: %w", err)
	}

	a.logger.Debug("backend responded",
		"round", round,
		"outputs", len(resp.Outputs),
		"tokens", resp.Usage.TotalTokens,
		"latency", time.Since(started),
	)
	return resp, nil
}

func (a *Agent) dispatch(ctx context.Context, call *domain.ToolCall) (string, error) {
	ctx, span := a.tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
	))
	defer span.End()

	a.logger.Info("dispatching tool", "tool", call.Name, "call_id", call.CallID)
	metrics.ToolCalls(call.Name).Inc()

	result, err := a.tools.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	return result, nil
}

func appendMessages(session domain.Session, outputs []domain.Output) domain.Session {
	for _, out := range outputs {
		if out.Type == domain.OutputMessage && out.Text != "" {
			session = session.Append(domain.Turn{Role: domain.RoleAssistant, Content: out.Text})
		}
	}
	return session
}

// lastReply returns the newest assistant turn at or after index start.
func lastReply(session domain.Session, start int) string {
	turns := session.Turns()
	for i := len(turns) - 1; i >= start; i-- {
		if turns[i].Role == domain.RoleAssistant {
			return turns[i].Content
		}
	}
	return ""
}
