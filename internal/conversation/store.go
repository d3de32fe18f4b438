// Package conversation keeps the per-conversation state of the webhook
// pipeline in the shared cache: processed-message markers, agent sessions and
// the cached channel configuration.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"recruitmate/internal/domain"
	"recruitmate/internal/secrets"
)

const (
	DefaultDedupTTL   = 24 * time.Hour
	DefaultSessionTTL = 8 * time.Hour
	DefaultConfigTTL  = 24 * time.Hour
)

var nullBlob = []byte("null")

// MessageKey is the dedup marker key for a provider message id.
func MessageKey(messageID string) string {
	return "whatsapp:message:" + messageID
}

// ConversationKey identifies the session between a channel and one peer.
func ConversationKey(phoneNumberID, peer string) string {
	return "whatsapp:conversation:" + phoneNumberID + ":" + peer
}

// ConfigKey is the cache key of a channel configuration lookup.
func ConfigKey(phoneNumberID string) string {
	return "whatsapp:config:" + phoneNumberID
}

// Options configures a Store. Zero TTLs fall back to the defaults.
type Options struct {
	SystemPrompt string
	DedupTTL     time.Duration
	SessionTTL   time.Duration
	ConfigTTL    time.Duration
	// Box seals channel configs before they are written to the cache.
	// Nil stores them as plain JSON.
	Box *secrets.Box
}

type Store struct {
	cache    domain.Cache
	channels domain.ChannelStore
	opts     Options
	logger   *slog.Logger
}

func NewStore(cache domain.Cache, channels domain.ChannelStore, opts Options, logger *slog.Logger) *Store {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = DefaultConfigTTL
	}
	return &Store{cache: cache, channels: channels, opts: opts, logger: logger}
}

func (s *Store) HasSeenMessage(ctx context.Context, messageID string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, MessageKey(messageID))
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", messageID, err)
	}
	return ok, nil
}

func (s *Store) MarkSeen(ctx context.Context, messageID string) error {
	if err := s.cache.Set(ctx, MessageKey(messageID), []byte("1"), s.opts.DedupTTL); err != nil {
		return fmt.Errorf("mark message %s: %w", messageID, err)
	}
	return nil
}

// MarkSeenIfNew records messageID and reports whether this call was the one
// that recorded it. Concurrent deliveries of the same id get exactly one true.
func (s *Store) MarkSeenIfNew(ctx context.Context, messageID string) (bool, error) {
	stored, err := s.cache.SetNX(ctx, MessageKey(messageID), []byte("1"), s.opts.DedupTTL)
	if err != nil {
		return false, fmt.Errorf("mark message %s: %w", messageID, err)
	}
	return stored, nil
}

// LoadOrInit returns the cached session for key, or a fresh one holding only
// the system instruction. A session that no longer decodes is discarded.
func (s *Store) LoadOrInit(ctx context.Context, key string) (domain.Session, error) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session %s: %w", key, err)
	}
	if !ok {
		return domain.NewSession(s.opts.SystemPrompt), nil
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("discarding unreadable session", "key", key, "err", err)
		return domain.NewSession(s.opts.SystemPrompt), nil
	}
	return session, nil
}

// Save writes the session and restarts its time to live.
func (s *Store) Save(ctx context.Context, key string, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data, s.opts.SessionTTL); err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}

// ChannelConfig resolves a routing key through the cache. Unknown routing
// keys are cached too, so a flood of bad deliveries does not reach the store.
// It returns nil, nil for an unknown key.
func (s *Store) ChannelConfig(ctx context.Context, phoneNumberID string) (*domain.ChannelConfig, error) {
	key := ConfigKey(phoneNumberID)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("config cache read failed, using store", "key", key, "err", err)
	} else if ok {
		cfg, err := s.decodeConfig(data)
		if err == nil {
			return cfg, nil
		}
		s.logger.Warn("discarding unreadable cached config", "key", key, "err", err)
	}

	cfg, err := s.channels.FindByRoutingKey(ctx, phoneNumberID)
	if err != nil {
		return nil, fmt.Errorf("find channel %s: %w", phoneNumberID, err)
	}

	blob, err := s.encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, blob, s.opts.ConfigTTL); err != nil {
		s.logger.Warn("config cache write failed", "key", key, "err", err)
	}
	return cfg, nil
}

// InvalidateChannel drops the cached config so the next lookup hits the store.
func (s *Store) InvalidateChannel(ctx context.Context, phoneNumberID string) error {
	return s.cache.Delete(ctx, ConfigKey(phoneNumberID))
}

func (s *Store) encodeConfig(cfg *domain.ChannelConfig) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode channel config: %w", err)
	}
	if s.opts.Box == nil {
		return data, nil
	}
	sealed, err := s.opts.Box.SealBytes(data)
	if err != nil {
		return nil, fmt.Errorf("seal channel config: %w", err)
	}
	return sealed, nil
}

func (s *Store) decodeConfig(blob []byte) (*domain.ChannelConfig, error) {
	if s.opts.Box != nil {
		opened, err := s.opts.Box.OpenBytes(blob)
		if err != nil {
			return nil, err
		}
		blob = opened
	}
	if string(blob) == string(nullBlob) {
		return nil, nil
	}
	var cfg domain.ChannelConfig
	if err := json.Unmarshal(blob, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
