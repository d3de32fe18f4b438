// Package store persists channel configurations and open positions. The
// sqlite implementation lives here; store/pg provides the Postgres one.
package store

import (
	"context"
	"errors"
	"strings"

	"recruitmate/internal/domain"
	"recruitmate/internal/secrets"
)

// ErrNotFound is returned by write operations that target a missing row.
// Reads report absence as a nil result instead.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence surface the binary needs.
type Store interface {
	domain.ChannelStore
	domain.PositionStore
	Ping(ctx context.Context) error
	Close() error
}

// Sealer is the credential cipher shared by every Store implementation. A
// nil *secrets.Box stores credentials as given.
type Sealer struct {
	Box *secrets.Box
}

func (s Sealer) Seal(v string) (string, error) {
	if s.Box == nil {
		return v, nil
	}
	return s.Box.Seal(v)
}

func (s Sealer) Open(v string) (string, error) {
	if s.Box == nil {
		return v, nil
	}
	return s.Box.Open(v)
}

// SealChannel returns ch with its credentials sealed.
func (s Sealer) SealChannel(ch domain.ChannelConfig) (domain.ChannelConfig, error) {
	var err error
	if ch.AccessToken, err = s.Seal(ch.AccessToken); err != nil {
		return ch, err
	}
	if ch.SigningSecret, err = s.Seal(ch.SigningSecret); err != nil {
		return ch, err
	}
	if ch.LLMAPIKey, err = s.Seal(ch.LLMAPIKey); err != nil {
		return ch, err
	}
	return ch, nil
}

// OpenChannel reverses SealChannel.
func (s Sealer) OpenChannel(ch domain.ChannelConfig) (domain.ChannelConfig, error) {
	var err error
	if ch.AccessToken, err = s.Open(ch.AccessToken); err != nil {
		return ch, err
	}
	if ch.SigningSecret, err = s.Open(ch.SigningSecret); err != nil {
		return ch, err
	}
	if ch.LLMAPIKey, err = s.Open(ch.LLMAPIKey); err != nil {
		return ch, err
	}
	return ch, nil
}

// VerifyDigest is the value stored for a verify token. Empty tokens stay
// empty so they never match a lookup.
func VerifyDigest(token string) string {
	if token == "" {
		return ""
	}
	return secrets.Digest(token)
}

// LikePattern builds a substring LIKE pattern, escaping wildcards with '\'.
func LikePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
