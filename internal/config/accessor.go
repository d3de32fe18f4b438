package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the generic JSON view of a Config used by the dot-path accessors.
type tree map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t tree) apply(cfg *Config) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// section walks every segment but the last and returns the object holding the
// leaf. With create set, missing sections are added on the way.
func (t tree) section(parts []string, create bool) (map[string]any, error) {
	cur := map[string]any(t)
	for i, key := range parts[:len(parts)-1] {
		next, ok := cur[key]
		if !ok {
			if !create {
				return nil, fmt.Errorf("key not found: %s", strings.Join(parts[:i+1], "."))
			}
			m := map[string]any{}
			cur[key] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s is a %T, not a section", strings.Join(parts[:i+1], "."), next)
		}
		cur = m
	}
	return cur, nil
}

func splitPath(path string) ([]string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
	}
	return parts, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "llm.model").
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	sec, err := t.section(parts, false)
	if err != nil {
		return nil, err
	}
	val, ok := sec[parts[len(parts)-1]]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return val, nil
}

// SetByPath sets a leaf value by dot-notation path. String input is coerced
// to the type of the current value; whole sections cannot be replaced.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	sec, err := t.section(parts, true)
	if err != nil {
		return err
	}

	leaf := parts[len(parts)-1]
	current, exists := sec[leaf]
	if _, isSection := current.(map[string]any); isSection {
		return fmt.Errorf("%s is a section; set one of its keys", path)
	}
	coerced, err := coerce(value, current, exists)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	sec[leaf] = coerced

	err = t.apply(cfg)
	if err != nil && !exists {
		// A guessed number or bool for an omitted string field.
		sec[leaf] = value
		err = t.apply(cfg)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// coerce converts CLI string input. Known leaves keep their JSON type; unset
// optional leaves (omitted from the tree) are guessed from the input.
func coerce(v, current any, exists bool) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if !exists {
		return guess(s), nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", s)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("want a number, got %q", s)
		}
		return f, nil
	default:
		return s, nil
	}
}

func guess(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with credentials masked, safe for
// printing.
func Sanitize(cfg *Config) *Config {
	safe := *cfg
	for _, secret := range []*string{
		&safe.WhatsApp.AppSecret,
		&safe.WhatsApp.FallbackVerifyToken,
		&safe.LLM.APIKey,
		&safe.Store.EncryptionKey,
	} {
		if *secret != "" {
			*secret = mask(*secret)
		}
	}
	// Connection strings embed passwords anywhere in the string.
	for _, dsn := range []*string{&safe.Store.PostgresDSN, &safe.Cache.RedisURL} {
		if *dsn != "" {
			*dsn = "***"
		}
	}
	return &safe
}

func mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", t)
	return out
}
