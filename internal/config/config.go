package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for recruitmate.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	LLM      LLMConfig      `json:"llm"`
	Agent    AgentConfig    `json:"agent"`
	Cache    CacheConfig    `json:"cache"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
	Tracing  TracingConfig  `json:"tracing"`
}

type GeneralConfig struct {
	Environment           string `json:"environment"` // "development" | "production" | "test"
	LogLevel              string `json:"logLevel"`
	LogFormat             string `json:"logFormat,omitempty"` // "text" | "json"
	LogFile               string `json:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	QueueSize             int    `json:"queueSize"`
}

// Production reports whether the local-testing fallbacks must be disabled.
func (g GeneralConfig) Production() bool {
	return strings.EqualFold(g.Environment, "production")
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"readTimeoutSeconds"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds"`
}

type WhatsAppConfig struct {
	APIBase     string `json:"apiBase"`
	APIVersion  string `json:"apiVersion"`
	WebhookPath string `json:"webhookPath"`
	// AppSecret signs every delivery of the Meta app. When set (or when a
	// channel carries its own signing secret) X-Hub-Signature-256 is enforced.
	AppSecret string `json:"appSecret,omitempty"`
	// FallbackVerifyToken is accepted by the handshake outside production only.
	FallbackVerifyToken string `json:"fallbackVerifyToken,omitempty"`
	BrazilNinthDigit    bool   `json:"brazilNinthDigit"`
	MaxBodyBytes        int64  `json:"maxBodyBytes"`
	TimeoutSeconds      int    `json:"timeoutSeconds"`
}

type LLMConfig struct {
	Provider       string  `json:"provider"` // "openai"
	APIBase        string  `json:"apiBase"`
	APIKey         string  `json:"apiKey,omitempty"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	RatePerMinute  float64 `json:"ratePerMinute"`
	Burst          int     `json:"burst"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
}

type AgentConfig struct {
	MaxRounds             int    `json:"maxRounds"`
	MessageTimeoutSeconds int    `json:"messageTimeoutSeconds"`
	SystemPromptExtra     string `json:"systemPromptExtra,omitempty"`
}

type CacheConfig struct {
	Backend         string `json:"backend"` // "memory" | "sqlite" | "redis"
	RedisURL        string `json:"redisUrl,omitempty"`
	Namespace       string `json:"namespace,omitempty"`
	SQLitePath      string `json:"sqlitePath,omitempty"`
	MaxEntries      int    `json:"maxEntries"`
	DedupTTLHours   int    `json:"dedupTtlHours"`
	SessionTTLHours int    `json:"sessionTtlHours"`
	ConfigTTLHours  int    `json:"configTtlHours"`
}

type StoreConfig struct {
	Driver        string `json:"driver"` // "sqlite" | "postgres"
	SQLitePath    string `json:"sqlitePath"`
	PostgresDSN   string `json:"postgresDsn,omitempty"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // OTLP/HTTP host:port
	Insecure    bool    `json:"insecure"`
	ServiceName string  `json:"serviceName"`
	SampleRatio float64 `json:"sampleRatio"`
}

// DefaultConfigDir returns the default config directory (~/.recruitmate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recruitmate"
	}
	return filepath.Join(home, ".recruitmate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file, after loading any .env file found next to it or
// in the working directory. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Cache.SQLitePath = ExpandPath(cfg.Cache.SQLitePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults is Load, falling back to defaults (plus environment
// overrides) when the file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	loadDotEnv(".env")
	cfg = Defaults()
	applyEnvOverrides(cfg)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Cache.SQLitePath = ExpandPath(cfg.Cache.SQLitePath)
	return cfg, Validate(cfg)
}

// loadDotEnv loads the first existing file. Variables already present in the
// process environment win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
		return
	}
}

// applyEnvOverrides lets secrets come from the environment only, never from
// the config file.
func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	override(&cfg.General.Environment, "RECRUITMATE_ENV", "APP_ENV")
	override(&cfg.WhatsApp.FallbackVerifyToken, "WHATSAPP_WEBHOOK_VERIFY_TOKEN")
	override(&cfg.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	override(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	override(&cfg.Store.PostgresDSN, "DATABASE_URL")
	override(&cfg.Store.EncryptionKey, "RECRUITMATE_ENCRYPTION_KEY")
	override(&cfg.Cache.RedisURL, "REDIS_URL")
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.Environment) {
	case "development", "production", "test":
	default:
		errs = append(errs, "general.environment must be one of: development, production, test")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if !strings.HasPrefix(cfg.WhatsApp.WebhookPath, "/") {
		errs = append(errs, "whatsapp.webhookPath must start with /")
	}
	if cfg.WhatsApp.MaxBodyBytes < 1024 {
		errs = append(errs, "whatsapp.maxBodyBytes must be >= 1024")
	}

	if cfg.LLM.Provider != "openai" {
		errs = append(errs, "llm.provider must be: openai")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.RatePerMinute <= 0 {
		errs = append(errs, "llm.ratePerMinute must be > 0")
	}

	if cfg.Agent.MaxRounds < 1 || cfg.Agent.MaxRounds > 50 {
		errs = append(errs, "agent.maxRounds must be between 1 and 50")
	}
	if cfg.Agent.MessageTimeoutSeconds < 1 {
		errs = append(errs, "agent.messageTimeoutSeconds must be >= 1")
	}

	switch cfg.Cache.Backend {
	case "memory", "sqlite":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			errs = append(errs, "cache.redisUrl is required for the redis backend")
		}
	default:
		errs = append(errs, "cache.backend must be one of: memory, sqlite, redis")
	}
	if cfg.Cache.DedupTTLHours < 1 || cfg.Cache.SessionTTLHours < 1 || cfg.Cache.ConfigTTLHours < 1 {
		errs = append(errs, "cache TTLs must be >= 1 hour")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, "store.postgresDsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}
	if cfg.General.Production() && cfg.Store.EncryptionKey == "" {
		errs = append(errs, "store.encryptionKey (or RECRUITMATE_ENCRYPTION_KEY) is required in production")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
