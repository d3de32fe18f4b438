package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Environment:           "development",
			LogLevel:              "info",
			LogFormat:             "text",
			MaxConcurrentMessages: 8,
			QueueSize:             256,
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
		},
		WhatsApp: WhatsAppConfig{
			APIBase:          "https://graph.facebook.com",
			APIVersion:       "v21.0",
			WebhookPath:      "/webhook/whatsapp",
			BrazilNinthDigit: true,
			MaxBodyBytes:     1 << 20,
			TimeoutSeconds:   30,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.2,
			RatePerMinute:  120,
			Burst:          10,
			TimeoutSeconds: 60,
		},
		Agent: AgentConfig{
			MaxRounds:             10,
			MessageTimeoutSeconds: 120,
		},
		Cache: CacheConfig{
			Backend:         "sqlite",
			Namespace:       "recruitmate",
			SQLitePath:      "~/.recruitmate/cache.db",
			MaxEntries:      100000,
			DedupTTLHours:   24,
			SessionTTLHours: 8,
			ConfigTTLHours:  24,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.recruitmate/recruitmate.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "recruitmate",
			SampleRatio: 1,
		},
	}
}
