package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SANTALINE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SANTALINE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gemini.base_url", typ: kString, env: "SANTALINE_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.api_version", typ: kString, env: "SANTALINE_GEMINI_API_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIVersion = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIVersion },
	},
	{
		key: "gemini.timeout", typ: kDuration, env: "SANTALINE_GEMINI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gemini.Timeout },
	},
	{
		key: "gemini.api_key", typ: kString, env: "GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "models.text.preferred", typ: kString, env: "GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Text.Preferred = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Text.Preferred },
	},
	{
		key: "models.text.whitelist", typ: kString, env: "MODEL_WHITELIST",
		apply:   func(cfg *Config, v any) { cfg.Models.Text.Whitelist = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Text.Whitelist },
	},
	{
		key: "models.text.fallbacks", typ: kString, env: "SANTALINE_TEXT_FALLBACKS",
		apply:   func(cfg *Config, v any) { cfg.Models.Text.Fallbacks = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Text.Fallbacks },
	},
	{
		key: "models.image.preferred", typ: kString, env: "SANTALINE_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Image.Preferred = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Image.Preferred },
	},
	{
		key: "models.image.whitelist", typ: kString, env: "SANTALINE_IMAGE_WHITELIST",
		apply:   func(cfg *Config, v any) { cfg.Models.Image.Whitelist = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Image.Whitelist },
	},
	{
		key: "models.image.fallbacks", typ: kString, env: "SANTALINE_IMAGE_FALLBACKS",
		apply:   func(cfg *Config, v any) { cfg.Models.Image.Fallbacks = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Image.Fallbacks },
	},
	{
		key: "models.vision.preferred", typ: kString, env: "SANTALINE_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Vision.Preferred = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Vision.Preferred },
	},
	{
		key: "models.vision.whitelist", typ: kString, env: "SANTALINE_VISION_WHITELIST",
		apply:   func(cfg *Config, v any) { cfg.Models.Vision.Whitelist = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Vision.Whitelist },
	},
	{
		key: "models.vision.fallbacks", typ: kString, env: "SANTALINE_VISION_FALLBACKS",
		apply:   func(cfg *Config, v any) { cfg.Models.Vision.Fallbacks = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Vision.Fallbacks },
	},
	{
		key: "retry.server_error_delay", typ: kDuration, env: "SANTALINE_RETRY_SERVER_ERROR_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.ServerErrorDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.ServerErrorDelay },
	},
	{
		key: "retry.rate_limit_delay", typ: kDuration, env: "SANTALINE_RETRY_RATE_LIMIT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.RateLimitDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.RateLimitDelay },
	},
	{
		key: "retry.default_retry_after", typ: kInt, env: "SANTALINE_RETRY_DEFAULT_RETRY_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Retry.DefaultRetryAfter = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.DefaultRetryAfter },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SANTALINE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SANTALINE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SANTALINE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "worker.concurrency", typ: kInt, env: "SANTALINE_WORKER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Worker.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.Concurrency },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
