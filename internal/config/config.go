package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingAPIKey is returned by Load when no upstream credential is
// configured in the environment or the secrets file.
var ErrMissingAPIKey = errors.New("missing required config: Gemini API key")

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Models  ModelsConfig
	Retry   RetryConfig
	Storage StorageConfig
	Log     LogConfig
	Worker  WorkerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GeminiConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	APIKey     string
}

// ModelSelection holds the per-capability overrides. Whitelist and Fallbacks
// are comma-separated; an empty Fallbacks keeps the built-in defaults.
type ModelSelection struct {
	Preferred string
	Whitelist string
	Fallbacks string
}

// FallbackList splits Fallbacks into trimmed, non-empty entries. It returns
// nil when nothing is configured.
func (m ModelSelection) FallbackList() []string {
	var out []string
	for _, f := range strings.Split(m.Fallbacks, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type ModelsConfig struct {
	Text   ModelSelection
	Image  ModelSelection
	Vision ModelSelection
}

type RetryConfig struct {
	ServerErrorDelay  time.Duration
	RateLimitDelay    time.Duration
	DefaultRetryAfter int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type WorkerConfig struct {
	Concurrency int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Gemini: GeminiConfig{
			BaseURL:    "https://generativelanguage.googleapis.com",
			APIVersion: "v1beta",
			Timeout:    30 * time.Second,
		},
		Retry: RetryConfig{
			ServerErrorDelay:  500 * time.Millisecond,
			RateLimitDelay:    500 * time.Millisecond,
			DefaultRetryAfter: 60,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Worker: WorkerConfig{
			Concurrency: 2,
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/santaline/config.toml, environment variables, and the
// secrets file under the data directory.
//
// Environment variables override file values. The Gemini API key is never
// read from the config file; it comes from GEMINI_API_KEY or the secrets file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewKeychain())
}

func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(secretsService, accountGeminiKey); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("%w. Set it via environment variable GEMINI_API_KEY "+
			"or store it in %s", ErrMissingAPIKey, secretsFilePath())
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DBPath is the sqlite database location inside the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "santaline.db")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "santaline-data"
		}
	}
	return filepath.Join(dir, "santaline")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "santaline", "config.toml")
}
