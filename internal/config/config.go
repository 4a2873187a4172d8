package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the client. File values
// come first, PARISHLY_* environment variables override them.
type Config struct {
	Backend BackendConfig
	Session SessionConfig
	Storage StorageConfig
}

// BackendConfig points at the hosted backend and carries the public API key.
type BackendConfig struct {
	URL         string
	APIKey      string
	HTTPTimeout time.Duration
}

// SessionConfig tunes the bootstrap state machine.
type SessionConfig struct {
	BootstrapTimeout time.Duration
	LookupRetries    int
	LookupRetryDelay time.Duration
	// RequireProfile forces sign-out when the profile row is definitively
	// missing. Off by default: a missing profile is a degraded but valid
	// logged-in state.
	RequireProfile bool
}

// StorageConfig names the buckets the feature modules upload into.
type StorageConfig struct {
	DocumentBucket string
	ReceiptBucket  string
	AvatarBucket   string
}

// configFile mirrors the YAML schema. Durations are plain strings there
// ("10s", "100ms") and resolved here, so Config itself stays typed.
type configFile struct {
	Backend struct {
		URL         string `yaml:"url"`
		APIKey      string `yaml:"api_key"`
		HTTPTimeout string `yaml:"http_timeout"`
	} `yaml:"backend"`
	Session struct {
		BootstrapTimeout string `yaml:"bootstrap_timeout"`
		LookupRetries    int    `yaml:"lookup_retries"`
		LookupRetryDelay string `yaml:"lookup_retry_delay"`
		RequireProfile   bool   `yaml:"require_profile"`
	} `yaml:"session"`
	Storage struct {
		DocumentBucket string `yaml:"document_bucket"`
		ReceiptBucket  string `yaml:"receipt_bucket"`
		AvatarBucket   string `yaml:"avatar_bucket"`
	} `yaml:"storage"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			HTTPTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			BootstrapTimeout: 10 * time.Second,
			LookupRetries:    3,
			LookupRetryDelay: 100 * time.Millisecond,
		},
		Storage: StorageConfig{
			DocumentBucket: "documents",
			ReceiptBucket:  "receipts",
			AvatarBucket:   "avatars",
		},
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result. An empty path skips the file layer entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var file configFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := cfg.applyFile(file); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(file configFile) error {
	if v := strings.TrimSpace(file.Backend.URL); v != "" {
		c.Backend.URL = v
	}
	if v := strings.TrimSpace(file.Backend.APIKey); v != "" {
		c.Backend.APIKey = v
	}
	if err := parseDuration(&c.Backend.HTTPTimeout, file.Backend.HTTPTimeout); err != nil {
		return fmt.Errorf("backend.http_timeout: %w", err)
	}
	if err := parseDuration(&c.Session.BootstrapTimeout, file.Session.BootstrapTimeout); err != nil {
		return fmt.Errorf("session.bootstrap_timeout: %w", err)
	}
	if file.Session.LookupRetries > 0 {
		c.Session.LookupRetries = file.Session.LookupRetries
	}
	if err := parseDuration(&c.Session.LookupRetryDelay, file.Session.LookupRetryDelay); err != nil {
		return fmt.Errorf("session.lookup_retry_delay: %w", err)
	}
	c.Session.RequireProfile = file.Session.RequireProfile
	if v := strings.TrimSpace(file.Storage.DocumentBucket); v != "" {
		c.Storage.DocumentBucket = v
	}
	if v := strings.TrimSpace(file.Storage.ReceiptBucket); v != "" {
		c.Storage.ReceiptBucket = v
	}
	if v := strings.TrimSpace(file.Storage.AvatarBucket); v != "" {
		c.Storage.AvatarBucket = v
	}
	return nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("config: backend url is required")
	}
	if strings.TrimSpace(c.Backend.APIKey) == "" {
		return errors.New("config: backend api_key is required")
	}
	if c.Session.LookupRetries < 1 {
		return errors.New("config: session lookup_retries must be at least 1")
	}
	if c.Session.BootstrapTimeout <= 0 {
		return errors.New("config: session bootstrap_timeout must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Backend.URL, "PARISHLY_BACKEND_URL")
	setString(&cfg.Backend.APIKey, "PARISHLY_API_KEY")
	setEnvDuration(&cfg.Backend.HTTPTimeout, "PARISHLY_HTTP_TIMEOUT")
	setEnvDuration(&cfg.Session.BootstrapTimeout, "PARISHLY_BOOTSTRAP_TIMEOUT")
	setInt(&cfg.Session.LookupRetries, "PARISHLY_LOOKUP_RETRIES")
	setEnvDuration(&cfg.Session.LookupRetryDelay, "PARISHLY_LOOKUP_RETRY_DELAY")
	setBool(&cfg.Session.RequireProfile, "PARISHLY_REQUIRE_PROFILE")
	setString(&cfg.Storage.DocumentBucket, "PARISHLY_DOCUMENT_BUCKET")
	setString(&cfg.Storage.ReceiptBucket, "PARISHLY_RECEIPT_BUCKET")
	setString(&cfg.Storage.AvatarBucket, "PARISHLY_AVATAR_BUCKET")
}

func parseDuration(dst *time.Duration, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	*dst = d
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setEnvDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
