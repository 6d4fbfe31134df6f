package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey      = "AGENTCOMMS_API_KEY"
	EnvJWTSecret   = "AGENTCOMMS_JWT_SECRET"
	EnvDatabaseURL = "DATABASE_URL"
	EnvSlackURL    = "SLACK_WEBHOOK_URL"
	EnvLogLevel    = "AGENTCOMMS_LOG_LEVEL"
)

// File is <home>/config.yaml. Zero fields fall back to Default.
type File struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port,omitempty"`
	DBDriver string `yaml:"db_driver"`
	DBURL    string `yaml:"db_url,omitempty"`

	APIKey    string        `yaml:"api_key,omitempty"`
	JWTSecret string        `yaml:"jwt_secret,omitempty"`
	TokenTTL  time.Duration `yaml:"token_ttl,omitempty"`

	// Requests per minute per caller; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`

	Stream   Stream   `yaml:"stream"`
	Presence Presence `yaml:"presence"`
	Cache    Cache    `yaml:"cache"`
	Tasks    Tasks    `yaml:"tasks"`

	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	Otel            bool   `yaml:"otel"`
}

type Stream struct {
	BatchWindow time.Duration `yaml:"batch_window"`
	MaxBatch    int           `yaml:"max_batch"`
	Buffer      int           `yaml:"buffer"`
	Keepalive   time.Duration `yaml:"keepalive"`
}

type Presence struct {
	OnlineWindow time.Duration `yaml:"online_window"`
	AwayAfter    time.Duration `yaml:"away_after"`
}

type Cache struct {
	RosterTTL time.Duration `yaml:"roster_ttl"`
	UnreadTTL time.Duration `yaml:"unread_ttl"`
}

type Tasks struct {
	ArchiveAfter time.Duration `yaml:"archive_after"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	// SweepInterval runs the archive and lock purge in the background; 0 leaves it to reads.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() File {
	return File{
		Port:      3560,
		DBDriver:  "sqlite",
		RateLimit: 600,
		Stream: Stream{
			BatchWindow: 25 * time.Millisecond,
			MaxBatch:    64,
			Buffer:      256,
			Keepalive:   15 * time.Second,
		},
		Presence: Presence{OnlineWindow: 60 * time.Second, AwayAfter: 5 * time.Minute},
		Cache:    Cache{RosterTTL: 30 * time.Second, UnreadTTL: 10 * time.Second},
		Tasks: Tasks{
			ArchiveAfter:  24 * time.Hour,
			StaleAfter:    10 * time.Minute,
			SweepInterval: time.Minute,
		},
		LogLevel:  "info",
		LogFormat: "text",
		Otel:      true,
	}
}

// Path returns <home>/config.yaml.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Load reads <home>/config.yaml over Default. A missing file is not an error.
// Callers apply env overrides and then Validate.
func Load(home string) (File, error) {
	f := Default()
	data, err := os.ReadFile(Path(home))
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", Path(home), err)
	}
	return f, nil
}

// Save writes f to <home>/config.yaml.
func Save(home string, f File) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o600)
}

// ApplyEnv overrides secrets and connection settings from the environment.
func (f *File) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		f.APIKey = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		f.JWTSecret = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		f.DBURL = v
		if f.DBDriver == "" || f.DBDriver == "sqlite" {
			f.DBDriver = "postgres"
		}
	}
	if v := os.Getenv(EnvSlackURL); v != "" {
		f.SlackWebhookURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		f.LogLevel = v
	}
}

func (f File) Validate() error {
	switch f.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db_driver must be sqlite or postgres, got %q", f.DBDriver)
	}
	if f.DBDriver == "postgres" && f.DBURL == "" {
		return errors.New("db_url is required for postgres")
	}
	if f.Port < 0 || f.Port > 65535 {
		return fmt.Errorf("port out of range: %d", f.Port)
	}
	if f.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}

// LoadEnvFile sets KEY=VALUE lines from path into the environment.
func LoadEnvFile(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
