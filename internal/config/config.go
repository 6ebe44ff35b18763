// Package config loads the slackagent configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CurrentVersion is the configuration file version this build reads.
const CurrentVersion = 1

const (
	// DefaultModel is used when model.name is unset.
	DefaultModel = "gemini-2.0-flash-exp"

	// DefaultSystemInstruction is used when model.system_instruction is unset.
	DefaultSystemInstruction = `You are talking with users on Slack and reply when they mention you.
- Every user message starts with @<your ID>. That mention refers to you, so do not repeat it in your reply.
- Answer questions as accurately as you can.
- When a question is ambiguous, ask the user to clarify. Say what you already understand, what is missing and why you need it.`
)

// Config is the main configuration structure for slackagent.
type Config struct {
	Version       int                 `yaml:"version"`
	Slack         SlackConfig         `yaml:"slack"`
	Model         ModelConfig         `yaml:"model"`
	Media         MediaConfig         `yaml:"media"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Dedupe        DedupeConfig        `yaml:"dedupe"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type ModelConfig struct {
	Name              string `yaml:"name"`
	SystemInstruction string `yaml:"system_instruction"`
	APIKey            string `yaml:"api_key"`
	MaxToolIterations int    `yaml:"max_tool_iterations"`
	ParallelTools     bool   `yaml:"parallel_tools"`
	MaxRetries        int    `yaml:"max_retries"`
	// TurnTimeout bounds a whole mention turn, tool rounds included.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

type MediaConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	// WarmPageSize is the page size used to list remote files at startup.
	// Zero disables warming.
	WarmPageSize  int `yaml:"warm_page_size"`
	FetchAttempts int `yaml:"fetch_attempts"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

type DedupeConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults plus environment fallbacks.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files from the working directory. Existing
// variables are never overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func applyEnv(cfg *Config) {
	if cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if cfg.Slack.AppToken == "" {
		cfg.Slack.AppToken = os.Getenv("SLACK_APP_TOKEN")
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("GOOGLE_API_TOKEN")
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModel
	}
	if strings.TrimSpace(cfg.Model.SystemInstruction) == "" {
		cfg.Model.SystemInstruction = DefaultSystemInstruction
	}
	if cfg.Model.MaxToolIterations == 0 {
		cfg.Model.MaxToolIterations = 10
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.TurnTimeout == 0 {
		cfg.Model.TurnTimeout = 10 * time.Minute
	}
	if cfg.Media.PollInterval == 0 {
		cfg.Media.PollInterval = 5 * time.Second
	}
	if cfg.Media.MaxPollAttempts == 0 {
		cfg.Media.MaxPollAttempts = 60
	}
	if cfg.Media.FetchAttempts == 0 {
		cfg.Media.FetchAttempts = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = 10 * time.Minute
	}
	if cfg.Dedupe.MaxSize == 0 {
		cfg.Dedupe.MaxSize = 1000
	}
}

// Validate reports every problem with cfg at once.
func (c *Config) Validate() error {
	var issues []string
	if c.Version != CurrentVersion {
		issues = append(issues, fmt.Sprintf("version %d is unsupported (current: %d)", c.Version, CurrentVersion))
	}
	if c.Slack.BotToken == "" {
		issues = append(issues, "slack.bot_token is required (or set SLACK_BOT_TOKEN)")
	} else if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		issues = append(issues, "slack.bot_token must start with xoxb-")
	}
	if c.Slack.AppToken == "" {
		issues = append(issues, "slack.app_token is required (or set SLACK_APP_TOKEN)")
	} else if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		issues = append(issues, "slack.app_token must start with xapp-")
	}
	if c.Model.APIKey == "" {
		issues = append(issues, "model.api_key is required (or set GOOGLE_API_TOKEN)")
	}
	if c.Model.MaxToolIterations < 0 {
		issues = append(issues, "model.max_tool_iterations must be positive")
	}
	if c.Media.MaxPollAttempts < 0 || c.Media.PollInterval < 0 {
		issues = append(issues, "media polling settings must be positive")
	}
	if c.Media.WarmPageSize < 0 {
		issues = append(issues, "media.warm_page_size must not be negative")
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be within [0, 1]")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid config")

// ValidationError lists configuration problems.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
