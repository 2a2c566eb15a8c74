// Package config loads application configuration from YAML with environment
// fallbacks. A .env file is honored when present so local development
// matches hosted deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxConfigSize guards against accidentally pointing at a huge file.
const maxConfigSize = 1 << 20

// Config represents the application configuration.
type Config struct {
	// Provider selects the model backend: gemini, genai, openai, bedrock.
	Provider string `yaml:"provider"`

	// API keys; environment variables win over empty YAML fields.
	GeminiKey string `yaml:"gemini_key"`
	OpenAIKey string `yaml:"openai_key"`

	// AWS configuration for the Bedrock provider.
	AWSRegion string `yaml:"aws_region"`

	// Model configuration
	PreferredModel string   `yaml:"preferred_model"`
	FallbackModels []string `yaml:"fallback_models"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`

	// Retry behavior: "backoff" retries the same model with doubling waits,
	// "skip" moves to the next model immediately.
	RetryPolicy string        `yaml:"retry_policy"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`

	// MinCallGap is the minimum spacing between model call starts.
	MinCallGap time.Duration `yaml:"min_call_gap"`

	// Storage selects the session backend: memory, file, sqlite, redis,
	// firestore.
	Storage StorageConfig `yaml:"storage"`

	// Server configuration
	Server ServerConfig `yaml:"server"`
}

// StorageConfig holds session store configuration.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path is the data directory (file backend) or database file (sqlite).
	Path string `yaml:"path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	GCPProject     string `yaml:"gcp_project"`
	GCPCredentials string `yaml:"gcp_credentials"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Addr        string  `yaml:"addr"`
	MetricsAddr string  `yaml:"metrics_addr"`
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads configuration from a YAML file, then fills gaps from the
// environment and defaults.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path) // #nosec G304 - path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// LoadEnvFile loads a .env file into the process environment when present.
// Missing files are not an error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.PreferredModel == "" {
		c.PreferredModel = "gemini-2.0-flash"
	}
	if len(c.FallbackModels) == 0 {
		c.FallbackModels = []string{"gemini-2.0-flash-lite", "gemini-1.5-flash"}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = "backoff"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MinCallGap == 0 {
		c.MinCallGap = 1500 * time.Millisecond
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "socratic.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 5
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 10
	}
}

func (c *Config) applyEnv() {
	if c.GeminiKey == "" {
		c.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.GeminiKey == "" {
		c.GeminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.AWSRegion == "" {
		c.AWSRegion = os.Getenv("AWS_REGION")
	}
	if v := os.Getenv("SOCRATIC_MODEL"); v != "" {
		c.PreferredModel = v
	}
	if v := os.Getenv("SOCRATIC_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.Storage.GCPProject == "" {
		c.Storage.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if c.Storage.GCPCredentials == "" {
		c.Storage.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// Credential returns the API key for the configured provider, or an error
// when it is empty. An empty credential is fatal: nothing downstream can
// retry its way around it.
func (c *Config) Credential() (string, error) {
	var key, envHint string
	switch strings.ToLower(c.Provider) {
	case "gemini", "genai":
		key, envHint = c.GeminiKey, "GEMINI_API_KEY"
	case "openai":
		key, envHint = c.OpenAIKey, "OPENAI_API_KEY"
	case "bedrock":
		// Bedrock uses the AWS credential chain, not a bare key.
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider %q", c.Provider)
	}
	if key == "" {
		return "", fmt.Errorf("no API key configured for provider %s (set %s)", c.Provider, envHint)
	}
	return key, nil
}

// Models returns the candidate model order: the preferred model first, then
// the fallbacks with duplicates removed.
func (c *Config) Models() []string {
	out := []string{c.PreferredModel}
	for _, m := range c.FallbackModels {
		if m != c.PreferredModel {
			out = append(out, m)
		}
	}
	return out
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
