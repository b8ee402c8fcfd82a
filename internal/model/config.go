package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("model: invalid config")

// Config holds all engine configuration
type Config struct {
	Categories   []string          `yaml:"categories" mapstructure:"categories"`
	Thresholds   ThresholdConfig   `yaml:"thresholds" mapstructure:"thresholds"`
	HumanReview  map[string]bool   `yaml:"human_review_enabled" mapstructure:"human_review_enabled"` // Initial per-category overrides
	Models       []ModelConfig     `yaml:"models" mapstructure:"models"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Storage      StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Handoff      HandoffConfig     `yaml:"handoff" mapstructure:"handoff"`
	Segment      SegmentConfig     `yaml:"segment" mapstructure:"segment"`
	Fetch        FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Server       ServerConfig      `yaml:"server" mapstructure:"server"`
	Telemetry    TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Output       OutputConfig      `yaml:"output" mapstructure:"output"`
}

// ThresholdConfig holds the decision thresholds
type ThresholdConfig struct {
	Label               float64 `yaml:"label_threshold" mapstructure:"label_threshold"`                         // Per-model score needed to vote
	Supermajority       float64 `yaml:"supermajority_threshold" mapstructure:"supermajority_threshold"`         // Fraction of members needed to accept
	Entropy             float64 `yaml:"entropy_threshold" mapstructure:"entropy_threshold"`                     // Bits above which a unit is reviewed
	CategoryAccuracy    float64 `yaml:"category_accuracy_threshold" mapstructure:"category_accuracy_threshold"` // Accuracy needed for handoff
	MinSamplesHandoff   int     `yaml:"min_samples_for_handoff" mapstructure:"min_samples_for_handoff"`
	MinRespondingModels int     `yaml:"min_responding_models" mapstructure:"min_responding_models"`
}

// ModelConfig describes one ensemble member
type ModelConfig struct {
	Name        string  `yaml:"name" mapstructure:"name"`                                         // Unique member id
	Provider    string  `yaml:"provider" mapstructure:"provider"`                                 // openai, anthropic, ollama, lexicon
	Model       string  `yaml:"model,omitempty" mapstructure:"model"`                             // Provider-specific model name
	APIKeyEnv   string  `yaml:"api_key_env,omitempty" mapstructure:"api_key_env"`                 // Env var holding the key
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`                       // Custom endpoint
	Timeout     int     `yaml:"timeout,omitempty" mapstructure:"timeout"`                         // Seconds
	MaxTokens   int     `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`                   // Response budget
	LexiconPath string  `yaml:"lexicon_path,omitempty" mapstructure:"lexicon_path"`               // Lexicon provider only; empty uses built-in
	HTTPProxy   string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`                   // Overrides HTTP_PROXY
	HTTPSProxy  string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`                 // Overrides HTTPS_PROXY
	NoProxy     string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`                       // Overrides NO_PROXY
	RatePerSec  float64 `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"` // Per-member override
}

// APIKey resolves the member's API key from its environment variable
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// ConcurrencyConfig controls parallelism
type ConcurrencyConfig struct {
	ModelWorkers int `yaml:"model_workers" mapstructure:"model_workers"` // Members scored concurrently per unit
	BatchWorkers int `yaml:"batch_workers" mapstructure:"batch_workers"` // Units classified concurrently
}

// RateLimitConfig controls request pacing per model endpoint
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig controls the model score cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// StorageConfig selects persistence backends
type StorageConfig struct {
	Driver         string      `yaml:"driver" mapstructure:"driver"`                   // sqlite (modernc) or sqlite3 (cgo)
	Path           string      `yaml:"path" mapstructure:"path"`                       // Database file
	HandoffBackend string      `yaml:"handoff_backend" mapstructure:"handoff_backend"` // sql, redis, memory
	Redis          RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig configures the shared handoff state
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Key      string `yaml:"key" mapstructure:"key"`
}

// HandoffConfig controls periodic policy evaluation
type HandoffConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"` // Five-field cron spec; empty disables
	Actor    string `yaml:"actor" mapstructure:"actor"`       // Recorded on automatic transitions
}

// SegmentConfig controls sentence segmentation
type SegmentConfig struct {
	MinLength int `yaml:"min_length" mapstructure:"min_length"`
	MaxLength int `yaml:"max_length" mapstructure:"max_length"`
}

// FetchConfig controls URL ingest
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBytes      int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// ServerConfig controls the HTTP surface
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	JWTSecret    string        `yaml:"jwt_secret,omitempty" mapstructure:"jwt_secret"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// TelemetryConfig controls OpenTelemetry metrics export
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"service_name" mapstructure:"service_name"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	ExportInterval time.Duration `yaml:"export_interval" mapstructure:"export_interval"`
}

// OutputConfig controls CLI rendering
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Format  string `yaml:"format" mapstructure:"format"` // text, json, markdown
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	baseDir := filepath.Join(home, ".processor")

	return &Config{
		Categories: DefaultCategorySet().Names(),
		Thresholds: ThresholdConfig{
			Label:               0.5,
			Supermajority:       0.8,
			Entropy:             1.5,
			CategoryAccuracy:    0.90,
			MinSamplesHandoff:   50,
			MinRespondingModels: 2,
		},
		HumanReview: map[string]bool{},
		Models: []ModelConfig{
			{Name: "gpt-4o-mini", Provider: "openai", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", Timeout: 30, MaxTokens: 400},
			{Name: "claude-haiku", Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKeyEnv: "ANTHROPIC_API_KEY", Timeout: 30, MaxTokens: 400},
			{Name: "llama3", Provider: "ollama", Model: "llama3.1:8b", BaseURL: "http://localhost:11434", Timeout: 60, MaxTokens: 400},
			{Name: "lexicon", Provider: "lexicon"},
		},
		Concurrency: ConcurrencyConfig{
			ModelWorkers: 4,
			BatchWorkers: 4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 5.0,
			BurstSize:         5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       filepath.Join(baseDir, "cache"),
			MemoryTTL: 1 * time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver:         "sqlite",
			Path:           filepath.Join(baseDir, "processor.db"),
			HandoffBackend: "sql",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "processor:handoff",
			},
		},
		Handoff: HandoffConfig{
			Schedule: "*/15 * * * *",
			Actor:    "policy",
		},
		Segment: SegmentConfig{
			MinLength: 10,
			MaxLength: 1000,
		},
		Fetch: FetchConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "processor/1.0 (+https://github.com/ambrosia-alliance/processor)",
			MaxBytes:      5 << 20,
			RespectRobots: true,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "processor",
			OTLPEndpoint:   "localhost:4317",
			Insecure:       true,
			ExportInterval: 30 * time.Second,
		},
		Output: OutputConfig{
			Verbose: false,
			Format:  "text",
		},
	}
}

// CategorySet builds the validated category enumeration
func (c *Config) CategorySet() (*CategorySet, error) {
	return NewCategorySet(c.Categories)
}

// Criteria returns the handoff eligibility requirements
func (c *Config) Criteria() HandoffCriteria {
	return HandoffCriteria{
		MinSamples:        c.Thresholds.MinSamplesHandoff,
		AccuracyThreshold: c.Thresholds.CategoryAccuracy,
	}
}

// InitialReviewState returns human_review_enabled for every category, applying overrides
func (c *Config) InitialReviewState(set *CategorySet) (map[Category]bool, error) {
	state := make(map[Category]bool, set.Len())
	for _, cat := range set.All() {
		state[cat] = true
	}
	for name, enabled := range c.HumanReview {
		cat, err := set.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("human_review_enabled: %w", err)
		}
		state[cat] = enabled
	}
	return state, nil
}

// Validate checks ranges and cross-field consistency
func (c *Config) Validate() error {
	var problems []string

	set, err := c.CategorySet()
	if err != nil {
		problems = append(problems, err.Error())
	} else if _, err := c.InitialReviewState(set); err != nil {
		problems = append(problems, err.Error())
	}

	t := c.Thresholds
	if !inUnit(t.Label) {
		problems = append(problems, "label_threshold must be in [0,1]")
	}
	if !inUnit(t.Supermajority) || t.Supermajority == 0 {
		problems = append(problems, "supermajority_threshold must be in (0,1]")
	}
	if t.Entropy < 0 || math.IsNaN(t.Entropy) {
		problems = append(problems, "entropy_threshold must be >= 0")
	}
	if !inUnit(t.CategoryAccuracy) {
		problems = append(problems, "category_accuracy_threshold must be in [0,1]")
	}
	if t.MinSamplesHandoff < 1 {
		problems = append(problems, "min_samples_for_handoff must be >= 1")
	}
	if t.MinRespondingModels < 1 {
		problems = append(problems, "min_responding_models must be >= 1")
	}

	if len(c.Models) == 0 {
		problems = append(problems, "at least one model must be configured")
	}
	seen := make(map[string]bool)
	for i, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" {
			problems = append(problems, fmt.Sprintf("models[%d]: name is required", i))
			continue
		}
		if seen[m.Name] {
			problems = append(problems, fmt.Sprintf("models[%d]: duplicate name %q", i, m.Name))
		}
		seen[m.Name] = true
	}

	if c.Fetch.MaxBytes < 0 {
		problems = append(problems, "fetch.max_bytes must be >= 0")
	}

	switch c.Storage.HandoffBackend {
	case "", "sql", "redis", "memory":
	default:
		problems = append(problems, fmt.Sprintf("storage.handoff_backend %q not supported (sql, redis, memory)", c.Storage.HandoffBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
