package model

import "time"

// Config is the full CivicLens configuration tree
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Threads      ThreadsConfig      `yaml:"threads" mapstructure:"threads"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Reply        ReplyConfig        `yaml:"reply" mapstructure:"reply"`
	Rules        []RuleConfig       `yaml:"rules" mapstructure:"rules"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// StoreConfig configures the local database
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ThreadsConfig configures the mention source API
type ThreadsConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	UserID      string        `yaml:"user_id" mapstructure:"user_id"`
	AccessToken string        `yaml:"access_token" mapstructure:"access_token"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBody     int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy   string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy" mapstructure:"https_proxy"`
}

// LLMConfig configures the classifier/clusterer provider
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ConcurrencyConfig controls worker counts for batch processing
type ConcurrencyConfig struct {
	SyncWorkers int `yaml:"sync_workers" mapstructure:"sync_workers"`
}

// RateLimitingConfig throttles mention source API calls
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig controls the in-memory mention payload cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ReplyConfig configures the acknowledgement reply.
// Template supports a {{issue}} placeholder for the assigned issue id.
type ReplyConfig struct {
	Template string `yaml:"template" mapstructure:"template"`
}

// RuleConfig is one hardcoded keyword rule routing reports to a fixed-title
// issue. Rule order is the tie-break when several rules match.
type RuleConfig struct {
	Title    string   `yaml:"title" mapstructure:"title"`
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
}

// OutputConfig controls operator-facing output
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	LogJSON bool `yaml:"log_json" mapstructure:"log_json"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "civiclens.db",
		},
		Threads: ThreadsConfig{
			BaseURL: "https://graph.threads.net/v1.0",
			Timeout: 30 * time.Second,
			MaxBody: 2_000_000,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "",
			Timeout:   30,
			MaxTokens: 1000,
		},
		Concurrency: ConcurrencyConfig{
			SyncWorkers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     15 * time.Minute,
		},
		Reply: ReplyConfig{
			Template: "Thank you for your report! We're tracking this as issue ID: {{issue}}. Your contribution helps improve our city.",
		},
		Rules: DefaultRules(),
		Output: OutputConfig{
			Verbose: false,
		},
	}
}

// DefaultRules returns the built-in hardcoded rules
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Title:    "Broken Streetlight Reports",
			Keywords: []string{"broken light", "street light", "fix broken lights"},
		},
	}
}
