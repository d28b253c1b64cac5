// Package config handles loading and validating taskgate configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for taskgate.
type Config struct {
	SandboxRoot   string               `json:"sandbox_root,omitempty" yaml:"sandbox_root,omitempty"` // Filesystem root for all operations. Default: /data. Override: TASKGATE_SANDBOX_ROOT env var.
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Executor      ExecutorConfig       `json:"executor" yaml:"executor"`
	Translator    TranslatorConfig     `json:"translator" yaml:"translator"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics/tracing disabled
}

// ProviderConfig configures the chat-completion provider used for translation.
type ProviderConfig struct {
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: TASKGATE_API_KEY or OPENAI_API_KEY env var.
	Model          string `json:"model" yaml:"model"`                         // Default: gpt-4o-mini.
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-call deadline. Default: 30.
}

// Timeout returns the provider call deadline with a default of 30s.
func (p *ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ExecutorConfig configures sandboxed command execution.
type ExecutorConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 20.
	MaxCPUSeconds  int `json:"max_cpu_seconds" yaml:"max_cpu_seconds"` // Default: 60.
	MaxMemoryMB    int `json:"max_memory_mb" yaml:"max_memory_mb"`     // Default: 512.
}

// Timeout returns the command deadline with a default of 20s.
func (e *ExecutorConfig) Timeout() time.Duration {
	if e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 20 * time.Second
}

// TranslatorConfig configures translation memoization.
type TranslatorConfig struct {
	CacheSize int `json:"cache_size" yaml:"cache_size"` // Memoized translations. Default: 100.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"` // Completion budget. Default: 50.
}

// ToolsConfig configures the resource tools.
type ToolsConfig struct {
	File  FileToolConfig  `json:"file" yaml:"file"`
	Fetch FetchToolConfig `json:"fetch" yaml:"fetch"`
	Query QueryToolConfig `json:"query" yaml:"query"`
}

// FileToolConfig restricts file reads and writes.
type FileToolConfig struct {
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"` // Default: 10 MB.
}

// FetchToolConfig restricts URL downloads.
type FetchToolConfig struct {
	MaxResponseBytes int64 `json:"max_response_bytes" yaml:"max_response_bytes"` // Default: 5 MB.
	TimeoutSeconds   int   `json:"timeout_seconds" yaml:"timeout_seconds"`       // Default: 20.
}

// Timeout returns the download deadline with a default of 20s.
func (f *FetchToolConfig) Timeout() time.Duration {
	if f.TimeoutSeconds > 0 {
		return time.Duration(f.TimeoutSeconds) * time.Second
	}
	return 20 * time.Second
}

// QueryToolConfig restricts SQL queries.
type QueryToolConfig struct {
	MaxRows        int `json:"max_rows" yaml:"max_rows"`               // Default: 1000.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 20.
}

// Timeout returns the query deadline with a default of 20s.
func (q *QueryToolConfig) Timeout() time.Duration {
	if q.TimeoutSeconds > 0 {
		return time.Duration(q.TimeoutSeconds) * time.Second
	}
	return 20 * time.Second
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	ListenAddr string           `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	APIKeys    []string         `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Empty = no auth.
	RateLimit  *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited
	EnableDocs bool             `json:"enable_docs" yaml:"enable_docs"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures per-client request throttling.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Default: 60.
	Burst             int `json:"burst" yaml:"burst"`                             // Default: 10.
}

// PerMinute returns the sustained rate with a default of 60.
func (r *RateLimitConfig) PerMinute() int {
	if r != nil && r.RequestsPerMinute > 0 {
		return r.RequestsPerMinute
	}
	return 60
}

// BurstSize returns the burst allowance with a default of 10.
func (r *RateLimitConfig) BurstSize() int {
	if r != nil && r.Burst > 0 {
		return r.Burst
	}
	return 10
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "taskgate"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.taskgate/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/taskgate.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".taskgate", "config.json")
}

// Default returns a configuration with all defaults applied and the API key
// taken from the environment.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads configuration from a JSON or YAML file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides. Env vars take precedence
// over file values.
func (c *Config) applyEnv() {
	if envKey := os.Getenv("TASKGATE_API_KEY"); envKey != "" {
		c.Provider.APIKey = envKey
	} else if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = envKey
	}
	if envRoot := os.Getenv("TASKGATE_SANDBOX_ROOT"); envRoot != "" {
		c.SandboxRoot = envRoot
	}
	if envAddr := os.Getenv("TASKGATE_LISTEN_ADDR"); envAddr != "" {
		c.HTTP.ListenAddr = envAddr
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (set TASKGATE_API_KEY or OPENAI_API_KEY env var)")
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.SandboxRoot == "" {
		c.SandboxRoot = "/data"
	}
	if c.Executor.TimeoutSeconds < 0 {
		return fmt.Errorf("executor.timeout_seconds must not be negative")
	}
	if c.Executor.MaxMemoryMB < 0 {
		return fmt.Errorf("executor.max_memory_mb must not be negative")
	}
	if c.Translator.CacheSize < 0 {
		return fmt.Errorf("translator.cache_size must not be negative")
	}
	if c.Tools.Query.MaxRows < 0 {
		return fmt.Errorf("tools.query.max_rows must not be negative")
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0.0 and 1.0")
		}
	}
	return nil
}
