// Package config loads and validates atlas configuration from YAML with
// defaults for every section.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the atlas configuration file
const ConfigFileName = "atlas.yaml"

// Config holds all atlas configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Cache     CacheConfig     `yaml:"cache"`
	Broker    BrokerConfig    `yaml:"broker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Upload    UploadConfig    `yaml:"upload"`
	Query     QueryConfig     `yaml:"query"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// StorageConfig holds graph store settings. Backend selects the SQL driver:
// "sqlite" (default) or "dolt" for a versioned backend.
type StorageConfig struct {
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	QueryTimeoutMS int    `yaml:"query_timeout_ms"`
}

// VectorConfig holds vector store settings
type VectorConfig struct {
	Path       string `yaml:"path"`
	Dimensions int    `yaml:"dimensions"`
}

// CacheConfig holds query cache settings
type CacheConfig struct {
	Path       string `yaml:"path"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// BrokerConfig holds worker broker settings. When URL is empty or the
// broker is unreachable, ingestion jobs run in-process.
type BrokerConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// EmbeddingConfig holds embedding generation settings
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // gemini | local
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	LocalURL       string `yaml:"local_url"`
	RatePerMinute  int    `yaml:"rate_per_minute"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
}

// UploadConfig holds ingestion limits and session storage settings
type UploadConfig struct {
	SessionDir         string   `yaml:"session_dir"`
	MaxUploadFiles     int      `yaml:"max_upload_files"`
	MaxFilesPerProject int      `yaml:"max_files_per_project"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`
	Exclude            []string `yaml:"exclude"`
}

// QueryConfig holds query engine defaults
type QueryConfig struct {
	SearchTopK          int     `yaml:"search_top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TokenBudget         int     `yaml:"token_budget"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	ViewMode            string  `yaml:"view_mode"`
	IncludeExternal     bool    `yaml:"include_external"`
	IncludeIsolated     bool    `yaml:"include_isolated"`
	MaxNodes            int     `yaml:"max_nodes"`
	MaxEdges            int     `yaml:"max_edges"`
}

// AnalyzerConfig holds sandbox limits for snippet analysis
type AnalyzerConfig struct {
	MaxCodeChars               int      `yaml:"max_code_chars"`
	DefaultMaxSteps            int      `yaml:"default_max_steps"`
	MaxStepsCap                int      `yaml:"max_steps_cap"`
	DefaultTimeoutMS           int      `yaml:"default_timeout_ms"`
	MaxTimeoutMS               int      `yaml:"max_timeout_ms"`
	ExecutionEnabled           bool     `yaml:"execution_enabled"`
	ExecutionAllowInProduction bool     `yaml:"execution_allow_in_production"`
	IsolationMode              string   `yaml:"isolation_mode"`
	ImportWhitelist            []string `yaml:"import_whitelist"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// ErrConfigNotFound is returned when no config file can be found
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from atlas.yaml, falling back to defaults.
// It searches starting from workDir and walking up the directory tree.
// If no config file is found, returns defaults.
func Load(workDir string) (*Config, error) {
	configPath, err := FindConfigFile(workDir)
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFromPath(configPath)
}

// LoadFromPath reads config from a specific path.
// Merges loaded config with defaults and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())

	if err := Validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// FindConfigFile locates atlas.yaml by walking up from startDir.
func FindConfigFile(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configPath := filepath.Join(currentDir, ConfigFileName)
		info, err := os.Stat(configPath)
		if err == nil && !info.IsDir() {
			return configPath, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// Validate checks that config values are valid.
func Validate(cfg *Config) error {
	if cfg.Storage.Backend != "sqlite" && cfg.Storage.Backend != "dolt" {
		return fmt.Errorf("%w: storage backend must be sqlite or dolt, got %q",
			ErrInvalidConfig, cfg.Storage.Backend)
	}

	if cfg.Embedding.Provider != "gemini" && cfg.Embedding.Provider != "local" {
		return fmt.Errorf("%w: embedding provider must be gemini or local, got %q",
			ErrInvalidConfig, cfg.Embedding.Provider)
	}

	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive, got %d",
			ErrInvalidConfig, cfg.Embedding.Dimensions)
	}

	if cfg.Embedding.RatePerMinute <= 0 {
		return fmt.Errorf("%w: embedding rate_per_minute must be positive, got %d",
			ErrInvalidConfig, cfg.Embedding.RatePerMinute)
	}

	if cfg.Query.SimilarityThreshold < 0 || cfg.Query.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be between 0 and 1, got %f",
			ErrInvalidConfig, cfg.Query.SimilarityThreshold)
	}

	if cfg.Query.ViewMode != "file" && cfg.Query.ViewMode != "symbol" {
		return fmt.Errorf("%w: view_mode must be file or symbol, got %q",
			ErrInvalidConfig, cfg.Query.ViewMode)
	}

	if cfg.Query.TokenBudget <= 0 {
		return fmt.Errorf("%w: token_budget must be positive, got %d",
			ErrInvalidConfig, cfg.Query.TokenBudget)
	}

	if cfg.Upload.MaxFilesPerProject <= 0 {
		return fmt.Errorf("%w: max_files_per_project must be positive, got %d",
			ErrInvalidConfig, cfg.Upload.MaxFilesPerProject)
	}

	if cfg.Analyzer.MaxStepsCap < cfg.Analyzer.DefaultMaxSteps {
		return fmt.Errorf("%w: max_steps_cap (%d) must be >= default_max_steps (%d)",
			ErrInvalidConfig, cfg.Analyzer.MaxStepsCap, cfg.Analyzer.DefaultMaxSteps)
	}

	return nil
}

// APIKey resolves the embedding API key from the configured environment
// variable. Empty when unset.
func (c EmbeddingConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// SaveDefault writes the default configuration to atlas.yaml in workDir.
func SaveDefault(workDir string) (string, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists: %s", configPath)
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	header := "# atlas configuration\n\n"
	data = append([]byte(header), data...)

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return configPath, nil
}
