package config

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8002,
			Environment: "development",
		},
		Storage: StorageConfig{
			Backend:        "sqlite",
			Path:           "./atlas_data/graph.db",
			MaxOpenConns:   8,
			QueryTimeoutMS: 30000,
		},
		Vector: VectorConfig{
			Path:       "./atlas_data/vectors.db",
			Dimensions: 768,
		},
		Cache: CacheConfig{
			Path:       "./atlas_data/cache.db",
			TTLSeconds: 300,
		},
		Broker: BrokerConfig{
			URL:     "",
			Subject: "atlas.ingest",
		},
		Embedding: EmbeddingConfig{
			Provider:       "gemini",
			Model:          "text-embedding-004",
			APIKeyEnv:      "GEMINI_API_KEY",
			LocalURL:       "http://localhost:11434",
			RatePerMinute:  60,
			Dimensions:     768,
			BatchSize:      50,
			RequestTimeout: 60,
		},
		Upload: UploadConfig{
			SessionDir:         "./upload_sessions",
			MaxUploadFiles:     10000,
			MaxFilesPerProject: 10000,
			MaxFileSizeMB:      100,
			Exclude: []string{
				".git/**",
				"node_modules/**",
				"vendor/**",
				"dist/**",
				"build/**",
				"target/**",
				"__pycache__/**",
				".venv/**",
				"venv/**",
			},
		},
		Query: QueryConfig{
			SearchTopK:          20,
			SimilarityThreshold: 0.7,
			TokenBudget:         8000,
			TimeoutSeconds:      30,
			ViewMode:            "file",
			IncludeExternal:     true,
			IncludeIsolated:     true,
			MaxNodes:            500,
			MaxEdges:            2000,
		},
		Analyzer: AnalyzerConfig{
			MaxCodeChars:               50000,
			DefaultMaxSteps:            1000,
			MaxStepsCap:                5000,
			DefaultTimeoutMS:           3000,
			MaxTimeoutMS:               10000,
			ExecutionEnabled:           true,
			ExecutionAllowInProduction: false,
			IsolationMode:              "subprocess",
			ImportWhitelist: []string{
				"math", "itertools", "functools", "collections", "statistics", "random",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}

	result.Server = mergeServerConfig(loaded.Server, defaults.Server)
	result.Storage = mergeStorageConfig(loaded.Storage, defaults.Storage)
	result.Vector = mergeVectorConfig(loaded.Vector, defaults.Vector)
	result.Cache = mergeCacheConfig(loaded.Cache, defaults.Cache)
	result.Broker = mergeBrokerConfig(loaded.Broker, defaults.Broker)
	result.Embedding = mergeEmbeddingConfig(loaded.Embedding, defaults.Embedding)
	result.Upload = mergeUploadConfig(loaded.Upload, defaults.Upload)
	result.Query = mergeQueryConfig(loaded.Query, defaults.Query)
	result.Analyzer = mergeAnalyzerConfig(loaded.Analyzer, defaults.Analyzer)
	result.Log = mergeLogConfig(loaded.Log, defaults.Log)

	return result
}

func mergeServerConfig(loaded, defaults ServerConfig) ServerConfig {
	result := defaults
	if loaded.Host != "" {
		result.Host = loaded.Host
	}
	if loaded.Port != 0 {
		result.Port = loaded.Port
	}
	if loaded.Environment != "" {
		result.Environment = loaded.Environment
	}
	return result
}

func mergeStorageConfig(loaded, defaults StorageConfig) StorageConfig {
	result := defaults
	if loaded.Backend != "" {
		result.Backend = loaded.Backend
	}
	if loaded.Path != "" {
		result.Path = loaded.Path
	}
	if loaded.MaxOpenConns != 0 {
		result.MaxOpenConns = loaded.MaxOpenConns
	}
	if loaded.QueryTimeoutMS != 0 {
		result.QueryTimeoutMS = loaded.QueryTimeoutMS
	}
	return result
}

func mergeVectorConfig(loaded, defaults VectorConfig) VectorConfig {
	result := defaults
	if loaded.Path != "" {
		result.Path = loaded.Path
	}
	if loaded.Dimensions != 0 {
		result.Dimensions = loaded.Dimensions
	}
	return result
}

func mergeCacheConfig(loaded, defaults CacheConfig) CacheConfig {
	result := defaults
	if loaded.Path != "" {
		result.Path = loaded.Path
	}
	if loaded.TTLSeconds != 0 {
		result.TTLSeconds = loaded.TTLSeconds
	}
	return result
}

func mergeBrokerConfig(loaded, defaults BrokerConfig) BrokerConfig {
	result := defaults
	if loaded.URL != "" {
		result.URL = loaded.URL
	}
	if loaded.Subject != "" {
		result.Subject = loaded.Subject
	}
	return result
}

func mergeEmbeddingConfig(loaded, defaults EmbeddingConfig) EmbeddingConfig {
	result := defaults
	if loaded.Provider != "" {
		result.Provider = loaded.Provider
	}
	if loaded.Model != "" {
		result.Model = loaded.Model
	}
	if loaded.APIKeyEnv != "" {
		result.APIKeyEnv = loaded.APIKeyEnv
	}
	if loaded.LocalURL != "" {
		result.LocalURL = loaded.LocalURL
	}
	if loaded.RatePerMinute != 0 {
		result.RatePerMinute = loaded.RatePerMinute
	}
	if loaded.Dimensions != 0 {
		result.Dimensions = loaded.Dimensions
	}
	if loaded.BatchSize != 0 {
		result.BatchSize = loaded.BatchSize
	}
	if loaded.RequestTimeout != 0 {
		result.RequestTimeout = loaded.RequestTimeout
	}
	return result
}

func mergeUploadConfig(loaded, defaults UploadConfig) UploadConfig {
	result := defaults
	if loaded.SessionDir != "" {
		result.SessionDir = loaded.SessionDir
	}
	if loaded.MaxUploadFiles != 0 {
		result.MaxUploadFiles = loaded.MaxUploadFiles
	}
	if loaded.MaxFilesPerProject != 0 {
		result.MaxFilesPerProject = loaded.MaxFilesPerProject
	}
	if loaded.MaxFileSizeMB != 0 {
		result.MaxFileSizeMB = loaded.MaxFileSizeMB
	}
	if len(loaded.Exclude) > 0 {
		result.Exclude = loaded.Exclude
	}
	return result
}

func mergeQueryConfig(loaded, defaults QueryConfig) QueryConfig {
	result := defaults
	if loaded.SearchTopK != 0 {
		result.SearchTopK = loaded.SearchTopK
	}
	if loaded.SimilarityThreshold != 0 {
		result.SimilarityThreshold = loaded.SimilarityThreshold
	}
	if loaded.TokenBudget != 0 {
		result.TokenBudget = loaded.TokenBudget
	}
	if loaded.TimeoutSeconds != 0 {
		result.TimeoutSeconds = loaded.TimeoutSeconds
	}
	if loaded.ViewMode != "" {
		result.ViewMode = loaded.ViewMode
	}
	if loaded.MaxNodes != 0 {
		result.MaxNodes = loaded.MaxNodes
	}
	if loaded.MaxEdges != 0 {
		result.MaxEdges = loaded.MaxEdges
	}
	// IncludeExternal and IncludeIsolated default to true. YAML false is
	// indistinguishable from unset, so an explicit false only takes effect
	// when the query section was written at all.
	if loadedQuerySet(loaded) {
		result.IncludeExternal = loaded.IncludeExternal
		result.IncludeIsolated = loaded.IncludeIsolated
	}
	return result
}

// loadedQuerySet reports whether the query section was present at all.
func loadedQuerySet(loaded QueryConfig) bool {
	return loaded.SearchTopK != 0 || loaded.TokenBudget != 0 || loaded.ViewMode != "" ||
		loaded.MaxNodes != 0 || loaded.MaxEdges != 0 || loaded.SimilarityThreshold != 0
}

func mergeAnalyzerConfig(loaded, defaults AnalyzerConfig) AnalyzerConfig {
	result := defaults
	if loaded.MaxCodeChars != 0 {
		result.MaxCodeChars = loaded.MaxCodeChars
	}
	if loaded.DefaultMaxSteps != 0 {
		result.DefaultMaxSteps = loaded.DefaultMaxSteps
	}
	if loaded.MaxStepsCap != 0 {
		result.MaxStepsCap = loaded.MaxStepsCap
	}
	if loaded.DefaultTimeoutMS != 0 {
		result.DefaultTimeoutMS = loaded.DefaultTimeoutMS
	}
	if loaded.MaxTimeoutMS != 0 {
		result.MaxTimeoutMS = loaded.MaxTimeoutMS
	}
	if loaded.IsolationMode != "" {
		result.IsolationMode = loaded.IsolationMode
	}
	if len(loaded.ImportWhitelist) > 0 {
		result.ImportWhitelist = loaded.ImportWhitelist
	}
	// Same bool handling as the query section: explicit false only counts
	// when the analyzer section was written.
	if loaded.MaxCodeChars != 0 || loaded.MaxStepsCap != 0 || loaded.IsolationMode != "" {
		result.ExecutionEnabled = loaded.ExecutionEnabled
	}
	result.ExecutionAllowInProduction = loaded.ExecutionAllowInProduction
	return result
}

func mergeLogConfig(loaded, defaults LogConfig) LogConfig {
	result := defaults
	if loaded.Level != "" {
		result.Level = loaded.Level
	}
	if loaded.Format != "" {
		result.Format = loaded.Format
	}
	return result
}
