package config

import "path/filepath"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8086
	}
	if cfg.Storage.KnowledgeDir == "" {
		cfg.Storage.KnowledgeDir = ".chishiki"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.KnowledgeDir, "knowledge.db")
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = filepath.Join(cfg.Storage.KnowledgeDir, "vectors.json")
	}
	if cfg.Vector.TimeoutSeconds == 0 {
		cfg.Vector.TimeoutSeconds = 10
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "remote"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "EMBEDDING_API_KEY"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 64
	}
	if cfg.Sync.SanitizeLimit == 0 {
		cfg.Sync.SanitizeLimit = 32000
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 5
	}
	if cfg.Retrieval.RRFK == 0 {
		cfg.Retrieval.RRFK = 60
	}
	if cfg.Codebase.Extensions == nil {
		cfg.Codebase.Extensions = []string{".go", ".py", ".rb", ".js", ".ts", ".rs", ".java", ".md"}
	}
	if cfg.Codebase.ChunkSize == 0 {
		cfg.Codebase.ChunkSize = 256
	}
	if cfg.Codebase.ChunkOverlap == 0 {
		cfg.Codebase.ChunkOverlap = 32
	}
	if cfg.Codebase.MaxFileBytes == 0 {
		cfg.Codebase.MaxFileBytes = 1 << 20
	}
	if cfg.Gardening.RetentionDays == 0 {
		cfg.Gardening.RetentionDays = 90
	}
	if cfg.Gardening.WeightRecency == 0 && cfg.Gardening.WeightImpact == 0 && cfg.Gardening.WeightPattern == 0 {
		cfg.Gardening.WeightRecency = 0.3
		cfg.Gardening.WeightImpact = 0.5
		cfg.Gardening.WeightPattern = 0.2
	}
	if cfg.Gardening.DedupeThreshold == 0 {
		cfg.Gardening.DedupeThreshold = 0.85
	}
	if cfg.Gardening.ExtractionMinScore == 0 {
		cfg.Gardening.ExtractionMinScore = 0.4
	}
	if cfg.Gardening.MaxWorkers == 0 {
		cfg.Gardening.MaxWorkers = 10
	}
	if cfg.Gardening.HighStakesCategories == nil {
		cfg.Gardening.HighStakesCategories = []string{"security", "architecture"}
	}
}
