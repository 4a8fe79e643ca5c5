// Package config provides configuration loading and structs for the Chishiki engine.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Codebase  CodebaseConfig  `yaml:"codebase"`
	Gardening GardeningConfig `yaml:"gardening"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the knowledge directory and its contents.
// DatabasePath and VectorIndexPath default to files inside KnowledgeDir.
type StorageConfig struct {
	KnowledgeDir    string `yaml:"knowledge_dir"`
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// VectorConfig holds vector backend settings. An empty URL selects the
// embedded in-process backend persisted at VectorIndexPath.
type VectorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EmbeddingConfig holds embedding provider settings. The API key is read
// from APIKeyEnv at provider construction, never stored in the file.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "remote", "onnx", or "local"
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"` // override; 0 = heuristic by model name
	ModelPath  string `yaml:"model_path"` // ONNX model file
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// SyncConfig holds relational-to-vector sync settings.
type SyncConfig struct {
	BatchSize     int `yaml:"batch_size"`
	SanitizeLimit int `yaml:"sanitize_limit"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	RRFK         int `yaml:"rrf_k"`
}

// CodebaseConfig holds codebase indexing settings.
type CodebaseConfig struct {
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
}

// GardeningConfig holds scoring, deduplication, and extraction settings.
type GardeningConfig struct {
	RetentionDays        int      `yaml:"retention_days"`
	WeightRecency        float64  `yaml:"weight_recency"`
	WeightImpact         float64  `yaml:"weight_impact"`
	WeightPattern        float64  `yaml:"weight_pattern"`
	DedupeThreshold      float64  `yaml:"dedupe_threshold"`
	ExtractionMinScore   float64  `yaml:"extraction_min_score"`
	MaxWorkers           int      `yaml:"max_workers"`
	HighStakesCategories []string `yaml:"high_stakes_categories"`
}

// Load reads and parses the config file at path, applies defaults, expands
// paths, and normalizes the gardening weights.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.KnowledgeDir = expandPath(cfg.Storage.KnowledgeDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// NormalizedWeights returns the gardening weights scaled to sum to 1.
// Weights already summing to 1 (within epsilon) are returned unchanged so
// configured values keep their exact semantics.
func (g *GardeningConfig) NormalizedWeights() (recency, impact, pattern float64) {
	sum := g.WeightRecency + g.WeightImpact + g.WeightPattern
	if sum <= 0 {
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
	if math.Abs(sum-1.0) < 1e-9 {
		return g.WeightRecency, g.WeightImpact, g.WeightPattern
	}
	return g.WeightRecency / sum, g.WeightImpact / sum, g.WeightPattern / sum
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
