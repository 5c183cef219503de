package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener and admin access.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// StorageConfig configures on-disk locations owned by the service.
type StorageConfig struct {
	UploadDir     string `yaml:"upload_dir"`
	KBFile        string `yaml:"kb_file"`
	UploadLogFile string `yaml:"upload_log_file"`
	CacheDir      string `yaml:"cache_dir"`
	CacheEnabled  bool   `yaml:"cache_enabled"`
}

// DocumentConfig configures ingestion and chunking.
type DocumentConfig struct {
	ChunkSize         int      `yaml:"chunk_size"`
	MinChunkWords     int      `yaml:"min_chunk_words"`
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// RAGConfig configures retrieval behavior.
type RAGConfig struct {
	TopK      int     `yaml:"top_k"`
	MinScore  float64 `yaml:"min_score"`
	BatchSize int     `yaml:"batch_size"`
}

// LLMConfig points at an ollama endpoint and model.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GenerationConfig configures the text-generation backend call.
type GenerationConfig struct {
	LLMConfig   `yaml:",inline"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`
	TopK        int     `yaml:"top_k"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Storage  StorageConfig    `yaml:"storage"`
	Document DocumentConfig   `yaml:"document"`
	RAG      RAGConfig        `yaml:"rag"`
	EmbedLLM LLMConfig        `yaml:"embed_llm"`
	GenLLM   GenerationConfig `yaml:"gen_llm"`
}

// Load reads the YAML config at path. A missing file yields defaults;
// environment variables override the secrets and endpoint settings either way.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       5003,
			AdminToken: "health_admin_2026",
		},
		Storage: StorageConfig{
			UploadDir:     "uploads_health",
			KBFile:        "knowledge_base_health.json",
			UploadLogFile: "upload_logs_health.json",
			CacheDir:      "embedding_cache",
		},
		Document: DocumentConfig{
			ChunkSize:         300,
			MinChunkWords:     40,
			MaxFileSizeMB:     50,
			AllowedExtensions: []string{"pdf"},
		},
		RAG: RAGConfig{
			TopK:      5,
			MinScore:  0.25,
			BatchSize: 100,
		},
		EmbedLLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		GenLLM: GenerationConfig{
			LLMConfig:   LLMConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
			Temperature: 0.3,
			MaxTokens:   500,
			TopP:        0.9,
			TopK:        40,
			TimeoutSecs: 60,
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = def.Storage.UploadDir
	}
	if cfg.Storage.KBFile == "" {
		cfg.Storage.KBFile = def.Storage.KBFile
	}
	if cfg.Storage.UploadLogFile == "" {
		cfg.Storage.UploadLogFile = def.Storage.UploadLogFile
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = def.Storage.CacheDir
	}
	if cfg.Document.ChunkSize == 0 {
		cfg.Document.ChunkSize = def.Document.ChunkSize
	}
	if cfg.Document.MinChunkWords == 0 {
		cfg.Document.MinChunkWords = def.Document.MinChunkWords
	}
	if cfg.Document.MaxFileSizeMB == 0 {
		cfg.Document.MaxFileSizeMB = def.Document.MaxFileSizeMB
	}
	if len(cfg.Document.AllowedExtensions) == 0 {
		cfg.Document.AllowedExtensions = def.Document.AllowedExtensions
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.MinScore == 0 {
		cfg.RAG.MinScore = def.RAG.MinScore
	}
	if cfg.RAG.BatchSize == 0 {
		cfg.RAG.BatchSize = def.RAG.BatchSize
	}
	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = def.EmbedLLM.BaseURL
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = def.EmbedLLM.Model
	}
	if cfg.GenLLM.BaseURL == "" {
		cfg.GenLLM.BaseURL = def.GenLLM.BaseURL
	}
	if cfg.GenLLM.Model == "" {
		cfg.GenLLM.Model = def.GenLLM.Model
	}
	if cfg.GenLLM.Temperature == 0 {
		cfg.GenLLM.Temperature = def.GenLLM.Temperature
	}
	if cfg.GenLLM.MaxTokens == 0 {
		cfg.GenLLM.MaxTokens = def.GenLLM.MaxTokens
	}
	if cfg.GenLLM.TopP == 0 {
		cfg.GenLLM.TopP = def.GenLLM.TopP
	}
	if cfg.GenLLM.TopK == 0 {
		cfg.GenLLM.TopK = def.GenLLM.TopK
	}
	if cfg.GenLLM.TimeoutSecs == 0 {
		cfg.GenLLM.TimeoutSecs = def.GenLLM.TimeoutSecs
	}
	if cfg.Server.AdminToken == "" {
		cfg.Server.AdminToken = def.Server.AdminToken
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.EmbedLLM.BaseURL = v
		cfg.GenLLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.GenLLM.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbedLLM.Model = v
	}
}

// AllowedExtension reports whether filename carries one of the configured
// extensions (compared without the leading dot, case-insensitively).
func (c *DocumentConfig) AllowedExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, allowed := range c.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}

// Summary is the administrator-facing view of the effective configuration.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"port":             c.Server.Port,
		"ollama_url":       c.GenLLM.BaseURL,
		"ollama_model":     c.GenLLM.Model,
		"embedding_model":  c.EmbedLLM.Model,
		"top_k":            c.RAG.TopK,
		"min_score":        c.RAG.MinScore,
		"chunk_size":       c.Document.ChunkSize,
		"max_file_size_mb": c.Document.MaxFileSizeMB,
	}
}
