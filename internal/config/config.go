package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".declarant/config.yaml"

type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	APIKey          string  `yaml:"api_key"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	BaseURL         string  `yaml:"base_url"`
	Model           string  `yaml:"model"`
	VectorStoreID   string  `yaml:"vector_store_id"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

type ProcessingConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	HighConfidence   int `yaml:"high_confidence_threshold"`
	MediumConfidence int `yaml:"medium_confidence_threshold"`
	MaxFileSizeMB    int `yaml:"max_file_size_mb"`
	MaxRows          int `yaml:"max_rows"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Processing ProcessingConfig `yaml:"processing"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4.1"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.Processing.ChunkSize == 0 {
		c.Processing.ChunkSize = 10
	}
	if c.Processing.HighConfidence == 0 {
		c.Processing.HighConfidence = 80
	}
	if c.Processing.MediumConfidence == 0 {
		c.Processing.MediumConfidence = 40
	}
	if c.Processing.MaxFileSizeMB == 0 {
		c.Processing.MaxFileSizeMB = 50
	}
	if c.Processing.MaxRows == 0 {
		c.Processing.MaxRows = 1000
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DBPath resolves the SQLite database location, defaulting under the home dir.
func (c *Config) DBPath() (string, error) {
	if strings.TrimSpace(c.Store.Path) != "" {
		return c.Store.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".declarant", "declarant.db"), nil
}

func (c *Config) Validate() error {
	if c.Processing.ChunkSize < 1 {
		return errors.New("processing.chunk_size must be >= 1")
	}
	if c.Processing.MediumConfidence > c.Processing.HighConfidence {
		return errors.New("processing.medium_confidence_threshold must not exceed the high threshold")
	}
	return nil
}

// ValidateClassify enforces classification-specific requirements.
func (c *Config) ValidateClassify() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case "openai":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return errors.New("llm.api_key cannot be empty")
		}
	case "anthropic":
		if strings.TrimSpace(c.LLM.AnthropicAPIKey) == "" {
			return errors.New("llm.anthropic_api_key cannot be empty")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.LLM.Provider, "DECLARANT_LLM_PROVIDER")
	setString(&c.LLM.APIKey, "DECLARANT_LLM_API_KEY")
	setString(&c.LLM.AnthropicAPIKey, "DECLARANT_LLM_ANTHROPIC_API_KEY")
	setString(&c.LLM.BaseURL, "DECLARANT_LLM_BASE_URL")
	setString(&c.LLM.Model, "DECLARANT_LLM_MODEL")
	setString(&c.LLM.VectorStoreID, "DECLARANT_VECTOR_STORE_ID")
	setInt(&c.LLM.MaxTokens, "DECLARANT_LLM_MAX_TOKENS")
	setFloat(&c.LLM.Temperature, "DECLARANT_LLM_TEMPERATURE")
	setInt(&c.Processing.ChunkSize, "DECLARANT_CHUNK_SIZE")
	setInt(&c.Processing.MaxRows, "DECLARANT_MAX_ROWS")
	setString(&c.Store.Path, "DECLARANT_DB_PATH")
	setString(&c.Server.Host, "DECLARANT_SERVER_HOST")
	setInt(&c.Server.Port, "DECLARANT_SERVER_PORT")
	setString(&c.Log.Level, "DECLARANT_LOG_LEVEL")

	// Legacy names kept for operators migrating from the MVP deployment.
	if c.LLM.APIKey == "" {
		setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	}
	if c.LLM.AnthropicAPIKey == "" {
		setString(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	}
	if c.LLM.VectorStoreID == "" {
		setString(&c.LLM.VectorStoreID, "VECTOR_STORE_ID")
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}
