package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "imgvec.yaml"

// ClipEmbedderConfig holds connection details for the CLIP inference server.
type ClipEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"required,url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
	MaxRetries  int    `yaml:"max_retries" validate:"gte=0"`
	ImageSize   int    `yaml:"image_size" validate:"gte=0"`
}

// EmbedderConfig selects and configures the image embedder implementation.
type EmbedderConfig struct {
	Type      string              `yaml:"type" validate:"oneof=clip histogram"`
	Dimension int                 `yaml:"dimension" validate:"gt=0"`
	Clip      *ClipEmbedderConfig `yaml:"clip,omitempty"`
}

// OpenSearchConfig contains connection details for an OpenSearch cluster.
type OpenSearchConfig struct {
	Host               string `yaml:"host" validate:"required"`
	Port               int    `yaml:"port" validate:"gt=0,lte=65535"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	PasswordEnv        string `yaml:"password_env"`
	UseSSL             bool   `yaml:"use_ssl"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	TimeoutSecs        int    `yaml:"timeout_secs" validate:"gte=0"`
}

// VectorStoreConfig selects and configures the document sink implementation.
type VectorStoreConfig struct {
	Type       string            `yaml:"type" validate:"oneof=opensearch memory"`
	Collection string            `yaml:"collection" validate:"required"`
	OpenSearch *OpenSearchConfig `yaml:"opensearch,omitempty"`
}

// ConverterConfig configures the conversion pipeline.
type ConverterConfig struct {
	ImagesDir         string `yaml:"images_dir" validate:"required"`
	OutputDir         string `yaml:"output_dir" validate:"required"`
	BatchSize         int    `yaml:"batch_size" validate:"gt=0"`
	WriteBulkFile     bool   `yaml:"write_bulk_file"`
	WriteProductFiles bool   `yaml:"write_product_files"`
}

// LoggingConfig configures the arbor logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// MetricsConfig controls the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Textfile bool `yaml:"textfile"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Converter   ConverterConfig   `yaml:"converter"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault loads ./imgvec.yaml when present and falls back to built-in defaults.
// The returned path is empty when defaults were used.
func LoadDefault() (*AppConfig, string, error) {
	if _, err := os.Stat(DefaultPath); err == nil {
		cfg, err := Load(DefaultPath)
		return cfg, DefaultPath, err
	}
	cfg := defaultConfig()
	applyEnv(cfg)
	return cfg, "", nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field constraints and backend-specific sections.
func (c *AppConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Embedder.Type == "clip" && c.Embedder.Clip == nil {
		return errors.New("invalid config: embedder.clip section missing")
	}
	if c.VectorStore.Type == "opensearch" && c.VectorStore.OpenSearch == nil {
		return errors.New("invalid config: vector_store.opensearch section missing")
	}
	return nil
}

// UsesDefaultCredentials reports whether the OpenSearch sink still runs with the
// out-of-the-box admin/admin account.
func (c *AppConfig) UsesDefaultCredentials() bool {
	o := c.VectorStore.OpenSearch
	return o != nil && o.Username == "admin" && o.Password == "admin"
}

// Default returns the built-in configuration without environment overrides.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	return &AppConfig{
		Converter: ConverterConfig{
			ImagesDir:         "images",
			OutputDir:         "imagesopensearch",
			BatchSize:         10,
			WriteBulkFile:     true,
			WriteProductFiles: true,
		},
		Embedder: EmbedderConfig{
			Type:      "clip",
			Dimension: 512,
			Clip: &ClipEmbedderConfig{
				BaseURL:     "http://localhost:8000",
				Model:       "openai/clip-vit-base-patch32",
				TimeoutSecs: 60,
				MaxRetries:  3,
				ImageSize:   224,
			},
		},
		VectorStore: VectorStoreConfig{
			Type:       "opensearch",
			Collection: "image_vectors",
			OpenSearch: &OpenSearchConfig{
				Host:               "localhost",
				Port:               9200,
				Username:           "admin",
				Password:           "admin",
				PasswordEnv:        "IMGVEC_OPENSEARCH_PASSWORD",
				UseSSL:             false,
				InsecureSkipVerify: true,
				TimeoutSecs:        30,
			},
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Textfile: true},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Converter.BatchSize == 0 {
		cfg.Converter.BatchSize = 10
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 512
	}
	if cfg.Embedder.Type == "clip" && cfg.Embedder.Clip != nil {
		if cfg.Embedder.Clip.BaseURL == "" {
			cfg.Embedder.Clip.BaseURL = "http://localhost:8000"
		}
		if cfg.Embedder.Clip.Model == "" {
			cfg.Embedder.Clip.Model = "openai/clip-vit-base-patch32"
		}
		if cfg.Embedder.Clip.TimeoutSecs == 0 {
			cfg.Embedder.Clip.TimeoutSecs = 60
		}
		if cfg.Embedder.Clip.ImageSize == 0 {
			cfg.Embedder.Clip.ImageSize = 224
		}
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "image_vectors"
	}
	if cfg.VectorStore.Type == "opensearch" && cfg.VectorStore.OpenSearch != nil {
		if cfg.VectorStore.OpenSearch.Port == 0 {
			cfg.VectorStore.OpenSearch.Port = 9200
		}
		if cfg.VectorStore.OpenSearch.TimeoutSecs == 0 {
			cfg.VectorStore.OpenSearch.TimeoutSecs = 30
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnv lets the environment (or a .env file loaded by main) override the
// store password without writing it into the YAML file.
func applyEnv(cfg *AppConfig) {
	o := cfg.VectorStore.OpenSearch
	if o == nil || o.PasswordEnv == "" {
		return
	}
	if pw := os.Getenv(o.PasswordEnv); pw != "" {
		o.Password = pw
	}
}
