package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document QA service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Index     IndexConfig     `mapstructure:"index"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Databases DatabasesConfig `mapstructure:"databases"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	Debug     bool   `mapstructure:"debug"`
	UploadDir string `mapstructure:"upload_dir"`
}

// IndexConfig controls chunking and the on-disk vector index.
type IndexConfig struct {
	Path            string        `mapstructure:"path"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	TopK            int           `mapstructure:"top_k"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
}

func (i IndexConfig) Validate() error {
	if strings.TrimSpace(i.Path) == "" {
		return fmt.Errorf("index.path is required")
	}
	if i.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be > 0")
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("index.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// ProvidersConfig selects and configures the embedding/generation backends.
type ProvidersConfig struct {
	Type   string       `mapstructure:"type"` // openai or local
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig contains OpenAI provider configuration
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (p ProvidersConfig) Validate() error {
	switch p.Type {
	case "local":
		return nil
	case "openai":
		if strings.TrimSpace(p.OpenAI.APIKey) == "" {
			return fmt.Errorf("providers.openai.api_key required (or OPENAI_API_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider type: %s", p.Type)
	}
}

// DatabasesConfig groups external datastore settings.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains metadata/query-log store configuration.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either the url or the parts.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains the rate-limiter backend configuration. Optional:
// when host is empty the server falls back to an in-process limiter.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// RateLimitConfig holds per-route request budgets (requests per minute per IP).
type RateLimitConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	UploadPerMin int  `mapstructure:"upload_per_min"`
	QueryPerMin  int  `mapstructure:"query_per_min"`
	ReadPerMin   int  `mapstructure:"read_per_min"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file (optional) plus DOCQA_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":10010")
	viper.SetDefault("general.upload_dir", "uploads")
	viper.SetDefault("index.path", "data/index.db")
	viper.SetDefault("index.chunk_size", 1000)
	viper.SetDefault("index.chunk_overlap", 200)
	viper.SetDefault("index.top_k", 4)
	viper.SetDefault("index.generate_timeout", 30*time.Second)
	viper.SetDefault("providers.type", "openai")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.timeout", 60*time.Second)
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.upload_per_min", 5)
	viper.SetDefault("rate_limit.query_per_min", 10)
	viper.SetDefault("rate_limit.read_per_min", 20)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCQA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; env + defaults must be enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if config.Providers.OpenAI.APIKey == "" {
		config.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := config.Index.Validate(); err != nil {
		panic(err)
	}
	return &config
}
