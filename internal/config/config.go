package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogConfig controls the console and rolling-file logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// LLMConfig points at an OpenAI-compatible completion endpoint.
type LLMConfig struct {
	APIKey            string `yaml:"apiKey"`
	BaseURL           string `yaml:"baseURL"`
	Model             string `yaml:"model"`
	Timeout           string `yaml:"timeout"`
	MaxRetries        int    `yaml:"maxRetries"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log        LogConfig `yaml:"log"`
	LLM        LLMConfig `yaml:"llm"`
	Classifier struct {
		ModelPath string `yaml:"modelPath"`
	} `yaml:"classifier"`
	Generation struct {
		Queue      int    `yaml:"queue"`
		MaxRetries int    `yaml:"maxRetries"`
		LockTTL    string `yaml:"lockTTL"`
	} `yaml:"generation"`
	Content struct {
		TTL string `yaml:"ttl"`
	} `yaml:"content"`
	Limits struct {
		SessionsPerDay int `yaml:"sessionsPerDay"`
	} `yaml:"limits"`
}

// Load reads YAML config from path, loads a .env file when present and
// applies environment overrides. A missing YAML file yields defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override("REDIS_ADDR", &cfg.Redis.Addr)
	override("POSTGRES_URL", &cfg.Postgres.URL)
	override("LLM_API_KEY", &cfg.LLM.APIKey)
	override("LLM_BASE_URL", &cfg.LLM.BaseURL)
	override("LLM_MODEL", &cfg.LLM.Model)
	override("CLASSIFIER_MODEL_PATH", &cfg.Classifier.ModelPath)
	override("LOG_LEVEL", &cfg.Log.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Generation.Queue <= 0 {
		cfg.Generation.Queue = 64
	}
	if cfg.Generation.MaxRetries <= 0 {
		cfg.Generation.MaxRetries = 3
	}
	if cfg.Limits.SessionsPerDay <= 0 {
		cfg.Limits.SessionsPerDay = 3
	}
	if cfg.LLM.MaxRetries <= 0 {
		cfg.LLM.MaxRetries = 2
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
