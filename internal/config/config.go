package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ollama-chat/internal/validation"
)

// DefaultGreeting seeds every fresh conversation.
const DefaultGreeting = "Hello! I'm your local AI assistant powered by Ollama. How can I help you today?"

type Config struct {
	OllamaURL       string        `mapstructure:"OLLAMA_URL" validate:"required,url"`
	StatusTimeout   time.Duration `mapstructure:"STATUS_TIMEOUT" validate:"gt=0"`
	GenerateTimeout time.Duration `mapstructure:"GENERATE_TIMEOUT" validate:"gt=0"`
	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL" validate:"gt=0"`
	WaitForOllama   bool          `mapstructure:"WAIT_FOR_OLLAMA"`

	DefaultModel    string  `mapstructure:"DEFAULT_MODEL" validate:"required"`
	Temperature     float64 `mapstructure:"TEMPERATURE" validate:"gte=0,lte=2"`
	NumPredict      int     `mapstructure:"NUM_PREDICT" validate:"gte=-2"`
	EnableStreaming bool    `mapstructure:"ENABLE_STREAMING"`
	SaveChatHistory bool    `mapstructure:"SAVE_CHAT_HISTORY"`
	SystemPrompt    string  `mapstructure:"SYSTEM_PROMPT"`
	Greeting        string  `mapstructure:"GREETING"`

	HistoryLimit          int  `mapstructure:"HISTORY_LIMIT" validate:"gte=1"`
	HistoryDedupByPreview bool `mapstructure:"HISTORY_DEDUP_BY_PREVIEW"`
	HistoryTurns          int  `mapstructure:"HISTORY_TURNS" validate:"gte=0,lte=50"`

	StoreDriver   string `mapstructure:"STORE_DRIVER" validate:"oneof=sqlite redis pebble memory"`
	DatabasePath  string `mapstructure:"DATABASE_PATH" validate:"required_if=StoreDriver sqlite"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required_if=StoreDriver redis"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"gte=0"`
	PebbleDir     string `mapstructure:"PEBBLE_DIR" validate:"required_if=StoreDriver pebble"`

	ListenAddr string `mapstructure:"LISTEN_ADDR" validate:"required"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT" validate:"oneof=json text"`
}

// SetDefaults registers every key so that AutomaticEnv can override it
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("STATUS_TIMEOUT", 3*time.Second)
	v.SetDefault("GENERATE_TIMEOUT", 300*time.Second)
	v.SetDefault("POLL_INTERVAL", 30*time.Second)
	v.SetDefault("WAIT_FOR_OLLAMA", false)

	v.SetDefault("DEFAULT_MODEL", "llama3.2")
	v.SetDefault("TEMPERATURE", 0.7)
	v.SetDefault("NUM_PREDICT", 2048)
	v.SetDefault("ENABLE_STREAMING", true)
	v.SetDefault("SAVE_CHAT_HISTORY", true)
	v.SetDefault("SYSTEM_PROMPT", "")
	v.SetDefault("GREETING", DefaultGreeting)

	v.SetDefault("HISTORY_LIMIT", 20)
	v.SetDefault("HISTORY_DEDUP_BY_PREVIEW", true)
	v.SetDefault("HISTORY_TURNS", 0)

	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "./data/ollama-chat.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PEBBLE_DIR", "./data/pebble")

	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8000")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads configuration from an optional .env file, the environment and
// any flags already bound on v, in that order of increasing precedence.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode configuration: %w", err)
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := validation.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
