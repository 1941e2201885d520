package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	PastExam  PastExamConfig  `mapstructure:"past_exam"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects the key-value backend holding the chat snapshot
type StorageConfig struct {
	Driver        string         `mapstructure:"driver"`
	Key           string         `mapstructure:"key"`
	DataDir       string         `mapstructure:"data_dir"`
	EncryptionKey string         `mapstructure:"encryption_key"`
	AutoMigrate   bool           `mapstructure:"auto_migrate"`
	Postgres      DatabaseConfig `mapstructure:"postgres"`
	MySQL         DatabaseConfig `mapstructure:"mysql"`
	SQLite        SQLiteConfig   `mapstructure:"sqlite"`
	Mongo         MongoConfig    `mapstructure:"mongo"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns a postgres connection URL
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// MySQLDSN returns a go-sql-driver/mysql data source name
func (c DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LLMConfig struct {
	DefaultProvider string                `mapstructure:"default_provider"`
	DefaultMode     string                `mapstructure:"default_mode"`
	SystemPrompt    string                `mapstructure:"system_prompt"`
	HistoryWindow   int                   `mapstructure:"history_window"`
	RequestTimeout  time.Duration         `mapstructure:"request_timeout"`
	OpenAI          OpenAIConfig          `mapstructure:"openai"`
	Anthropic       AnthropicConfig       `mapstructure:"anthropic"`
	Ollama          OllamaConfig          `mapstructure:"ollama"`
	DeepSeek        DeepSeekConfig        `mapstructure:"deepseek"`
	Gemini          GeminiConfig          `mapstructure:"gemini"`
	Groq            GroqConfig            `mapstructure:"groq"`
	Modes           map[string]ModeConfig `mapstructure:"modes"`
	Retry           RetryConfig           `mapstructure:"retry"`
	Title           TitleConfig           `mapstructure:"title"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	Host         string `mapstructure:"host"`
	DefaultModel string `mapstructure:"default_model"`
}

type DeepSeekConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GroqConfig configures Groq's OpenAI-compatible endpoint
type GroqConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// ModeConfig is the generation preset a chat mode resolves to
type ModeConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RetryConfig controls how rate-limited (429) requests are resubmitted
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type TitleConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Prompt    string        `mapstructure:"prompt"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   string        `mapstructure:"file"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type PastExamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express
func (c *Config) Validate() error {
	if len(c.LLM.Modes) == 0 {
		return fmt.Errorf("llm.modes must define at least one mode")
	}
	if _, ok := c.LLM.Modes[c.LLM.DefaultMode]; !ok {
		return fmt.Errorf("llm.default_mode %q is not defined in llm.modes", c.LLM.DefaultMode)
	}
	for name, mode := range c.LLM.Modes {
		if mode.Provider == "" && c.LLM.DefaultProvider == "" {
			return fmt.Errorf("llm.modes.%s has no provider and llm.default_provider is empty", name)
		}
		if mode.MaxTokens < 0 {
			return fmt.Errorf("llm.modes.%s.max_tokens must not be negative", name)
		}
	}
	if c.LLM.Retry.MaxRetries < 0 {
		return fmt.Errorf("llm.retry.max_retries must not be negative")
	}
	return nil
}

const defaultSystemPrompt = `You are Zyra, the friendly AI study companion inside School AI.
Explain concepts step by step in clear, simple language, check understanding with short follow-up questions,
and adapt to the student's level. When asked exam-style questions, show your working and give the final answer clearly.
Never invent facts; say when you are unsure.`

const defaultTitlePrompt = `Summarize the user's message as a chat title of at most five words.
Reply with the title only, without quotes or trailing punctuation.`

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // streaming responses
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.middleware_timeout", "5m")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Storage
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.key", "zyra-chat-storage")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "zyra")
	v.SetDefault("storage.postgres.database", "zyra")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.mysql.host", "localhost")
	v.SetDefault("storage.mysql.port", 3306)
	v.SetDefault("storage.mysql.user", "zyra")
	v.SetDefault("storage.mysql.database", "zyra")
	v.SetDefault("storage.sqlite.path", "./data/zyra.db")
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "zyra")
	v.SetDefault("storage.mongo.collection", "kv_store")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_ttl", "720h") // 30 days

	// LLM
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.default_mode", "tutor")
	v.SetDefault("llm.system_prompt", defaultSystemPrompt)
	v.SetDefault("llm.history_window", 10)
	v.SetDefault("llm.request_timeout", "0s") // no cap on a response cycle
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.ollama.default_model", "llama3")
	v.SetDefault("llm.groq.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.modes", map[string]any{
		"tutor": map[string]any{
			"provider":    "openai",
			"model":       "gpt-4o-mini",
			"temperature": 0.7,
			"max_tokens":  1024,
		},
		"exam": map[string]any{
			"provider":    "openai",
			"model":       "gpt-4o",
			"temperature": 0.3,
			"max_tokens":  2048,
		},
	})
	v.SetDefault("llm.retry.max_retries", 3)
	v.SetDefault("llm.retry.initial_backoff", "1s")
	v.SetDefault("llm.title.enabled", true)
	v.SetDefault("llm.title.prompt", defaultTitlePrompt)
	v.SetDefault("llm.title.max_tokens", 20)
	v.SetDefault("llm.title.timeout", "10s")

	// Rate limit
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_age", "168h")

	// Past exams
	v.SetDefault("past_exam.base_url", "https://questions.aloc.com.ng")
	v.SetDefault("past_exam.timeout", "15s")
}

func bindEnvVars(v *viper.Viper) {
	// Storage
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.encryption_key", "STORAGE_ENCRYPTION_KEY")
	v.BindEnv("storage.postgres.password", "POSTGRES_PASSWORD")
	v.BindEnv("storage.mysql.password", "MYSQL_PASSWORD")
	v.BindEnv("storage.mongo.uri", "MONGO_URI")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// LLM API Keys
	v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.groq.api_key", "GROQ_API_KEY")
	v.BindEnv("llm.ollama.host", "OLLAMA_HOST")

	// Past exams
	v.BindEnv("past_exam.access_token", "PAST_EXAM_TOKEN")
}
