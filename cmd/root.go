package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "job-matcher"
	envPrefix = "MATCHER"
)

type Config struct {
	Listen   string          `mapstructure:"listen"`
	DataFile string          `mapstructure:"data-file"`
	Database *DatabaseConfig `mapstructure:"database"`
	Redis    *RedisConfig    `mapstructure:"redis"`
	AI       *AIConfig       `mapstructure:"ai"`
	Scoring  *ScoringConfig  `mapstructure:"scoring"`
	Workers  *WorkersConfig  `mapstructure:"workers"`
	Search   *SearchConfig   `mapstructure:"search"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	URLFile string `mapstructure:"url-file"`
}

type RedisConfig struct {
	URL           string `mapstructure:"url"`
	QueuePrefix   string `mapstructure:"queue-prefix"`
	EventsChannel string `mapstructure:"events-channel"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type ScoringConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	FastAIProbability float64       `mapstructure:"fast-ai-probability"`
	FastAIThreshold   int           `mapstructure:"fast-ai-threshold"`
	// RateLimit is the number of capability calls per second; zero disables throttling.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`
}

type WorkersConfig struct {
	Count             int           `mapstructure:"count"`
	MaxAttempts       int           `mapstructure:"max-attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial-backoff"`
	MaxBackoff        time.Duration `mapstructure:"max-backoff"`
	VisibilityTimeout time.Duration `mapstructure:"visibility-timeout"`
	ReapSchedule      string        `mapstructure:"reap-schedule"`
}

type SearchConfig struct {
	BatchSize  int           `mapstructure:"batch-size"`
	BatchDelay time.Duration `mapstructure:"batch-delay"`
	Buffer     int           `mapstructure:"buffer"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-matcher scores job applications and streams job searches for candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("data-file", "", "YAML file with jobs, candidates and applications")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("data-file", rootCmd.PersistentFlags().Lookup("data-file"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("redis.queue-prefix", "job-matcher:tasks")
	v.SetDefault("redis.events-channel", "EVENT_JOB_SCORED")
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 200)
	v.SetDefault("scoring.timeout", 30*time.Second)
	v.SetDefault("scoring.fast-ai-probability", 0.3)
	v.SetDefault("scoring.fast-ai-threshold", 60)
	v.SetDefault("scoring.rate-burst", 1)
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.max-attempts", 3)
	v.SetDefault("workers.initial-backoff", 500*time.Millisecond)
	v.SetDefault("workers.max-backoff", 10*time.Second)
	v.SetDefault("workers.visibility-timeout", 5*time.Minute)
	v.SetDefault("workers.reap-schedule", "@every 30s")
	v.SetDefault("search.batch-size", 5)
	v.SetDefault("search.batch-delay", 100*time.Millisecond)
	v.SetDefault("search.buffer", 16)

	// AutomaticEnv only sees keys viper already knows about
	v.SetDefault("database.url", "")
	v.SetDefault("database.url-file", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("scoring.rate-limit", 0)
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// The config file is optional; every key has a default or an env override.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}
	if config.Database == nil {
		config.Database = &DatabaseConfig{}
	}
	if config.Redis == nil {
		config.Redis = &RedisConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.Scoring == nil {
		config.Scoring = &ScoringConfig{}
	}
	if config.Workers == nil {
		config.Workers = &WorkersConfig{}
	}
	if config.Search == nil {
		config.Search = &SearchConfig{}
	}
	return config, nil
}
