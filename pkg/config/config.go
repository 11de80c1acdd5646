package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Learning LearningConfig `mapstructure:"learning"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// AdminChatID receives escalated tickets and review notifications.
	AdminChatID int64 `mapstructure:"admin_chat_id"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

type EngineConfig struct {
	StalenessHours    int `mapstructure:"staleness_hours"`
	InactivityMinutes int `mapstructure:"inactivity_minutes"`
	FallbackCeiling   int `mapstructure:"fallback_ceiling"`
}

type LearningConfig struct {
	AutoApprove          bool    `mapstructure:"auto_approve"`
	AskThreshold         int     `mapstructure:"ask_threshold"`
	HousekeepingSchedule string  `mapstructure:"housekeeping_schedule"`
	DeactivationFloor    float64 `mapstructure:"deactivation_floor"`
	MinRatedUses         int     `mapstructure:"min_rated_uses"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.4)
	v.SetDefault("openai.timeout_seconds", 20)
	v.SetDefault("engine.staleness_hours", 24)
	v.SetDefault("engine.inactivity_minutes", 30)
	v.SetDefault("engine.fallback_ceiling", 5)
	v.SetDefault("learning.auto_approve", false)
	v.SetDefault("learning.ask_threshold", 3)
	v.SetDefault("learning.housekeeping_schedule", "0 4 * * *")
	v.SetDefault("learning.deactivation_floor", 20)
	v.SetDefault("learning.min_rated_uses", 5)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
