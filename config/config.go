package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`

	Realtime struct {
		BrokerURL      string        `mapstructure:"broker_url"`
		ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"realtime"`

	Chat struct {
		HistoryPageSize int           `mapstructure:"history_page_size"`
		TypingIdle      time.Duration `mapstructure:"typing_idle"`
		TypingExpiry    time.Duration `mapstructure:"typing_expiry"`
	} `mapstructure:"chat"`

	Storage struct {
		Database   string `mapstructure:"database"` // sqlite file path
		Migrations string `mapstructure:"migrations"`
	} `mapstructure:"storage"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variable support
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// Read config file (optional - fallback to env vars)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "http://localhost:8000")
	viper.SetDefault("api.timeout", "10s")
	viper.SetDefault("realtime.broker_url", "ws://localhost:8000/ws/chat")
	viper.SetDefault("realtime.reconnect_delay", "5s")
	viper.SetDefault("realtime.write_timeout", "10s")
	viper.SetDefault("chat.history_page_size", 50)
	viper.SetDefault("chat.typing_idle", "2s")
	viper.SetDefault("chat.typing_expiry", "5s")
	viper.SetDefault("storage.database", "homechat.db")
	viper.SetDefault("storage.migrations", "migrations")
}
