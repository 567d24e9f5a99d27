package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`

	// Store selects the repository driver: memory, redis or postgres.
	Store string `mapstructure:"STORE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	DispatchTimeout  time.Duration `mapstructure:"DISPATCH_TIMEOUT"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepConcurrency int           `mapstructure:"SWEEP_CONCURRENCY"`

	// SeedFile points at a YAML file of endpoints registered at boot.
	SeedFile string `mapstructure:"SEED_FILE"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("STORE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("POSTGRES_DSN", "")
	viper.SetDefault("DISPATCH_TIMEOUT", "30s")
	viper.SetDefault("SWEEP_INTERVAL", "30s")
	viper.SetDefault("SWEEP_CONCURRENCY", 4)
	viper.SetDefault("SEED_FILE", "")

	// The env file is optional; environment variables alone are enough.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}
