package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	DB struct {
		Path        string `mapstructure:"path"`
		Destructive bool   `mapstructure:"destructive"`
	} `mapstructure:"db"`
	Workers int `mapstructure:"workers"`
	Log     struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Redis struct {
		Addr   string        `mapstructure:"addr"`
		Prefix string        `mapstructure:"prefix"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Resend struct {
		APIKey string `mapstructure:"api_key"`
		From   string `mapstructure:"from"`
	} `mapstructure:"resend"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	Demo struct {
		QualityScores []int  `mapstructure:"quality_scores"`
		Credits       int    `mapstructure:"credits"`
		Email         string `mapstructure:"email"`
	} `mapstructure:"demo"`
	Retry struct {
		Interval    time.Duration `mapstructure:"interval"`
		MaxInterval time.Duration `mapstructure:"max_interval"`
	} `mapstructure:"retry"`
}

var keys = []string{
	"db.path", "db.destructive", "workers",
	"log.level", "log.format",
	"redis.addr", "redis.prefix", "redis.ttl",
	"resend.api_key", "resend.from",
	"metrics.addr",
	"demo.quality_scores", "demo.credits", "demo.email",
	"retry.interval", "retry.max_interval",
}

// loadConfig reads studioflow.{yaml,json,toml} from the working directory when
// present, then lets STUDIOFLOW_* variables override it.
func loadConfig(v *viper.Viper) (config, error) {
	v.SetDefault("db.path", "")
	v.SetDefault("db.destructive", false)
	v.SetDefault("workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("redis.prefix", "studioflow:trigger:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("resend.from", "Studio <noreply@studio.example>")
	v.SetDefault("demo.quality_scores", []int{85, 95})
	v.SetDefault("demo.credits", 200)
	v.SetDefault("demo.email", "demo@studio.example")
	v.SetDefault("retry.interval", time.Second)
	v.SetDefault("retry.max_interval", 10*time.Second)

	v.SetConfigName("studioflow")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, err
		}
	}

	v.SetEnvPrefix("STUDIOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return config{}, err
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, err
	}
	if cfg.Workers <= 0 {
		return config{}, errors.New("workers must be positive")
	}
	return cfg, nil
}
