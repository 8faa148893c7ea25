package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Legion    LegionConfig    `yaml:"legion"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Logs      LogsConfig      `yaml:"logs"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Vault     VaultConfig     `yaml:"vault"`
}

type LegionConfig struct {
	Name       string `yaml:"name"`
	MaxMinions int    `yaml:"max_minions"`
}

type RuntimeConfig struct {
	Image           string `yaml:"image"`
	WorkspaceBase   string `yaml:"workspace_base"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OAuthToken      string `yaml:"oauth_token"`
	Model           string `yaml:"model"`
}

type NATSConfig struct {
	Port          int    `yaml:"port"`
	DataDir       string `yaml:"data_dir"`
	AdvertiseHost string `yaml:"advertise_host"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogsConfig struct {
	BasePath string `yaml:"base_path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Legion: LegionConfig{
			Name:       "main",
			MaxMinions: 20,
		},
		Runtime: RuntimeConfig{
			Image:         "legiond-minion:latest",
			WorkspaceBase: "workspaces",
		},
		NATS: NATSConfig{
			Port:          4222,
			DataDir:       "data/nats",
			AdvertiseHost: "host.docker.internal",
		},
		Store: StoreConfig{
			Path: "data/legiond.db",
		},
		Logs: LogsConfig{
			BasePath: "data/logs",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("LEGIOND_CONFIG")
	if path == "" {
		path = "config/legiond.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Runtime.AnthropicAPIKey = v
	}
	if v := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); v != "" {
		cfg.Runtime.OAuthToken = v
	}
	if v := os.Getenv("LEGIOND_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("LEGIOND_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("LEGIOND_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("LEGIOND_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LEGIOND_LOGS_PATH"); v != "" {
		cfg.Logs.BasePath = v
	}
	if v := os.Getenv("LEGIOND_MAX_MINIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Legion.MaxMinions = n
		}
	}
	if v := os.Getenv("LEGIOND_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("LEGIOND_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
