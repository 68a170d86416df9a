package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Broker struct {
		AppKey    string `yaml:"app_key"`
		AppSecret string `yaml:"app_secret"`
		AccountNo string `yaml:"account_no"`
		IsReal    bool   `yaml:"is_real"`
	} `yaml:"broker"`
	RateLimit struct {
		MaxCalls int `yaml:"max_calls"`
		WindowMS int `yaml:"window_ms"`
	} `yaml:"rate_limit"`
	Symbols struct {
		CachePath   string   `yaml:"cache_path"`
		RefreshCron string   `yaml:"refresh_cron"`
		Markets     []string `yaml:"markets"`
	} `yaml:"symbols"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		cfg.Broker.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		cfg.Broker.AppSecret = v
	}
	if v := os.Getenv("KIS_ACCOUNT_NO"); v != "" {
		cfg.Broker.AccountNo = v
	}
	if v := os.Getenv("KIS_IS_REAL"); v != "" {
		if real, err := strconv.ParseBool(v); err == nil {
			cfg.Broker.IsReal = real
		}
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SYMBOL_CACHE_PATH"); v != "" {
		cfg.Symbols.CachePath = v
	}
	if v := os.Getenv("SYMBOL_REFRESH_CRON"); v != "" {
		cfg.Symbols.RefreshCron = v
	}

	// Defaults
	if cfg.RateLimit.MaxCalls == 0 {
		cfg.RateLimit.MaxCalls = 19
	}
	if cfg.RateLimit.WindowMS == 0 {
		cfg.RateLimit.WindowMS = 1000
	}
	if cfg.Symbols.CachePath == "" {
		cfg.Symbols.CachePath = "data/symbols.db"
	}
	if cfg.Symbols.RefreshCron == "" {
		// Weekday mornings before the US session, KST.
		cfg.Symbols.RefreshCron = "0 0 8 * * 1-5"
	}
	if len(cfg.Symbols.Markets) == 0 {
		cfg.Symbols.Markets = []string{"US"}
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Broker.AppKey == "" {
		return fmt.Errorf("broker.app_key is required")
	}
	if c.Broker.AppSecret == "" {
		return fmt.Errorf("broker.app_secret is required")
	}
	if c.Broker.AccountNo == "" {
		return fmt.Errorf("broker.account_no is required")
	}
	if c.RateLimit.MaxCalls <= 0 {
		return fmt.Errorf("rate_limit.max_calls must be positive")
	}
	return nil
}
