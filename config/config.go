package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIURL overrides api.base_url when set.
const EnvAPIURL = "MR3X_API_URL"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Signing SigningConfig `yaml:"signing"`
	Verify  VerifyConfig  `yaml:"verify"`
	Archive ArchiveConfig `yaml:"archive"`
	Session SessionConfig `yaml:"session"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int `yaml:"port"`
	RateLimit      int `yaml:"rate_limit"` // requests per minute per client IP
	MaxUploadBytes int `yaml:"max_upload_bytes"`
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SigningConfig struct {
	RedirectDelayMillis int    `yaml:"redirect_delay_ms"`
	VerifyPageURL       string `yaml:"verify_page_url"`
	HighAccuracy        bool   `yaml:"high_accuracy"`
	LocateTimeoutSecs   int    `yaml:"locate_timeout_seconds"`
}

func (c SigningConfig) RedirectDelay() time.Duration {
	return time.Duration(c.RedirectDelayMillis) * time.Millisecond
}

func (c SigningConfig) LocateTimeout() time.Duration {
	return time.Duration(c.LocateTimeoutSecs) * time.Second
}

type VerifyConfig struct {
	MaxPDFBytes int64 `yaml:"max_pdf_bytes"`
}

type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	Region     string `yaml:"region"`
	ExpireDays int    `yaml:"expire_days"`
}

type SessionConfig struct {
	Secret       string `yaml:"secret"`
	ExpireHours  int    `yaml:"expire_hours"`
	MaxSessions  int    `yaml:"max_sessions"`
	HandoffLimit int    `yaml:"handoff_limit"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

// Default returns a configuration with every default applied, for runs
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:3001/api"
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 30
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 100
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Signing.RedirectDelayMillis == 0 {
		cfg.Signing.RedirectDelayMillis = 2000
	}
	if cfg.Signing.VerifyPageURL == "" {
		cfg.Signing.VerifyPageURL = "/verify"
	}
	if cfg.Signing.LocateTimeoutSecs == 0 {
		cfg.Signing.LocateTimeoutSecs = 15
	}
	if cfg.Verify.MaxPDFBytes == 0 {
		cfg.Verify.MaxPDFBytes = 20 << 20
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.ExpireDays == 0 {
		cfg.Archive.ExpireDays = 7
	}
	if cfg.Session.ExpireHours == 0 {
		cfg.Session.ExpireHours = 2
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 1000
	}
	if cfg.Session.HandoffLimit == 0 {
		cfg.Session.HandoffLimit = 1000
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 60
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
