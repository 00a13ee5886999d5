package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "QAA"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "qaa.db"
	defaultLogLevel     = "info"
	defaultTokenIssuer  = "qaa-auth"
	defaultLeaseSeconds = 30
)

// AppConfig captures runtime configuration for the coordinator service.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	TokenIssuer   string
	DatabasePath  string
	RedisAddress  string
	LogLevel      string
	LockLease     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("lock.lease_seconds", defaultLeaseSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.issuer"),
		DatabasePath:  configViper.GetString("database.path"),
		RedisAddress:  configViper.GetString("redis.address"),
		LogLevel:      configViper.GetString("log.level"),
		LockLease:     time.Duration(configViper.GetInt("lock.lease_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LockLease <= 0 {
		return fmt.Errorf("lock.lease_seconds must be positive")
	}
	return nil
}
