// Package config loads process configuration from defaults, an optional YAML
// file and PRODTRACK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"prodtrack.org/internal/auth"
)

const envPrefix = "PRODTRACK"

type Config struct {
	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		RateBurst   int      `mapstructure:"rate_burst"`
		RatePerSec  int      `mapstructure:"rate_per_sec"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`

	Database struct {
		DSN string `mapstructure:"dsn"` // empty: in-memory store
	} `mapstructure:"database"`

	Auth struct {
		Secret            string `mapstructure:"secret"`
		Algorithm         string `mapstructure:"algorithm"`
		TokenTTLMinutes   int    `mapstructure:"token_ttl_minutes"`
		Issuer            string `mapstructure:"issuer"`
		PasswordAlgorithm string `mapstructure:"password_algorithm"`
		BcryptCost        int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Log struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warn|error
		Format string `mapstructure:"format"` // json|text
	} `mapstructure:"log"`

	Trace struct {
		Stdout bool `mapstructure:"stdout"`
	} `mapstructure:"trace"`

	Migrations struct {
		Auto bool `mapstructure:"auto"`
	} `mapstructure:"migrations"`
}

// TokenTTL returns the configured token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_burst", 20)
	v.SetDefault("http.rate_per_sec", 10)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.token_ttl_minutes", 30)
	v.SetDefault("auth.issuer", "prodtrack")
	v.SetDefault("auth.password_algorithm", auth.AlgorithmBcrypt)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("trace.stdout", false)
	v.SetDefault("migrations.auto", true)
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile := os.Getenv(envPrefix + "_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/prodtrack")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret must be set: %w", auth.ErrMissingSecret)
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm)
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return errors.New("auth.token_ttl_minutes must be positive")
	}
	switch c.Auth.PasswordAlgorithm {
	case auth.AlgorithmBcrypt:
		if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
			return fmt.Errorf("auth.bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case auth.AlgorithmArgon2id:
	default:
		return fmt.Errorf("auth.password_algorithm %q is not supported", c.Auth.PasswordAlgorithm)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr must not be empty")
	}
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSec <= 0 {
		return errors.New("http.rate_burst and http.rate_per_sec must be positive")
	}
	return nil
}
