package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved operator configuration for a driveagent
// installation: one config folder per device, holding the state database,
// an optional config.yaml, and stop marker files.
type Config struct {
	ConfigFolder string

	// HandshakeTimeout bounds the initial RequestToken probe on BindServer;
	// Timeout bounds every other remote operation.
	HandshakeTimeout time.Duration
	Timeout          time.Duration

	SQLEcho bool

	// KEKSource selects the CryptoBox backend: "token" (default) or "kms".
	KEKSource           string
	ProxyPasswordPolicy string // "plaintext-until-bound" (default) or "kms"
	AWSKMSKeyID         string
	AWSRegion           string
}

const (
	KEKSourceToken = "token"
	KEKSourceKMS   = "kms"

	ProxyPolicyPlaintextUntilBound = "plaintext-until-bound"
	ProxyPolicyKMS                 = "kms"
)

func defaultConfigFolder() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".driveagent")
	}
	return "./.driveagent"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_folder", defaultConfigFolder())
	v.SetDefault("handshake_timeout", 30*time.Second)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("sql_echo", false)
	v.SetDefault("kek_source", KEKSourceToken)
	v.SetDefault("proxy_password_policy", ProxyPolicyPlaintextUntilBound)
	v.SetDefault("aws_region", "us-east-1")
}

// Load resolves configuration with the precedence flags > environment
// (DRIVEAGENT_*, loaded from a development .env via LoadEnvOnce) >
// config.yaml in the config folder > built-in defaults. flags may be nil
// when called outside a Cobra command (tests, daemons without a CLI).
func Load(flags *pflag.FlagSet) (*Config, error) {
	LoadEnvOnce()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DRIVEAGENT")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config.Load: binding flags: %w", err)
		}
	}

	// The config folder itself can come from a flag/env var, so resolve it
	// before looking for config.yaml inside it.
	folder := v.GetString("config_folder")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(folder)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config.Load: reading config.yaml: %w", err)
		}
	}

	cfg := &Config{
		ConfigFolder:        v.GetString("config_folder"),
		HandshakeTimeout:    v.GetDuration("handshake_timeout"),
		Timeout:             v.GetDuration("timeout"),
		SQLEcho:             v.GetBool("sql_echo"),
		KEKSource:           v.GetString("kek_source"),
		ProxyPasswordPolicy: v.GetString("proxy_password_policy"),
		AWSKMSKeyID:         v.GetString("aws_kms_key_id"),
		AWSRegion:           v.GetString("aws_region"),
	}

	if cfg.KEKSource != KEKSourceToken && cfg.KEKSource != KEKSourceKMS {
		return nil, fmt.Errorf("config.Load: invalid kek_source %q", cfg.KEKSource)
	}
	if cfg.ProxyPasswordPolicy != ProxyPolicyPlaintextUntilBound && cfg.ProxyPasswordPolicy != ProxyPolicyKMS {
		return nil, fmt.Errorf("config.Load: invalid proxy_password_policy %q", cfg.ProxyPasswordPolicy)
	}
	if cfg.KEKSource == KEKSourceKMS && cfg.AWSKMSKeyID == "" {
		return nil, fmt.Errorf("config.Load: kek_source=kms requires aws_kms_key_id")
	}

	return cfg, nil
}
