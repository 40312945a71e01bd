package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config_folder", "", "")
	flags.Duration("handshake_timeout", 0, "")
	flags.Duration("timeout", 0, "")
	flags.Bool("sql_echo", false, "")
	flags.String("kek_source", "", "")
	flags.String("proxy_password_policy", "", "")
	flags.String("aws_kms_key_id", "", "")
	flags.String("aws_region", "", "")
	return flags
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Fatalf("expected default handshake_timeout of 30s, got %v", cfg.HandshakeTimeout)
	}
	if cfg.Timeout != 60*time.Second {
		t.Fatalf("expected default timeout of 60s, got %v", cfg.Timeout)
	}
	if cfg.KEKSource != KEKSourceToken {
		t.Fatalf("expected default kek_source %q, got %q", KEKSourceToken, cfg.KEKSource)
	}
	if cfg.ProxyPasswordPolicy != ProxyPolicyPlaintextUntilBound {
		t.Fatalf("expected default proxy_password_policy %q, got %q", ProxyPolicyPlaintextUntilBound, cfg.ProxyPasswordPolicy)
	}
}

func TestLoadEnvironmentOverridesDefault(t *testing.T) {
	folder := t.TempDir()
	t.Setenv("DRIVEAGENT_CONFIG_FOLDER", folder)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ConfigFolder != folder {
		t.Fatalf("expected config_folder %q from environment, got %q", folder, cfg.ConfigFolder)
	}
}

func TestLoadFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("DRIVEAGENT_CONFIG_FOLDER", t.TempDir())
	fromFlag := t.TempDir()

	flags := newFlagSet()
	if err := flags.Set("config_folder", fromFlag); err != nil {
		t.Fatalf("setting flag failed: %v", err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ConfigFolder != fromFlag {
		t.Fatalf("expected flag value %q to win over environment, got %q", fromFlag, cfg.ConfigFolder)
	}
}

func TestLoadReadsConfigYAMLInConfigFolder(t *testing.T) {
	folder := t.TempDir()
	yaml := "sql_echo: true\ntimeout: 5s\n"
	if err := os.WriteFile(filepath.Join(folder, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing config.yaml failed: %v", err)
	}

	flags := newFlagSet()
	if err := flags.Set("config_folder", folder); err != nil {
		t.Fatalf("setting flag failed: %v", err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.SQLEcho {
		t.Fatal("expected sql_echo: true from config.yaml to take effect")
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("expected timeout 5s from config.yaml, got %v", cfg.Timeout)
	}
}

func TestLoadRejectsUnknownKEKSource(t *testing.T) {
	flags := newFlagSet()
	if err := flags.Set("kek_source", "carrier-pigeon"); err != nil {
		t.Fatalf("setting flag failed: %v", err)
	}
	if _, err := Load(flags); err == nil {
		t.Fatal("expected an error for an unrecognized kek_source")
	}
}

func TestLoadRejectsKMSKEKSourceWithoutKeyID(t *testing.T) {
	flags := newFlagSet()
	if err := flags.Set("kek_source", KEKSourceKMS); err != nil {
		t.Fatalf("setting flag failed: %v", err)
	}
	if _, err := Load(flags); err == nil {
		t.Fatal("expected an error when kek_source=kms has no aws_kms_key_id")
	}
}
