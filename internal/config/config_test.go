package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staffctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `version: 1
aws:
  region: eu-west-1
store:
  backend: postgres
  postgres:
    host: db.internal
    database: employees
    username: staffctl
    password: secret
instance:
  subnet_id: subnet-123
directory:
  directory_id: d-123
  domain: corp.example.com
  management_instance_id: i-mgmt
  admin_upn: admin@corp.example.com
  admin_password: adminpw
commands:
  poll_interval: 2s
software:
  finance:
    name: LibreOffice
    script: Write-Host "installing"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got %s", cfg.AWS.Region)
	}
	if cfg.Store.Postgres.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", cfg.Store.Postgres.Port)
	}
	if cfg.Commands.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %s", cfg.Commands.PollInterval)
	}
	if cfg.Commands.MaxAttempts != 30 {
		t.Errorf("expected default max attempts 30, got %d", cfg.Commands.MaxAttempts)
	}
	if cfg.Directory.NetBIOS != "CORP" {
		t.Errorf("expected derived netbios CORP, got %s", cfg.Directory.NetBIOS)
	}
	if cfg.Directory.DefaultPassword != DefaultPassword {
		t.Errorf("expected default password, got %q", cfg.Directory.DefaultPassword)
	}
	if cfg.Software["finance"].Name != "LibreOffice" {
		t.Errorf("expected finance software entry, got %+v", cfg.Software)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != "dynamodb" {
		t.Errorf("expected dynamodb backend, got %s", cfg.Store.Backend)
	}
	if cfg.Instance.ProfilePrefix != "employee-profile" {
		t.Errorf("unexpected profile prefix %s", cfg.Instance.ProfilePrefix)
	}
	if cfg.Instance.ManagedPolicyARN != "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore" {
		t.Errorf("unexpected managed policy %s", cfg.Instance.ManagedPolicyARN)
	}
	if cfg.Commands.AgentWait != 15*time.Minute {
		t.Errorf("expected agent wait 15m, got %s", cfg.Commands.AgentWait)
	}
	if cfg.Artifacts.LinkTTL != 24*time.Hour {
		t.Errorf("expected link ttl 24h, got %s", cfg.Artifacts.LinkTTL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestAgentWaitFloor(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\ncommands:\n  agent_wait: 5s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Commands.AgentWait != time.Minute {
		t.Errorf("agent wait should be raised to 1m, got %s", cfg.Commands.AgentWait)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	path := writeConfig(t, "version: 99\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid version")
	}
	if !strings.Contains(err.Error(), "unsupported config version") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("STAFFCTL_AD_PASSWORD", "from-env")

	cfg, err := Parse([]byte("version: 1\ndirectory:\n  admin_password: ${ENV:STAFFCTL_AD_PASSWORD}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Directory.AdminPassword != "from-env" {
		t.Errorf("expected resolved password, got %q", cfg.Directory.AdminPassword)
	}
}

func TestResolveEnvSecretMissing(t *testing.T) {
	t.Setenv("STAFFCTL_MISSING", "")

	_, err := Parse([]byte("version: 1\ndirectory:\n  default_password: ${ENV:STAFFCTL_MISSING}\n"))
	if err == nil {
		t.Fatal("expected error for unset environment variable")
	}
	if !strings.Contains(err.Error(), "directory default password") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestResolvePlainValue(t *testing.T) {
	val, err := ResolveValue("plain-text-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "plain-text-value" {
		t.Errorf("plain values should pass through, got %q", val)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "unknown backend"},
		{"postgres without host", func(c *Config) { c.Store.Backend = "postgres" }, "store.postgres"},
		{"mongodb without uri", func(c *Config) { c.Store.Backend = "mongodb" }, "store.mongodb"},
		{"empty software script", func(c *Config) {
			c.Software = map[string]SoftwareEntry{"sales": {Name: "CRM"}}
		}, "software.sales"},
		{"negative max attempts", func(c *Config) { c.Commands.MaxAttempts = -1 }, "commands.max_attempts"},
		{"negative poll interval", func(c *Config) { c.Commands.PollInterval = -time.Second }, "commands.poll_interval"},
		{"negative access interval", func(c *Config) { c.Commands.AccessInterval = -time.Second }, "commands.access_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("version: 1\n"))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, Database: "hr", Username: "svc", Password: "p@ss word", SSLMode: "disable"}
	want := "postgres://svc:p%40ss%20word@db:5432/hr?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.staffctl/x"); got != filepath.Join(home, ".staffctl/x") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute paths should be unchanged, got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "staffctl.yaml")
	cfg := &Config{
		Version:   CurrentVersion,
		Store:     StoreConfig{Backend: "sqlite", SQLite: SQLiteConfig{Path: "/tmp/s.db"}},
		Directory: DirectoryConfig{Domain: "corp.example.com", DirectoryID: "d-1"},
		Commands:  CommandConfig{PollInterval: 20 * time.Second},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config should be owner-only, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Store.SQLite.Path != "/tmp/s.db" || loaded.Directory.Domain != "corp.example.com" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Commands.PollInterval != 20*time.Second {
		t.Errorf("poll interval = %s", loaded.Commands.PollInterval)
	}
}
