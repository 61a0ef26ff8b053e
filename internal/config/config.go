package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.staffctl/staffctl.yaml"

	// DefaultPassword is the bootstrap password handed to every new account
	// unless directory.default_password overrides it.
	DefaultPassword = "Welkom99!!"
)

// Config is the top-level configuration.
type Config struct {
	Version       int                      `yaml:"version"`
	AWS           AWSConfig                `yaml:"aws,omitempty"`
	Store         StoreConfig              `yaml:"store"`
	Instance      InstanceConfig           `yaml:"instance"`
	Directory     DirectoryConfig          `yaml:"directory"`
	Commands      CommandConfig            `yaml:"commands,omitempty"`
	Artifacts     ArtifactConfig           `yaml:"artifacts,omitempty"`
	Notifications NotificationConfig       `yaml:"notifications,omitempty"`
	Software      map[string]SoftwareEntry `yaml:"software,omitempty"`
	Logging       LogConfig                `yaml:"logging,omitempty"`
}

// AWSConfig selects the account and region resources are created in.
type AWSConfig struct {
	Region    string `yaml:"region,omitempty"`
	Profile   string `yaml:"profile,omitempty"`
	AccountID string `yaml:"account_id,omitempty"` // looked up via STS when empty
}

// StoreConfig selects and configures the status store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // dynamodb, postgres, mongodb, sqlite or memory
	DynamoDB DynamoDBConfig `yaml:"dynamodb,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	MongoDB  MongoDBConfig  `yaml:"mongodb,omitempty"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
}

type DynamoDBConfig struct {
	Table         string `yaml:"table,omitempty"`
	PasswordTable string `yaml:"password_table,omitempty"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"ssl_mode,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty"` // default 4
}

// DSN builds a postgres:// connection URL.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type MongoDBConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Database         string `yaml:"database"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// InstanceConfig controls the per-employee Windows instance and its identity.
type InstanceConfig struct {
	Type               string        `yaml:"type,omitempty"`
	ImageID            string        `yaml:"image_id,omitempty"`
	ImageParameter     string        `yaml:"image_parameter,omitempty"` // SSM parameter holding the AMI id
	SubnetID           string        `yaml:"subnet_id"`
	SecurityGroupID    string        `yaml:"security_group_id,omitempty"`
	ProfilePrefix      string        `yaml:"profile_prefix,omitempty"`
	ManagedPolicyARN   string        `yaml:"managed_policy_arn,omitempty"`
	ProjectTag         string        `yaml:"project_tag,omitempty"`
	RunningTimeout     time.Duration `yaml:"running_timeout,omitempty"`
	ProfilePropagation time.Duration `yaml:"profile_propagation,omitempty"`
}

// DirectoryConfig describes the managed directory and its management host.
type DirectoryConfig struct {
	DirectoryID          string `yaml:"directory_id"`
	Domain               string `yaml:"domain"`
	NetBIOS              string `yaml:"netbios,omitempty"`
	Server               string `yaml:"server,omitempty"` // domain controller for cmdlets; defaults to domain
	UserOU               string `yaml:"user_ou,omitempty"`
	ManagementInstanceID string `yaml:"management_instance_id"`
	AdminUPN             string `yaml:"admin_upn"`
	AdminPassword        string `yaml:"admin_password"`
	DefaultPassword      string `yaml:"default_password,omitempty"`
}

// AccountsEnabled reports whether directory accounts are managed from a
// management host.
func (d DirectoryConfig) AccountsEnabled() bool {
	return d.ManagementInstanceID != "" && d.UserOU != "" && d.Domain != ""
}

// ServerName returns the domain controller directory cmdlets talk to.
func (d DirectoryConfig) ServerName() string {
	if d.Server != "" {
		return d.Server
	}
	return d.Domain
}

// CommandConfig sets the remote command polling policy.
type CommandConfig struct {
	AgentWait      time.Duration `yaml:"agent_wait,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	AccessInterval time.Duration `yaml:"access_interval,omitempty"`
}

// ArtifactConfig controls where connection files are published.
type ArtifactConfig struct {
	Bucket   string        `yaml:"bucket,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	LinkTTL  time.Duration `yaml:"link_ttl,omitempty"`
	LocalDir string        `yaml:"local_dir,omitempty"`
}

type NotificationConfig struct {
	TopicARN string `yaml:"topic_arn,omitempty"`
}

// SoftwareEntry is a department install script.
type SoftwareEntry struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // empty logs to stdout only
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return Parse(data)
}

// Parse decodes, resolves and defaults a config document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config as YAML. The file may hold secrets, so it is owner-only.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.AWS.Region == "" {
		c.AWS.Region = "eu-central-1"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "dynamodb"
	}
	if c.Store.DynamoDB.Table == "" {
		c.Store.DynamoDB.Table = "cs3-nca-employees"
	}
	if c.Store.DynamoDB.PasswordTable == "" {
		c.Store.DynamoDB.PasswordTable = "cs3-nca-employee-passwords"
	}
	if c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = 5432
	}
	if c.Store.Postgres.SSLMode == "" {
		c.Store.Postgres.SSLMode = "require"
	}
	if c.Store.Postgres.MaxConnections == 0 {
		c.Store.Postgres.MaxConnections = 4
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = ExpandHome("~/.staffctl/staffctl.db")
	}
	if c.Instance.Type == "" {
		c.Instance.Type = "t3.micro"
	}
	if c.Instance.ImageID == "" && c.Instance.ImageParameter == "" {
		c.Instance.ImageParameter = "/aws/service/ami-windows-latest/Windows_Server-2022-English-Full-Base"
	}
	if c.Instance.ProfilePrefix == "" {
		c.Instance.ProfilePrefix = "employee-profile"
	}
	if c.Instance.ManagedPolicyARN == "" {
		c.Instance.ManagedPolicyARN = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"
	}
	if c.Instance.ProjectTag == "" {
		c.Instance.ProjectTag = "cs3-nca"
	}
	if c.Instance.RunningTimeout == 0 {
		c.Instance.RunningTimeout = 10 * time.Minute
	}
	if c.Instance.ProfilePropagation == 0 {
		c.Instance.ProfilePropagation = 10 * time.Second
	}
	if c.Directory.DefaultPassword == "" {
		c.Directory.DefaultPassword = DefaultPassword
	}
	if c.Directory.NetBIOS == "" && c.Directory.Domain != "" {
		c.Directory.NetBIOS = strings.ToUpper(strings.SplitN(c.Directory.Domain, ".", 2)[0])
	}
	if c.Commands.AgentWait == 0 {
		c.Commands.AgentWait = 15 * time.Minute
	}
	if c.Commands.AgentWait < time.Minute {
		c.Commands.AgentWait = time.Minute
	}
	if c.Commands.PollInterval == 0 {
		c.Commands.PollInterval = 10 * time.Second
	}
	if c.Commands.MaxAttempts == 0 {
		c.Commands.MaxAttempts = 30
	}
	if c.Commands.AccessInterval == 0 {
		c.Commands.AccessInterval = 5 * time.Second
	}
	if c.Artifacts.Prefix == "" {
		c.Artifacts.Prefix = "rdp"
	}
	if c.Artifacts.LinkTTL == 0 {
		c.Artifacts.LinkTTL = 24 * time.Hour
	}
	if c.Artifacts.LocalDir == "" {
		c.Artifacts.LocalDir = os.TempDir()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports structural problems that make the config unusable for any job.
// Settings only some steps need are checked by the workflow before it starts.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "dynamodb", "memory":
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			errs = append(errs, errors.New("store.postgres: host and database are required"))
		}
	case "mongodb":
		if c.Store.MongoDB.ConnectionString == "" || c.Store.MongoDB.Database == "" {
			errs = append(errs, errors.New("store.mongodb: connection_string and database are required"))
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite: path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Commands.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("commands.max_attempts: must be at least 1, got %d", c.Commands.MaxAttempts))
	}
	if c.Commands.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("commands.poll_interval: must be positive, got %s", c.Commands.PollInterval))
	}
	if c.Commands.AccessInterval <= 0 {
		errs = append(errs, fmt.Errorf("commands.access_interval: must be positive, got %s", c.Commands.AccessInterval))
	}
	for dept, entry := range c.Software {
		if strings.TrimSpace(entry.Script) == "" {
			errs = append(errs, fmt.Errorf("software.%s: script is required", dept))
		}
	}
	return errors.Join(errs...)
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"store postgres password", &c.Store.Postgres.Password},
		{"store mongodb connection string", &c.Store.MongoDB.ConnectionString},
		{"directory admin password", &c.Directory.AdminPassword},
		{"directory default password", &c.Directory.DefaultPassword},
	}
	for _, f := range fields {
		v, err := ResolveValue(*f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
