package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig indicates a missing, unreadable or invalid configuration.
// It is fatal: no target runs when loading fails.
var ErrConfig = errors.New("configuration error")

// DefaultPath is used when no --config flag is given.
const DefaultPath = "./backup_config.yaml"

// EnvPrefix prefixes environment overrides, e.g. BACKMAN_BACKUP_DIR.
const EnvPrefix = "BACKMAN"

// Target types.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeMySQL     = "mysql"
	TypePostgres  = "postgres"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string      `mapstructure:"include"     yaml:"include,omitempty"`
	BackupDir   string        `mapstructure:"backup_dir"  yaml:"backup_dir"`
	RestoreDir  string        `mapstructure:"restore_dir" yaml:"restore_dir"`
	Compression string        `mapstructure:"compression" yaml:"compression"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"     yaml:"timeout"`
	LogFile     string        `mapstructure:"log_file"    yaml:"log_file"`
	LogLevel    string        `mapstructure:"log_level"   yaml:"log_level"`

	Targets []Target    `mapstructure:"targets" yaml:"targets"`
	Email   EmailConfig `mapstructure:"email"   yaml:"email"`
	Vault   VaultConfig `mapstructure:"vault"   yaml:"vault"`
	Cloud   CloudConfig `mapstructure:"cloud"   yaml:"cloud"`
}

// Target is one named file, directory or database to back up.
type Target struct {
	Name     string       `mapstructure:"name"     yaml:"name"`
	Type     string       `mapstructure:"type"     yaml:"type"`
	Path     string       `mapstructure:"path"     yaml:"path,omitempty"`
	Database DBConnection `mapstructure:"database" yaml:"database,omitempty"`
}

// IsDatabase reports whether the target is dumped through an external utility.
func (t Target) IsDatabase() bool {
	return t.Type == TypeMySQL || t.Type == TypePostgres
}

// DBConnection holds the parameters passed to mysqldump / pg_dump.
type DBConnection struct {
	Host     string `mapstructure:"host"     yaml:"host,omitempty"`
	Port     string `mapstructure:"port"     yaml:"port,omitempty"`
	User     string `mapstructure:"user"     yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Database string `mapstructure:"database" yaml:"database"`
	// VaultRole is a Vault path returning dynamic username/password,
	// e.g. database/creds/analytics. Overrides User and Password.
	VaultRole string   `mapstructure:"vault_role" yaml:"vault_role,omitempty"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// EmailConfig configures the run summary email.
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"    yaml:"enabled"`
	SMTPHost   string   `mapstructure:"smtp_host"  yaml:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"  yaml:"smtp_port"`
	Username   string   `mapstructure:"username"   yaml:"username,omitempty"`
	Password   string   `mapstructure:"password"   yaml:"password,omitempty"`
	From       string   `mapstructure:"from"       yaml:"from"`
	Recipients []string `mapstructure:"recipients" yaml:"recipients"`
	// OnlyOnFailure suppresses the email for fully successful runs.
	OnlyOnFailure bool          `mapstructure:"only_on_failure" yaml:"only_on_failure,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout"         yaml:"timeout,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
}

// VaultEnabled reports whether any target needs Vault.
func (c Config) VaultEnabled() bool {
	for _, t := range c.Targets {
		if t.IsDatabase() && t.Database.VaultRole != "" {
			return true
		}
	}
	return false
}

// CloudConfig enables an optional S3 copy of every finished archive.
type CloudConfig struct {
	Enabled   bool   `mapstructure:"enabled"    yaml:"enabled"`
	Bucket    string `mapstructure:"bucket"     yaml:"bucket"`
	Region    string `mapstructure:"region"     yaml:"region"`
	Prefix    string `mapstructure:"prefix"     yaml:"prefix,omitempty"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup_dir", "./backups")
	v.SetDefault("restore_dir", "./restored")
	v.SetDefault("compression", "gz")
	v.SetDefault("concurrency", 1)
	v.SetDefault("timeout", time.Hour)
	v.SetDefault("log_file", "./backup.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.timeout", 30*time.Second)
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, unmarshals into the Config struct and
// validates it. Every failure wraps ErrConfig.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config %s: %v", ErrConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrConfig, inc, err)
		}
	}

	// UnmarshalExact rejects keys that do not map onto Config.
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrConfig, err)
	}

	return c.Validate()
}

// Load is a convenience wrapper around Config.Load.
func Load(path string) (Config, error) {
	var cfg Config
	if err := cfg.Load(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
