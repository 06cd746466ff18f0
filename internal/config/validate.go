package config

import (
	"fmt"
	"regexp"
	"strings"
)

var targetNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var compressions = map[string]bool{"gz": true, "bz2": true, "zst": true}

// Validate checks required keys and value ranges. All problems are
// reported together so an operator can fix the file in one pass.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.BackupDir == "" {
		add("backup_dir is required")
	}
	if c.RestoreDir == "" {
		add("restore_dir is required")
	}
	if !compressions[c.Compression] {
		add("compression %q must be one of gz, bz2, zst", c.Compression)
	}
	if c.Concurrency < 1 {
		add("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Timeout <= 0 {
		add("timeout must be positive")
	}
	if len(c.Targets) == 0 {
		add("targets must list at least one target")
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		switch {
		case t.Name == "":
			add("%s.name is required", field)
		case !targetNameRE.MatchString(t.Name):
			add("%s.name %q may only contain letters, digits, '.', '_' and '-'", field, t.Name)
		case seen[t.Name]:
			add("%s.name %q is duplicated", field, t.Name)
		}
		seen[t.Name] = true

		switch t.Type {
		case TypeFile, TypeDirectory:
			if t.Path == "" {
				add("%s.path is required for type %s", field, t.Type)
			}
		case TypeMySQL, TypePostgres:
			if t.Database.Database == "" {
				add("%s.database.database is required for type %s", field, t.Type)
			}
			if t.Database.VaultRole != "" && c.Vault.Address == "" {
				add("%s.database.vault_role needs vault.address", field)
			}
		case "":
			add("%s.type is required", field)
		default:
			add("%s.type %q must be one of file, directory, mysql, postgres", field, t.Type)
		}
	}

	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			add("email.smtp_host is required when email is enabled")
		}
		if c.Email.SMTPPort <= 0 {
			add("email.smtp_port must be positive")
		}
		if c.Email.From == "" {
			add("email.from is required when email is enabled")
		}
		if len(c.Email.Recipients) == 0 {
			add("email.recipients must not be empty when email is enabled")
		}
	}

	if c.Cloud.Enabled {
		if c.Cloud.Bucket == "" {
			add("cloud.bucket is required when cloud is enabled")
		}
		if c.Cloud.Region == "" {
			add("cloud.region is required when cloud is enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
