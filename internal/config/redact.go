package config

import (
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Redacted returns a copy of c with every password and key masked.
func (c Config) Redacted() Config {
	out := c
	out.Targets = make([]Target, len(c.Targets))
	for i, t := range c.Targets {
		t.Database.Password = mask(t.Database.Password)
		out.Targets[i] = t
	}
	out.Email.Password = mask(c.Email.Password)
	out.Vault.RoleID = mask(c.Vault.RoleID)
	out.Cloud.AccessKey = mask(c.Cloud.AccessKey)
	out.Cloud.SecretKey = mask(c.Cloud.SecretKey)
	return out
}

// YAML renders the effective configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
