// Package config loads the manager's runtime configuration: connection
// environment from a dotenv file and reconciliation policy from a YAML
// settings file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment holds connection settings sourced from the process
// environment (optionally seeded from a dotenv file). Credentials stay
// here and never enter the settings file.
type Environment struct {
	// IPAServerFQDN is the API endpoint host.
	IPAServerFQDN string

	// LDAP settings for the optional direct-LDAP actual-state source.
	LDAPBaseDN   string
	LDAPHost     string
	LDAPBindDN   string
	LDAPPassword string
	LDAPPageSize uint32

	// AuditDSN enables the Postgres audit trail when non-empty.
	AuditDSN string
}

// LoadEnv reads the environment, seeding it from the named dotenv file
// when one is given.
func LoadEnv(configName string) (*Environment, error) {
	if configName != "" {
		if err := godotenv.Load(configName); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", configName, err)
		}
	}

	env := &Environment{
		IPAServerFQDN: os.Getenv("IPA_SERVER_FQDN"),
		LDAPBaseDN:    os.Getenv("LDAP_BASEDN"),
		LDAPHost:      os.Getenv("LDAP_HOST"),
		LDAPBindDN:    os.Getenv("LDAP_BINDDN"),
		LDAPPassword:  os.Getenv("LDAP_PASSWORD"),
		AuditDSN:      os.Getenv("AUDIT_DSN"),
		LDAPPageSize:  500,
	}

	if raw := os.Getenv("LDAP_PAGESIZE"); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("LDAP_PAGESIZE: %w", err)
		}
		env.LDAPPageSize = uint32(pageSize)
	}

	if env.IPAServerFQDN == "" {
		return nil, fmt.Errorf("IPA_SERVER_FQDN is not set")
	}

	return env, nil
}
