package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the sentinela server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Token     *TokenBlock     `hcl:"token,block"`
	Guard     *GuardBlock     `hcl:"guard,block"`
	Session   *SessionBlock   `hcl:"session,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Audit     *AuditBlock     `hcl:"audit,block"`
}

type ListenerBlock struct {
	Name        string `hcl:"name,label"`
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

// TokenBlock configures the row-action token codec.
type TokenBlock struct {
	TTL     string `hcl:"ttl,optional"`      // e.g. "10m"
	KeyFile string `hcl:"key_file,optional"` // hex-encoded 256-bit protection key
}

// GuardBlock configures the row mutation guard.
type GuardBlock struct {
	MinInterval string `hcl:"min_interval,optional"` // e.g. "2s"
}

// SessionBlock configures the session store.
type SessionBlock struct {
	TTL             string `hcl:"ttl,optional"`              // e.g. "8h"
	AggregateBudget int    `hcl:"aggregate_budget,optional"` // bytes; 0 means default
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem"
}

// AuditBlock configures the file audit device.
type AuditBlock struct {
	Path       string `hcl:"path"`
	HMACKey    string `hcl:"hmac_key,optional"`
	MaxSizeMB  int    `hcl:"max_size_megabytes,optional"`
	MaxBackups int    `hcl:"max_backups,optional"`
}

func LoadConfig(configFile string) (*Config, error) {
	var config Config

	err := hclsimple.DecodeFile(configFile, nil, &config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// GetApiListener is a convenience method to get the api listener
func (c *Config) GetApiListener() (*ListenerBlock, error) {
	return c.GetListenerByName("api")
}

// TokenTTL returns the configured token lifetime, or def when unset.
func (c *Config) TokenTTL(def time.Duration) (time.Duration, error) {
	if c.Token == nil || c.Token.TTL == "" {
		return def, nil
	}
	d, err := parseutil.ParseDurationSecond(c.Token.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid token ttl: %w", err)
	}
	return d, nil
}

// GuardMinInterval returns the configured toggle throttle, or def when unset.
func (c *Config) GuardMinInterval(def time.Duration) (time.Duration, error) {
	if c.Guard == nil || c.Guard.MinInterval == "" {
		return def, nil
	}
	d, err := parseutil.ParseDurationSecond(c.Guard.MinInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid guard min_interval: %w", err)
	}
	return d, nil
}

// SessionTTL returns the configured session lifetime, or def when unset.
func (c *Config) SessionTTL(def time.Duration) (time.Duration, error) {
	if c.Session == nil || c.Session.TTL == "" {
		return def, nil
	}
	d, err := parseutil.ParseDurationSecond(c.Session.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid session ttl: %w", err)
	}
	return d, nil
}
