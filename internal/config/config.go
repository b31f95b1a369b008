// Package config handles input from etc/*.toml files
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/BurntSushi/toml"
)

// Defaults applied by validate when the corresponding settings are zero.
const (
	DefaultPageSize       = 999
	DefaultBatchSize      = 500
	DefaultMaxRetries     = 5
	DefaultRequestTimeout = 60   // seconds
	DefaultRunTimeout     = 1800 // seconds
	DefaultFailureRateCap = 0.10
	DefaultDirectoryScope = "https://graph.microsoft.com/.default"
)

// ReadConfig from config file.
func ReadConfig(path string) (Config, error) {
	var (
		c             Config
		JSONConfigEnv string
		err           error
	)

	// Read main configuration
	if path == "" {
		path = "./etc/"
	}

	if _, err = toml.DecodeFile(path+"main.toml", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	// override it from env
	JSONConfigEnv = os.Getenv("ACCESS_MIRROR_CONFIG_JSON")

	if JSONConfigEnv != "" {
		c, err = decodeAndMergeConfig(c, JSONConfigEnv)
		if err != nil {
			return c, err
		}
	}

	return c, validate(&c)
}

func decodeAndMergeConfig(c Config, configAsJSON string) (Config, error) {
	err := json.Unmarshal([]byte(configAsJSON), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config override from env")
	}

	return c, nil
}

// DumpConfig config as TOML String.
func DumpConfig(c *Config) (string, error) {
	var buffer bytes.Buffer
	t := toml.NewEncoder(&buffer)

	if err := t.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// DumpConfigJSON config as JSON String.
func DumpConfigJSON(c *Config) (string, error) {
	var buffer bytes.Buffer
	j := json.NewEncoder(&buffer)
	j.SetIndent("", "  ")

	if err := j.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// validate minimal config settings and fill sync defaults.
func validate(c *Config) error {
	invalidErrMessage := "invalid config"

	// validate webserver listening port
	if c.Webserver.Port == 0 {
		return errors.Wrap(ErrWebServerPortCanNotBeZero, invalidErrMessage)
	}

	if c.Webserver.URL == "" {
		return errors.Wrap(ErrEmptyURL, invalidErrMessage)
	}

	if c.Webserver.ShutDownTime == 0 {
		c.Webserver.ShutDownTime = 5 // set default of 5 seconds
	}

	// the active environment must exist when any environment is configured
	if c.AppDB.ActiveEnv != "" {
		if _, ok := c.AppDB.Environments[c.AppDB.ActiveEnv]; !ok {
			return errors.Wrap(ErrUnknownActiveEnv, invalidErrMessage)
		}
	}

	if c.Sync.FailureRateCap < 0 || c.Sync.FailureRateCap > 1 {
		return errors.Wrap(ErrFailureRateCapOutOfRange, invalidErrMessage)
	}

	applySyncDefaults(&c.Sync)

	if c.Directory.Scope == "" {
		c.Directory.Scope = DefaultDirectoryScope
	}

	return nil
}

func applySyncDefaults(s *Sync) {
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}

	if s.BatchSize == 0 {
		s.BatchSize = DefaultBatchSize
	}

	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}

	if s.RequestTimeoutS == 0 {
		s.RequestTimeoutS = DefaultRequestTimeout
	}

	if s.RunTimeoutS == 0 {
		s.RunTimeoutS = DefaultRunTimeout
	}

	if s.FailureRateCap == 0 {
		s.FailureRateCap = DefaultFailureRateCap
	}
}

// Status is the redacted configuration view exposed by the façade. Secrets
// are reduced to presence flags and short prefixes.
type Status struct {
	Directory struct {
		Configured   bool   `json:"configured"`
		TenantPrefix string `json:"tenant_prefix,omitempty"`
		ClientPrefix string `json:"client_prefix,omitempty"`
	} `json:"directory"`
	AppDB struct {
		ActiveEnv    string   `json:"active_env"`
		Environments []string `json:"environments"`
	} `json:"appdb"`
	MocksAllowed bool `json:"mocks_allowed"`
}

// GetStatus returns the redacted configuration status for all integrations.
func (c *Config) GetStatus() Status {
	var s Status

	s.Directory.Configured = c.Directory.Configured()
	s.Directory.TenantPrefix = redact(c.Directory.TenantID)
	s.Directory.ClientPrefix = redact(c.Directory.ClientID)

	s.AppDB.ActiveEnv = c.AppDB.ActiveEnv
	s.AppDB.Environments = make([]string, 0, len(c.AppDB.Environments))

	for name := range c.AppDB.Environments {
		s.AppDB.Environments = append(s.AppDB.Environments, name)
	}

	sort.Strings(s.AppDB.Environments)

	s.MocksAllowed = c.Mocks.Allow

	return s
}

func redact(v string) string {
	const keep = 8

	if v == "" {
		return ""
	}

	if len(v) <= keep {
		return v + "..."
	}

	return v[:keep] + "..."
}
