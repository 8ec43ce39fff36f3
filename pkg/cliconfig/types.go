// Package cliconfig layers fakemesh configuration from defaults, a YAML
// file, environment variables and command-line flags.
package cliconfig

import "github.com/getmockd/fakemesh/pkg/config"

// CLIConfig is a ServerConfig plus bookkeeping about where each value came
// from. Precedence, highest first:
// 1. Command-line flags
// 2. Environment variables (FAKEMESH_*)
// 3. Config file (--config)
// 4. Default values
type CLIConfig struct {
	config.ServerConfig `yaml:",inline"`

	// Sources tracks where each value came from, keyed by YAML name.
	Sources map[string]string `yaml:"-" json:"-"`

	// SetFields records the keys explicitly present in a source, so an
	// explicit false or zero can override an earlier layer.
	SetFields map[string]bool `yaml:"-" json:"-"`
}

// ConfigSource identifies where a config value originated.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// Keys are the YAML names of every configurable field.
var Keys = []string{
	"host", "port", "dataDir", "caCert", "cert", "key", "debug",
	"logLevel", "logFormat", "metricsAddr", "drainTimeout",
	"readHeaderTimeout", "sharedKey", "password",
}

// NewDefault creates a CLIConfig with default values, every key sourced
// from SourceDefault.
func NewDefault() *CLIConfig {
	cfg := &CLIConfig{
		ServerConfig: *config.DefaultServerConfig(),
		Sources:      make(map[string]string, len(Keys)),
	}
	for _, k := range Keys {
		cfg.Sources[k] = SourceDefault
	}
	return cfg
}

// Mark records key as explicitly set.
func (c *CLIConfig) Mark(key string) {
	if c.SetFields == nil {
		c.SetFields = make(map[string]bool)
	}
	c.SetFields[key] = true
}
