package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment variable fakemesh reads.
const EnvPrefix = "FAKEMESH_"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envVars maps environment variable suffixes to config keys.
var envVars = []struct {
	name string
	key  string
}{
	{"HOST", "host"},
	{"PORT", "port"},
	{"DIR", "dataDir"},
	{"CA_CERT", "caCert"},
	{"CERT", "cert"},
	{"KEY", "key"},
	{"DEBUG", "debug"},
	{"LOG_LEVEL", "logLevel"},
	{"LOG_FORMAT", "logFormat"},
	{"METRICS_ADDR", "metricsAddr"},
	{"DRAIN_TIMEOUT", "drainTimeout"},
	{"READ_HEADER_TIMEOUT", "readHeaderTimeout"},
	{"SHARED_KEY", "sharedKey"},
	{"PASSWORD", "password"},
}

// LoadEnvConfig reads FAKEMESH_* variables through lookup. A nil lookup
// uses os.LookupEnv. Empty variables count as unset. Malformed values are
// errors naming the variable.
func LoadEnvConfig(lookup LookupFunc) (*CLIConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := &CLIConfig{SetFields: make(map[string]bool)}
	for _, ev := range envVars {
		val, ok := lookup(EnvPrefix + ev.name)
		if !ok || val == "" {
			continue
		}
		if err := cfg.Set(ev.key, val); err != nil {
			return nil, fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return cfg, nil
}

// Set parses val into the field named key and marks it set. Keys are the
// YAML names listed in Keys.
func (c *CLIConfig) Set(key, val string) error {
	switch key {
	case "host":
		c.Host = val
	case "port":
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid port %q", val)
		}
		c.Port = port
	case "dataDir":
		c.DataDir = val
	case "caCert":
		c.CACert = val
	case "cert":
		c.Cert = val
	case "key":
		c.Key = val
	case "debug":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", val)
		}
		c.Debug = b
	case "logLevel":
		c.LogLevel = val
	case "logFormat":
		c.LogFormat = val
	case "metricsAddr":
		c.MetricsAddr = val
	case "drainTimeout", "readHeaderTimeout":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q", val)
		}
		if key == "drainTimeout" {
			c.DrainTimeout = d
		} else {
			c.ReadHeaderTimeout = d
		}
	case "sharedKey":
		c.SharedKey = val
	case "password":
		c.Password = val
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	c.Mark(key)
	return nil
}
