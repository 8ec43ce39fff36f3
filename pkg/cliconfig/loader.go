package cliconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError represents a configuration file error with location info.
type ConfigError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, column %d): %s", e.Path, e.Line, e.Column, e.Message)
	}
	return e.Path + ": " + e.Message
}

// LoadConfigFile loads a CLIConfig from a YAML file. Only keys present in
// the file are marked in SetFields. Unknown keys are rejected.
func LoadConfigFile(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseConfig(path, data)
}

func parseConfig(path string, data []byte) (*CLIConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}

	cfg := &CLIConfig{SetFields: make(map[string]bool)}
	if len(doc.Content) == 0 {
		return cfg, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigError{Path: path, Line: root.Line, Column: root.Column, Message: "top level must be a mapping"}
	}

	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if !known[key.Value] {
			return nil, &ConfigError{Path: path, Line: key.Line, Column: key.Column, Message: fmt.Sprintf("unknown key %q", key.Value)}
		}
		cfg.SetFields[key.Value] = true
	}

	if err := root.Decode(cfg); err != nil {
		ce := &ConfigError{Path: path, Message: err.Error()}
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			ce.Message = te.Errors[0]
		}
		return nil, ce
	}
	return cfg, nil
}

// Load builds the effective configuration from defaults, the optional file
// at path, and the environment seen through lookup. Flags are merged by the
// caller. The result is not validated.
func Load(path string, lookup LookupFunc) (*CLIConfig, error) {
	cfg := NewDefault()

	if path != "" {
		fileCfg, err := LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		MergeConfig(cfg, fileCfg, SourceFile)
	}

	envCfg, err := LoadEnvConfig(lookup)
	if err != nil {
		return nil, err
	}
	MergeConfig(cfg, envCfg, SourceEnv)

	return cfg, nil
}
