package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakemesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(vals map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

// ============================================================================
// File loading
// ============================================================================

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
host: 127.0.0.1
port: 9443
dataDir: /var/lib/fakemesh
debug: false
drainTimeout: 5s
logFormat: json
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, "/var/lib/fakemesh", cfg.DataDir)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.SetFields["debug"])
	assert.False(t, cfg.SetFields["cert"])
}

func TestLoadConfigFile_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(writeFile(t, "host: a\nmqttPort: 1883\n"))
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 2, ce.Line)
		assert.Contains(t, err.Error(), `unknown key "mqttPort"`)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(writeFile(t, "port: eighty\n"))
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Message, "cannot unmarshal")
	})

	t.Run("not a mapping", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(writeFile(t, "- a\n- b\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "top level must be a mapping")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfigFile(writeFile(t, "host: [unterminated\n"))
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})
}

func TestLoadConfigFile_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFile(writeFile(t, ""))
	require.NoError(t, err)
	assert.Empty(t, cfg.SetFields)
}

// ============================================================================
// Environment
// ============================================================================

func TestLoadEnvConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadEnvConfig(envMap(map[string]string{
		"FAKEMESH_PORT":          "8443",
		"FAKEMESH_DEBUG":         "true",
		"FAKEMESH_DIR":           "/data",
		"FAKEMESH_DRAIN_TIMEOUT": "1m",
		"FAKEMESH_HOST":          "",
		"UNRELATED":              "x",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, time.Minute, cfg.DrainTimeout)
	assert.Len(t, cfg.SetFields, 4)
}

func TestLoadEnvConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"FAKEMESH_PORT":                "http",
		"FAKEMESH_DEBUG":               "maybe",
		"FAKEMESH_READ_HEADER_TIMEOUT": "soon",
	}
	for name, val := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadEnvConfig(envMap(map[string]string{name: val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestCLIConfig_Set(t *testing.T) {
	t.Parallel()

	cfg := &CLIConfig{}
	require.NoError(t, cfg.Set("readHeaderTimeout", "5s"))
	assert.Equal(t, 5*time.Second, cfg.ReadHeaderTimeout)
	assert.True(t, cfg.SetFields["readHeaderTimeout"])

	require.Error(t, cfg.Set("nope", "x"))
	assert.False(t, cfg.SetFields["nope"])
}

// ============================================================================
// Merging and precedence
// ============================================================================

func TestMergeConfig(t *testing.T) {
	t.Parallel()

	t.Run("non-zero values override", func(t *testing.T) {
		t.Parallel()
		target := NewDefault()
		source := &CLIConfig{}
		source.Port = 1234

		MergeConfig(target, source, SourceFlag)
		assert.Equal(t, 1234, target.Port)
		assert.Equal(t, SourceFlag, target.Sources["port"])
		assert.Equal(t, SourceDefault, target.Sources["host"])
	})

	t.Run("explicit false overrides", func(t *testing.T) {
		t.Parallel()
		target := NewDefault()
		target.Debug = true
		source := &CLIConfig{}
		source.Mark("debug")

		MergeConfig(target, source, SourceEnv)
		assert.False(t, target.Debug)
		assert.Equal(t, SourceEnv, target.Sources["debug"])
	})

	t.Run("unset false does not override", func(t *testing.T) {
		t.Parallel()
		target := NewDefault()
		target.Debug = true

		MergeConfig(target, &CLIConfig{}, SourceEnv)
		assert.True(t, target.Debug)
	})

	t.Run("nil source", func(t *testing.T) {
		t.Parallel()
		target := NewDefault()
		MergeConfig(target, nil, SourceFile)
		assert.Equal(t, 8829, target.Port)
	})
}

func TestLoad_Precedence(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "port: 9000\nhost: 127.0.0.1\ndebug: true\n")
	cfg, err := Load(path, envMap(map[string]string{
		"FAKEMESH_PORT":  "9100",
		"FAKEMESH_DEBUG": "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, SourceEnv, cfg.Sources["port"])
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, SourceFile, cfg.Sources["host"])
	assert.False(t, cfg.Debug)
	assert.Equal(t, "certs/ca.cert.pem", cfg.CACert)
	assert.Equal(t, SourceDefault, cfg.Sources["caCert"])

	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8829, cfg.Port)
	for _, k := range Keys {
		assert.Equal(t, SourceDefault, cfg.Sources[k], k)
	}
}

func TestConfigError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.yaml: bad", (&ConfigError{Path: "a.yaml", Message: "bad"}).Error())
	assert.Equal(t, "a.yaml (line 3, column 1): bad", (&ConfigError{Path: "a.yaml", Line: 3, Column: 1, Message: "bad"}).Error())
}
