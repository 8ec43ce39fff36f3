package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/getmockd/fakemesh/pkg/cliconfig"
	"github.com/getmockd/fakemesh/pkg/config"
)

// configFlags are the flags that feed the layered configuration. Values
// bound here only serve as help text defaults; resolve reads back only the
// flags the user actually changed.
type configFlags struct {
	configFile string
	values     config.ServerConfig
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"host":                "host",
	"port":                "port",
	"dir":                 "dataDir",
	"ca-cert":             "caCert",
	"cert":                "cert",
	"key":                 "key",
	"debug":               "debug",
	"log-level":           "logLevel",
	"log-format":          "logFormat",
	"metrics-addr":        "metricsAddr",
	"drain-timeout":       "drainTimeout",
	"read-header-timeout": "readHeaderTimeout",
	"shared-key":          "sharedKey",
	"password":            "password",
}

func (f *configFlags) register(fs *pflag.FlagSet) {
	d := config.DefaultServerConfig()
	v := &f.values

	fs.StringVarP(&f.configFile, "config", "c", "", "Path to a YAML configuration file")

	fs.StringVarP(&v.Host, "host", "i", d.Host, "Host interface to bind to")
	fs.IntVarP(&v.Port, "port", "p", d.Port, "Port to listen on")
	fs.StringVar(&v.DataDir, "dir", d.DataDir, "Where to store the application data")
	fs.StringVar(&v.CACert, "ca-cert", d.CACert, "CA certificate to validate incoming connections against")
	fs.StringVar(&v.Cert, "cert", d.Cert, "TLS certificate for this server")
	fs.StringVar(&v.Key, "key", d.Key, "TLS private key for this server")
	fs.BoolVarP(&v.Debug, "debug", "d", d.Debug, "Print data sent and received to stderr")

	fs.StringVar(&v.LogLevel, "log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&v.LogFormat, "log-format", d.LogFormat, "Log format (text, json)")
	fs.StringVar(&v.MetricsAddr, "metrics-addr", d.MetricsAddr, "Serve Prometheus metrics over plain HTTP on this address")
	fs.DurationVar(&v.DrainTimeout, "drain-timeout", d.DrainTimeout, "Maximum time to wait for in-flight requests on shutdown (0 = no limit)")
	fs.DurationVar(&v.ReadHeaderTimeout, "read-header-timeout", d.ReadHeaderTimeout, "Maximum time to read request headers (0 = no limit)")
	fs.StringVar(&v.SharedKey, "shared-key", d.SharedKey, "HMAC key clients sign authorization tokens with")
	fs.StringVar(&v.Password, "password", d.Password, "Mailbox password mixed into authorization tokens")
}

// resolve layers defaults, the config file, the environment and the
// changed flags of fs, then validates the result.
func (f *configFlags) resolve(fs *pflag.FlagSet, lookup cliconfig.LookupFunc) (*cliconfig.CLIConfig, error) {
	cfg, err := cliconfig.Load(f.configFile, lookup)
	if err != nil {
		return nil, err
	}

	changed := &cliconfig.CLIConfig{}
	var ferr error
	fs.Visit(func(fl *pflag.Flag) {
		key, ok := flagKeys[fl.Name]
		if !ok || ferr != nil {
			return
		}
		if err := changed.Set(key, fl.Value.String()); err != nil {
			ferr = fmt.Errorf("--%s: %w", fl.Name, err)
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	cliconfig.MergeConfig(cfg, changed, cliconfig.SourceFlag)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
