package config

import (
	"net"
	"strconv"
	"time"

	"github.com/getmockd/fakemesh/pkg/tls"
)

// ServerConfig holds everything needed to start a fakemesh server.
type ServerConfig struct {
	// Host is the interface to bind to.
	Host string `json:"host" yaml:"host" validate:"required,ip|hostname_rfc1123"`
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	// DataDir is where mailbox metadata and message chunks are stored.
	DataDir string `json:"dataDir" yaml:"dataDir" validate:"required"`

	// CACert is the bundle client certificates are verified against.
	CACert string `json:"caCert" yaml:"caCert" validate:"required"`
	// Cert is the server certificate chain.
	Cert string `json:"cert" yaml:"cert" validate:"required"`
	// Key is the server private key.
	Key string `json:"key" yaml:"key" validate:"required"`

	// Debug traces every request and response to stderr.
	Debug bool `json:"debug" yaml:"debug"`

	LogLevel  string `json:"logLevel" yaml:"logLevel" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat string `json:"logFormat" yaml:"logFormat" validate:"oneof=text json"`

	// MetricsAddr enables a plain HTTP Prometheus listener when set.
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty" validate:"omitempty,hostname_port"`

	// DrainTimeout bounds graceful shutdown. 0 waits for in-flight
	// requests indefinitely.
	DrainTimeout time.Duration `json:"drainTimeout" yaml:"drainTimeout" validate:"gte=0s"`
	// ReadHeaderTimeout bounds how long a client may take to send request
	// headers. 0 means no limit.
	ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout" validate:"gte=0s"`

	// SharedKey and Password feed the mailbox HMAC authentication.
	SharedKey string `json:"sharedKey" yaml:"sharedKey" validate:"required"`
	Password  string `json:"password" yaml:"password" validate:"required"`
}

// Addr returns the host:port the server binds to.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Identity returns the TLS identity file locations.
func (c *ServerConfig) Identity() tls.IdentityConfig {
	return tls.IdentityConfig{
		CACertPath:     c.CACert,
		ServerCertPath: c.Cert,
		ServerKeyPath:  c.Key,
	}
}
