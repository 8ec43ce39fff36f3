package config

import "path/filepath"

// Defaults for a locally run server.
const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8829
	DefaultDataDir   = "/tmp/fake_mesh_dir"
	DefaultCertDir   = "certs"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultSharedKey = "BackBone"
	DefaultPassword  = "password"
)

// DefaultServerConfig returns a configuration pointing at the sample
// certificates in DefaultCertDir.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:      DefaultHost,
		Port:      DefaultPort,
		DataDir:   DefaultDataDir,
		CACert:    filepath.Join(DefaultCertDir, "ca.cert.pem"),
		Cert:      filepath.Join(DefaultCertDir, "server.cert.pem"),
		Key:       filepath.Join(DefaultCertDir, "server.key.pem"),
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		SharedKey: DefaultSharedKey,
		Password:  DefaultPassword,
	}
}
