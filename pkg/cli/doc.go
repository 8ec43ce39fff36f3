// Package cli provides the command-line interface for fakemesh.
//
// Commands:
//   - serve: run the mutual-TLS MESH mailbox server in the foreground
//   - config: print the effective configuration and where each value came from
//   - version: show version information
//
// Configuration is layered, highest precedence first: command-line flags,
// FAKEMESH_* environment variables, the YAML file named by --config, and
// built-in defaults.
//
// Usage:
//
//	fakemesh serve --dir /tmp/fake_mesh_dir --ca-cert ca.cert.pem --cert server.cert.pem --key server.key.pem
//	fakemesh serve -i 127.0.0.1 -p 8829 -d
//	fakemesh config --config fakemesh.yaml
//	fakemesh version --json
package cli
