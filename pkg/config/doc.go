// Package config defines the fakemesh server configuration, its defaults,
// and its validation rules.
//
// A ServerConfig is immutable once the server is constructed. Layering of
// defaults, files, environment and flags lives in package cliconfig.
package config
