// Package config loads service configuration from multiple sources (YAML
// files, environment variables, CLI flags) with precedence: CLI flags > YAML
// config > Environment variables > Defaults. It covers the HTTP server, the
// config sync sources and the remote content fetcher.
package config
