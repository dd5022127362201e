// Package config loads digest configuration from defaults, a YAML file and
// DIGEST_-prefixed environment variables (DIGEST_API_ADDR for api.addr).
// Command-line flags are bound on top by the CLI.
package config
