// Package config loads mailpipe settings from defaults, an optional YAML
// file, a .env file and MAILPIPE_* environment variables, and validates the
// result before any component is built from it.
package config
