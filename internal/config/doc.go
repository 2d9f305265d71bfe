// Package config loads relay and client settings.
//
// Values are layered, later sources winning: built-in defaults, an optional
// config file (yaml or toml), RELAYCHAT_* environment variables with "." in a
// key replaced by "_", then command-line flags that were explicitly set.
package config
