// Package config loads server configuration.
//
// Values come from built-in defaults, then the optional YAML file named by
// VM_CONFIG_FILE, then environment variables (VM_*, plus DATABASE_URL and
// ENCRYPTION_KEY). Watcher reloads the file on change so the control-plane
// database URL can be rotated without a restart.
package config
