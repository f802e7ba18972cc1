// Package settings persists per-instance configuration: the connection to the
// instance's versions database and the outbound webhook.
package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SSL modes accepted for a versions database
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyFull = "verify-full"
)

// DefaultPort is used when a connection has no port
const DefaultPort = "5432"

// DefaultWebhookTemplate is the payload template for new instances
const DefaultWebhookTemplate = `{"workflowId":"{w_id}","versionId":"{id}","versionUuid":"{w_version}","name":"{w_name}","updatedAt":"{w_updatedAt}","json":{w_json}}`

var ErrInvalidSettings = errors.New("invalid settings")

// Database is the connection to an instance's versions database
type Database struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

// Webhook is the outbound notification target
type Webhook struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	ContentType string `json:"contentType"`
	Template    string `json:"template"`
}

// Settings is the document stored per instance
type Settings struct {
	DB      Database `json:"db"`
	Webhook Webhook  `json:"webhook"`
}

// Defaults returns the settings of an instance that has saved nothing
func Defaults() Settings {
	return Settings{
		DB: Database{
			Port:    DefaultPort,
			SSLMode: SSLModeDisable,
		},
		Webhook: Webhook{
			Method:      "POST",
			ContentType: "application/json",
			Template:    DefaultWebhookTemplate,
		},
	}
}

// Missing lists the required connection fields that are empty
func (d Database) Missing() []string {
	var missing []string
	if strings.TrimSpace(d.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(d.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(d.User) == "" {
		missing = append(missing, "user")
	}
	return missing
}

// Complete reports whether a pool can be built from d
func (d Database) Complete() bool {
	return len(d.Missing()) == 0
}

// EffectivePort returns the port, falling back to DefaultPort
func (d Database) EffectivePort() string {
	if d.Port == "" {
		return DefaultPort
	}
	return d.Port
}

// EffectiveSSLMode returns the ssl mode, falling back to disable
func (d Database) EffectiveSSLMode() string {
	if d.SSLMode == "" {
		return SSLModeDisable
	}
	return d.SSLMode
}

// Fingerprint identifies the connection target. The password is excluded so
// a rotated password alone does not churn pools.
func (d Database) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		d.Host, d.EffectivePort(), d.Database, d.User, d.EffectiveSSLMode(),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Validate checks field values; it does not require completeness
func (s Settings) Validate() error {
	switch s.DB.EffectiveSSLMode() {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyFull:
	default:
		return fmt.Errorf("%w: sslMode must be disable, require or verify-full", ErrInvalidSettings)
	}
	switch s.Webhook.Method {
	case "", "POST", "PUT":
	default:
		return fmt.Errorf("%w: webhook method must be POST or PUT", ErrInvalidSettings)
	}
	switch s.Webhook.ContentType {
	case "", "application/json", "application/x-www-form-urlencoded":
	default:
		return fmt.Errorf("%w: unsupported webhook content type", ErrInvalidSettings)
	}
	return nil
}

// Redacted returns a copy safe to send to clients
func (s Settings) Redacted() Settings {
	if s.DB.Password != "" {
		s.DB.Password = RedactedPassword
	}
	return s
}

// RedactedPassword replaces a stored password in responses. Saving it back
// keeps the stored password.
const RedactedPassword = "********"

// merge fills the zero fields of s from Defaults
func (s Settings) merge() Settings {
	d := Defaults()
	if s.DB.Port == "" {
		s.DB.Port = d.DB.Port
	}
	if s.DB.SSLMode == "" {
		s.DB.SSLMode = d.DB.SSLMode
	}
	if s.Webhook.Method == "" {
		s.Webhook.Method = d.Webhook.Method
	}
	if s.Webhook.ContentType == "" {
		s.Webhook.ContentType = d.Webhook.ContentType
	}
	if s.Webhook.Template == "" {
		s.Webhook.Template = d.Webhook.Template
	}
	return s
}
