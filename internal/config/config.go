// ABOUTME: Configuration loading and parsing for entrypass-server
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete entrypass-server configuration
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Identity    IdentityConfig `yaml:"identity"`
	App         AppConfig      `yaml:"app"`
	CORS        CORSConfig     `yaml:"cors"`
	Mail        MailConfig     `yaml:"mail"`
	CheckIn     CheckInConfig  `yaml:"checkin"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the secrets gating token issuance and admin actions
type AuthConfig struct {
	// SigningSecret signs entry pass tokens. Required: without it the
	// service cannot issue or verify anything useful.
	SigningSecret string `yaml:"signing_secret"`
	// AdminPIN gates the check_in action at the door.
	AdminPIN string `yaml:"admin_pin"`
	// AdminSecret is the pre-shared header value accepted for admin actions.
	AdminSecret string `yaml:"admin_secret"`
	// AdminEmails restricts bearer-authenticated admins. Empty list means
	// any authenticated identity is accepted.
	AdminEmails []string `yaml:"admin_emails"`
}

// IdentityConfig points at the external identity service that resolves
// bearer credentials to user emails for admin actions.
type IdentityConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
}

// AppConfig holds the public-facing application settings
type AppConfig struct {
	// PublicURL is the default base for generated entry pass links.
	PublicURL string `yaml:"public_url"`
}

// CORSConfig holds the CORS origin allow-list
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// MailConfig holds mail provider configuration
type MailConfig struct {
	ResendAPIKey   string   `yaml:"resend_api_key"`
	AllowedFrom    []string `yaml:"allowed_from"`
	DefaultSubject string   `yaml:"default_subject"`
}

// CheckInConfig holds check-in policy configuration
type CheckInConfig struct {
	// AllowRecheck permits a second check-in to overwrite the first.
	// When false, a pass that was already used is refused with the
	// original check-in time.
	AllowRecheck *bool `yaml:"allow_recheck"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Secrets needed only by specific actions (admin PIN, admin secret, mail key)
// are deliberately not required here; their absence fails those requests with
// a config error instead of preventing startup.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// IsProduction reports whether internal error detail should be suppressed
// from client responses.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowRecheck resolves the check-in overwrite policy (default: allowed).
func (c *Config) AllowRecheck() bool {
	if c.CheckIn.AllowRecheck == nil {
		return true
	}
	return *c.CheckIn.AllowRecheck
}
