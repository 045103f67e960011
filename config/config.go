package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/playlistbot/playlistbot/helpers"
)

// Mailbox providers
const (
	ProviderIMAP  = "imap"
	ProviderGmail = "gmail"
)

// Environment variables holding secrets. They take precedence over the file.
const (
	EnvIMAPPassword = "PLAYLISTBOT_IMAP_PASSWORD"
	EnvSMTPPassword = "PLAYLISTBOT_SMTP_PASSWORD"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output    string `toml:"output"`     // Log output: "stderr", "stdout", "syslog", or file path
	Format    string `toml:"format"`     // Log format: "json" or "console"
	Level     string `toml:"level"`      // Log level: "debug", "info", "warn", "error"
	SyslogTag string `toml:"syslog_tag"` // Tag used when output is "syslog"
}

// MailboxConfig selects where candidate mail is read from.
type MailboxConfig struct {
	Provider string `toml:"provider"` // "imap" or "gmail"
}

// IMAPConfig holds the connection settings for the IMAP mailbox.
type IMAPConfig struct {
	Addr        string `toml:"addr"`         // host:port, e.g. "imap.example.com:993"
	TLS         bool   `toml:"tls"`          // Implicit TLS
	TLSVerify   bool   `toml:"tls_verify"`   // Verify server certificates
	UseStartTLS bool   `toml:"use_starttls"` // Upgrade a plain connection with STARTTLS
	Username    string `toml:"username"`     // LOGIN user
	Password    string `toml:"password"`     // Overridden by PLAYLISTBOT_IMAP_PASSWORD
	Folder      string `toml:"folder"`       // Mailbox to scan (default: "INBOX")
	Timeout     string `toml:"timeout"`      // Dial timeout (default: "30s")
}

// GetFolder returns the folder to scan with default
func (c *IMAPConfig) GetFolder() string {
	if c.Folder == "" {
		return "INBOX"
	}
	return c.Folder
}

// GetTimeout parses the dial timeout with default
func (c *IMAPConfig) GetTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.Timeout)
}

// GmailConfig holds the OAuth2 files used by the Gmail API mailbox.
type GmailConfig struct {
	CredentialsFile string `toml:"credentials_file"` // OAuth client JSON downloaded from Google Cloud
	TokenFile       string `toml:"token_file"`       // Stored OAuth token JSON
	User            string `toml:"user"`             // Gmail user id (default: "me")
}

// GetUser returns the Gmail user id with default
func (c *GmailConfig) GetUser() string {
	if c.User == "" {
		return "me"
	}
	return c.User
}

// ScheduleConfig controls the built-in trigger used when not running with -once.
type ScheduleConfig struct {
	Interval   string `toml:"interval"`     // Time between runs (default: "24h")
	RunOnStart bool   `toml:"run_on_start"` // Run immediately instead of waiting one interval
	RunTimeout string `toml:"run_timeout"`  // Upper bound for a single run, empty for none
}

// GetInterval parses the run interval with default
func (c *ScheduleConfig) GetInterval() (time.Duration, error) {
	if c.Interval == "" {
		return 24 * time.Hour, nil
	}
	return helpers.ParseDuration(c.Interval)
}

// GetRunTimeout parses the per-run timeout. Zero means no timeout.
func (c *ScheduleConfig) GetRunTimeout() (time.Duration, error) {
	if c.RunTimeout == "" {
		return 0, nil
	}
	return helpers.ParseDuration(c.RunTimeout)
}

// MetricsConfig controls the status and Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // Listen address (default: "127.0.0.1:9090")
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Mailbox  MailboxConfig  `toml:"mailbox"`
	IMAP     IMAPConfig     `toml:"imap"`
	Relay    RelayConfig    `toml:"relay"`
	Gmail    GmailConfig    `toml:"gmail"`
	Schedule ScheduleConfig `toml:"schedule"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Mailbox: MailboxConfig{
			Provider: ProviderIMAP,
		},
		IMAP: IMAPConfig{
			TLS:       true,
			TLSVerify: true,
			Folder:    "INBOX",
			Timeout:   "30s",
		},
		Relay: RelayConfig{
			SMTPTLS:         true,
			SMTPTLSVerify:   true,
			SMTPUseStartTLS: true,
			Timeout:         "30s",
		},
		Gmail: GmailConfig{
			CredentialsFile: "secrets/credentials.json",
			TokenFile:       "secrets/token.json",
			User:            "me",
		},
		Schedule: ScheduleConfig{
			Interval: "24h",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// Validate checks that the settings needed by the selected provider are present.
func (c *Config) Validate() error {
	switch c.Mailbox.Provider {
	case ProviderIMAP:
		if c.IMAP.Addr == "" {
			return fmt.Errorf("imap.addr is required when mailbox.provider is %q", ProviderIMAP)
		}
		if c.IMAP.Username == "" {
			return fmt.Errorf("imap.username is required")
		}
		if c.IMAP.UseStartTLS && c.IMAP.TLS {
			return fmt.Errorf("imap.tls and imap.use_starttls are mutually exclusive")
		}
		if _, err := c.IMAP.GetTimeout(); err != nil {
			return fmt.Errorf("imap.timeout: %w", err)
		}
		if err := c.Relay.validate(); err != nil {
			return err
		}
	case ProviderGmail:
		if c.Gmail.CredentialsFile == "" || c.Gmail.TokenFile == "" {
			return fmt.Errorf("gmail.credentials_file and gmail.token_file are required when mailbox.provider is %q", ProviderGmail)
		}
	default:
		return fmt.Errorf("unknown mailbox.provider %q (expected %q or %q)", c.Mailbox.Provider, ProviderIMAP, ProviderGmail)
	}

	interval, err := c.Schedule.GetInterval()
	if err != nil {
		return fmt.Errorf("schedule.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}
	if _, err := c.Schedule.GetRunTimeout(); err != nil {
		return fmt.Errorf("schedule.run_timeout: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// ApplyEnv loads an optional .env file from the working directory and
// applies secret overrides from the environment.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := strings.TrimSpace(os.Getenv(EnvIMAPPassword)); v != "" {
		cfg.IMAP.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSMTPPassword)); v != "" {
		cfg.Relay.Password = v
	}
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace from all string fields
// This function is lenient with:
//   - Duplicate keys: logs warning and uses first occurrence
//   - Unknown keys: logs warning and ignores them
//
// All other syntax errors are returned with a hint.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}

		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")

		cleaned := removeDuplicateKeysFromTOML(string(content))
		metadata, err = toml.Decode(cleaned, cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// removeDuplicateKeysFromTOML comments out every repeated key within a table,
// keeping the first occurrence.
func removeDuplicateKeysFromTOML(content string) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]int)
	result := make([]string, 0, len(lines))
	section := ""

	for lineNum, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.Trim(trimmed, "[] ")
		case strings.Contains(trimmed, "="):
			key := strings.TrimSpace(strings.SplitN(trimmed, "=", 2)[0])
			if section != "" {
				key = section + "." + key
			}
			if prev, ok := seen[key]; ok {
				log.Printf("WARNING: Duplicate key '%s' found at line %d (first occurrence at line %d). Ignoring duplicate.",
					key, lineNum+1, prev+1)
				result = append(result, "# DUPLICATE IGNORED: "+line)
				continue
			}
			seen[key] = lineNum
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// enhanceConfigError adds a hint to common TOML mistakes
func enhanceConfigError(err error) error {
	msg := err.Error()

	if strings.Contains(msg, "expected value but found \"f\"") ||
		strings.Contains(msg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(msg, "expected") || strings.Contains(msg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - Section headers use [section] format\n"+
			"  - Durations are quoted strings such as \"24h\" or \"1d\"", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
