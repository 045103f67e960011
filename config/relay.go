package config

import (
	"fmt"
	"time"

	"github.com/playlistbot/playlistbot/helpers"
)

// RelayConfig defines the outbound SMTP relay used to send replies in IMAP mode.
type RelayConfig struct {
	SMTPHost        string `toml:"smtp_host"`          // SMTP server address (e.g., "smtp.example.com:587")
	SMTPTLS         bool   `toml:"smtp_tls"`           // Use TLS for the SMTP connection
	SMTPTLSVerify   bool   `toml:"smtp_tls_verify"`    // Verify TLS certificates
	SMTPUseStartTLS bool   `toml:"smtp_use_starttls"`  // Use STARTTLS instead of direct TLS
	SMTPTLSCertFile string `toml:"smtp_tls_cert_file"` // Client certificate for mTLS (optional)
	SMTPTLSKeyFile  string `toml:"smtp_tls_key_file"`  // Client key for mTLS (optional)

	Username string `toml:"username"` // SASL PLAIN username; empty disables AUTH
	Password string `toml:"password"` // Overridden by PLAYLISTBOT_SMTP_PASSWORD

	From     string `toml:"from"`     // Envelope and header sender of replies
	Hostname string `toml:"hostname"` // Right-hand side of generated Message-IDs
	Timeout  string `toml:"timeout"`  // Dial and command timeout (default: "30s")
}

// IsConfigured returns true if a relay host is set
func (r *RelayConfig) IsConfigured() bool {
	return r.SMTPHost != ""
}

// GetTimeout parses the relay timeout with default
func (r *RelayConfig) GetTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(r.Timeout)
}

// GetHostname returns the Message-ID hostname, falling back to the sender's domain.
func (r *RelayConfig) GetHostname() string {
	if r.Hostname != "" {
		return r.Hostname
	}
	if domain := helpers.AddressDomain(r.From); domain != "" {
		return domain
	}
	return "localhost"
}

func (r *RelayConfig) validate() error {
	if !r.IsConfigured() {
		return fmt.Errorf("relay.smtp_host is required")
	}
	if r.From == "" {
		return fmt.Errorf("relay.from is required")
	}
	if (r.SMTPTLSCertFile == "") != (r.SMTPTLSKeyFile == "") {
		return fmt.Errorf("relay.smtp_tls_cert_file and relay.smtp_tls_key_file must be set together")
	}
	if _, err := r.GetTimeout(); err != nil {
		return fmt.Errorf("relay.timeout: %w", err)
	}
	return nil
}
