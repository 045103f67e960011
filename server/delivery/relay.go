package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/pkg/metrics"
)

// RelayError wraps an error with information about whether it's permanent or temporary.
// Permanent errors (5xx SMTP codes) will fail again on the next run as well.
// Temporary errors (4xx SMTP codes, network errors) may succeed later.
type RelayError struct {
	Err       error
	Permanent bool // true for 5xx errors, false for 4xx/network errors
}

func (e *RelayError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsPermanentError checks if an error is a permanent failure (5xx SMTP error).
// Returns true for 5xx errors, false for 4xx errors and network/connection errors.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Permanent
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}

	return false
}

// RelayHandler hands a composed message to an outbound mail system.
type RelayHandler interface {
	SendToExternalRelay(ctx context.Context, from string, to string, messageBytes []byte) error
}

// SMTPRelayHandler submits messages to an SMTP relay with configurable TLS
// and optional SASL PLAIN authentication.
type SMTPRelayHandler struct {
	SMTPHost    string
	UseTLS      bool   // Use TLS (default: true)
	TLSVerify   bool   // Verify TLS certificates (default: true)
	UseStartTLS bool   // Use STARTTLS instead of direct TLS
	TLSCertFile string // Client certificate for mTLS (optional)
	TLSKeyFile  string // Client key for mTLS (optional)
	Username    string // Empty disables AUTH
	Password    string
	Hostname    string        // EHLO name; go-smtp's default is used when empty
	Timeout     time.Duration // Dial and per-command timeout
}

// NewRelayHandlerFromConfig creates an SMTP relay handler from the [relay] section.
func NewRelayHandlerFromConfig(cfg config.RelayConfig) (*SMTPRelayHandler, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("SMTP relay host not configured")
	}
	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid relay timeout: %w", err)
	}
	return &SMTPRelayHandler{
		SMTPHost:    cfg.SMTPHost,
		UseTLS:      cfg.SMTPTLS,
		TLSVerify:   cfg.SMTPTLSVerify,
		UseStartTLS: cfg.SMTPUseStartTLS,
		TLSCertFile: cfg.SMTPTLSCertFile,
		TLSKeyFile:  cfg.SMTPTLSKeyFile,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Hostname:    cfg.Hostname,
		Timeout:     timeout,
	}, nil
}

// SendToExternalRelay sends a message to the SMTP relay.
func (r *SMTPRelayHandler) SendToExternalRelay(ctx context.Context, from string, to string, messageBytes []byte) error {
	if r.SMTPHost == "" {
		return fmt.Errorf("SMTP relay host not configured")
	}

	err := r.sendToSMTPRelay(ctx, from, to, messageBytes)
	if err != nil {
		metrics.RelayTotal.WithLabelValues("smtp", "failure").Inc()
		return err
	}
	metrics.RelayTotal.WithLabelValues("smtp", "success").Inc()
	return nil
}

func (r *SMTPRelayHandler) tlsConfig() (*tls.Config, error) {
	host, _, err := net.SplitHostPort(r.SMTPHost)
	if err != nil {
		host = r.SMTPHost
	}

	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		Renegotiation:      tls.RenegotiateNever,
		InsecureSkipVerify: !r.TLSVerify,
	}

	// Load client certificate if provided (for mTLS)
	if r.TLSCertFile != "" && r.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(r.TLSCertFile, r.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (r *SMTPRelayHandler) dial(ctx context.Context) (*smtp.Client, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	var tlsConfig *tls.Config
	if r.UseTLS {
		var err error
		if tlsConfig, err = r.tlsConfig(); err != nil {
			// Certificate loading errors are configuration errors (permanent)
			return nil, &RelayError{Err: fmt.Errorf("failed to load client certificate: %w", err), Permanent: true}
		}
	}

	var conn net.Conn
	var err error
	if r.UseTLS && !r.UseStartTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", r.SMTPHost)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", r.SMTPHost)
	}
	if err != nil {
		// Connection errors are temporary (network issue, server down)
		return nil, &RelayError{Err: fmt.Errorf("failed to connect to SMTP relay: %w", err), Permanent: false}
	}

	var c *smtp.Client
	if r.UseTLS && r.UseStartTLS {
		// The upgrade resets the session, so EHLO with our hostname follows it.
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, &RelayError{Err: fmt.Errorf("failed to connect to SMTP relay with STARTTLS: %w", err), Permanent: false}
		}
	} else {
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout

	if r.Hostname != "" {
		if err := c.Hello(r.Hostname); err != nil {
			c.Close()
			return nil, &RelayError{Err: fmt.Errorf("EHLO rejected: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if r.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", r.Username, r.Password)); err != nil {
			c.Close()
			// Bad credentials will not fix themselves between runs
			return nil, &RelayError{Err: fmt.Errorf("SMTP authentication failed: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	return c, nil
}

// sendToSMTPRelay performs the actual SMTP relay operation
func (r *SMTPRelayHandler) sendToSMTPRelay(ctx context.Context, from string, to string, messageBytes []byte) error {
	c, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(from, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	if err := c.Rcpt(to, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set recipient: %w", err), Permanent: IsPermanentError(err)}
	}

	wc, err := c.Data()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(messageBytes); err != nil {
		// Attempt to close the data writer even if write fails, to send the final dot.
		_ = wc.Close()
		return &RelayError{Err: fmt.Errorf("failed to write message: %w", err), Permanent: false}
	}
	if err := wc.Close(); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Quit(); err != nil {
		// The message was already accepted
		logger.Warn("SMTP Relay: Failed to send QUIT", "host", r.SMTPHost, "error", err)
	}
	return nil
}
