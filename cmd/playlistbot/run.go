package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/mailbox/gmailbox"
	"github.com/playlistbot/playlistbot/mailbox/imapbox"
	"github.com/playlistbot/playlistbot/pkg/metrics"
	"github.com/playlistbot/playlistbot/responder"
	"github.com/playlistbot/playlistbot/server/delivery"
)

// session is the mailbox and sender used by one run.
type session struct {
	mailbox responder.Mailbox
	sender  responder.Sender
	close   func() error
}

type openFunc func(ctx context.Context) (*session, error)

// runObserver is told about run progress, see statusapi.Server.
type runObserver interface {
	RunStarted()
	RecordRun(responder.Report)
}

// runner performs one scan per call, opening a fresh session each time.
type runner struct {
	open     openFunc
	observer runObserver
	now      func() time.Time
}

func (r *runner) run(ctx context.Context) error {
	if r.observer != nil {
		r.observer.RunStarted()
	}

	report, err := r.runOnce(ctx)
	if r.observer != nil {
		r.observer.RecordRun(report)
	}
	return err
}

func (r *runner) runOnce(ctx context.Context) (responder.Report, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}

	sess, err := r.open(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		err = fmt.Errorf("open mailbox: %w", err)
		return responder.Report{RunID: uuid.NewString(), Started: now(), Err: err.Error()}, err
	}
	if sess.close != nil {
		defer func() {
			if err := sess.close(); err != nil {
				logger.Warn("[SCAN] failed to close mailbox", "error", err)
			}
		}()
	}

	return responder.New(responder.Options{
		Mailbox: sess.mailbox,
		Sender:  sess.sender,
		Now:     now,
	}).Run(ctx)
}

// newOpener returns the session factory for the configured provider.
// Gmail keeps one API client for the process lifetime so token refreshes
// are reused; IMAP connects per run.
func newOpener(ctx context.Context, cfg config.Config) (openFunc, error) {
	switch cfg.Mailbox.Provider {
	case config.ProviderGmail:
		svc, err := gmailbox.NewService(ctx, cfg.Gmail)
		if err != nil {
			return nil, err
		}
		box := gmailbox.New(svc, gmailbox.Options{
			User:     cfg.Gmail.GetUser(),
			From:     cfg.Relay.From,
			Hostname: cfg.Relay.Hostname,
		})
		return func(context.Context) (*session, error) {
			return &session{mailbox: box, sender: box}, nil
		}, nil

	case config.ProviderIMAP, "":
		relay, err := delivery.NewRelayHandlerFromConfig(cfg.Relay)
		if err != nil {
			return nil, err
		}
		sender := &delivery.SMTPSender{
			Relay:    relay,
			From:     cfg.Relay.From,
			Hostname: cfg.Relay.GetHostname(),
		}
		return func(ctx context.Context) (*session, error) {
			box, err := imapbox.Dial(ctx, cfg.IMAP, imapOptions())
			if err != nil {
				return nil, err
			}
			return &session{mailbox: box, sender: sender, close: box.Close}, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", cfg.Mailbox.Provider)
	}
}

// imapOptions sends the masked protocol trace to the configured log output
// when debug logging is on.
func imapOptions() imapbox.Options {
	var opts imapbox.Options
	if logger.DebugEnabled() {
		opts.Debug = logger.DebugWriter("[IMAP] protocol")
	}
	return opts
}
