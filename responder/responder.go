// Package responder answers playlist requests found in a mailbox.
//
// A run asks the Mailbox for unread threads received within RecencyWindow,
// looks at the most recent message of every thread and, when its subject
// names both "playlist" and "gimme", sends ReplyBody back to the sender and
// marks the message read. Nothing is remembered between runs: a message that
// was answered is read and no longer returned by the mailbox.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/pkg/metrics"
)

// Mailbox finds candidate threads.
type Mailbox interface {
	// SearchUnreadSince returns threads holding unread mail received within
	// window of now. An empty result is not an error.
	SearchUnreadSince(ctx context.Context, window time.Duration) ([]Thread, error)
}

// Thread is one conversation as grouped by the mail provider.
type Thread interface {
	// Messages returns the thread's messages ordered most recent first.
	Messages() []Message
}

// Message is a single received email.
type Message interface {
	Subject() string
	// Sender returns the address replies go to.
	Sender() string
	MarkRead(ctx context.Context) error
}

// Identified is implemented by messages that know their RFC 5322
// Message-ID, which senders use to thread the reply.
type Identified interface {
	MessageID() string
}

// Sender delivers a reply to a received message.
type Sender interface {
	SendReply(ctx context.Context, original Message, to, subject, body string) error
}

// Options configures a Scanner.
type Options struct {
	Mailbox Mailbox
	Sender  Sender
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scanner runs the scan-filter-reply loop.
type Scanner struct {
	mailbox Mailbox
	sender  Sender
	now     func() time.Time
}

// Report summarises a single run.
type Report struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Threads  int           `json:"threads"`
	Matched  int           `json:"matched"`
	Replied  int           `json:"replied"`
	Err      string        `json:"error,omitempty"`
}

func New(opts Options) *Scanner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{mailbox: opts.Mailbox, sender: opts.Sender, now: now}
}

// Run performs one scan. It stops at the first failure; threads not reached
// stay unread and are picked up by the next run. The report is filled in
// for failed runs too.
func (s *Scanner) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), Started: s.now()}
	log := logger.With("run_id", report.RunID)

	err := s.run(ctx, log, &report)

	report.Duration = s.now().Sub(report.Started)
	metrics.RunDuration.Observe(report.Duration.Seconds())
	metrics.LastRunTimestamp.SetToCurrentTime()
	if err != nil {
		report.Err = err.Error()
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		log.Error("[SCAN] run aborted", "threads", report.Threads, "replied", report.Replied, "error", err)
		return report, err
	}

	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.LastSuccessTimestamp.SetToCurrentTime()
	log.Info("[SCAN] run finished", "threads", report.Threads, "matched", report.Matched,
		"replied", report.Replied, "duration", report.Duration)
	return report, nil
}

func (s *Scanner) run(ctx context.Context, log *slog.Logger, report *Report) error {
	threads, err := s.mailbox.SearchUnreadSince(ctx, RecencyWindow)
	if err != nil {
		return fmt.Errorf("search unread threads: %w", err)
	}
	log.Info("[SCAN] found unread threads", "count", len(threads), "window", RecencyWindow)

	for _, thread := range threads {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Threads++
		metrics.ThreadsScanned.Inc()

		msgs := thread.Messages()
		if len(msgs) == 0 {
			continue
		}
		lead := msgs[0]
		subject := lead.Subject()
		if !Matches(subject) {
			log.Debug("[SCAN] skipping thread", "subject", subject)
			continue
		}

		report.Matched++
		log.Info("[SCAN] responding to email", "subject", subject, "to", lead.Sender())
		if err := s.reply(ctx, lead, subject); err != nil {
			if ReplySent(err) {
				log.Error("[SCAN] reply sent but message left unread; the next run will reply again",
					"subject", subject, "to", lead.Sender(), "error", err)
			}
			return err
		}
		report.Replied++
	}
	return nil
}

// reply performs the two phases of answering msg: send, then mark read.
// Mark read is only attempted once the send succeeded.
func (s *Scanner) reply(ctx context.Context, msg Message, subject string) error {
	to := msg.Sender()
	if err := s.sender.SendReply(ctx, msg, to, ReplySubject(subject), ReplyBody); err != nil {
		metrics.RepliesTotal.WithLabelValues("failure").Inc()
		return &ActionError{Phase: PhaseSend, Subject: subject, Sender: to, Err: err}
	}
	metrics.RepliesTotal.WithLabelValues("success").Inc()

	if err := msg.MarkRead(ctx); err != nil {
		metrics.MarkReadTotal.WithLabelValues("failure").Inc()
		return &ActionError{Phase: PhaseMarkRead, Subject: subject, Sender: to, Err: err}
	}
	metrics.MarkReadTotal.WithLabelValues("success").Inc()
	return nil
}
