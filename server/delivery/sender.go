package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/responder"
)

// SMTPSender delivers replies through a RelayHandler.
type SMTPSender struct {
	Relay    RelayHandler
	From     string // header From; its address is also the envelope sender
	Hostname string // right-hand side of generated Message-IDs
	Now      func() time.Time
}

// SendReply composes the reply to original and hands it to the relay.
func (s *SMTPSender) SendReply(ctx context.Context, original responder.Message, to, subject, body string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	from, err := mail.ParseAddress(s.From)
	if err != nil {
		return fmt.Errorf("invalid sender address %q: %w", s.From, err)
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", to, err)
	}

	opts := ReplyFor(original, s.From, s.Hostname, to, subject, body, now())
	raw, err := BuildReply(opts)
	if err != nil {
		return fmt.Errorf("failed to build reply: %w", err)
	}

	if err := s.Relay.SendToExternalRelay(ctx, from.Address, rcpt.Address, raw); err != nil {
		return err
	}
	logger.Debug("SMTP Relay: reply accepted", "to", rcpt.Address, "message_id", opts.MessageID)
	return nil
}
