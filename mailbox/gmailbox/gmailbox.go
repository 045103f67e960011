// Package gmailbox reads candidate threads from Gmail and sends replies
// through the Gmail API, so one OAuth token covers the whole run.
package gmailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/helpers"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/pkg/metrics"
	"github.com/playlistbot/playlistbot/responder"
	"github.com/playlistbot/playlistbot/server/delivery"
)

const labelUnread = "UNREAD"

var metadataHeaders = []string{"Subject", "From", "Message-ID"}

// NewService builds a Gmail API client from the OAuth client credentials and
// the stored token named in cfg.
func NewService(ctx context.Context, cfg config.GmailConfig) (*gmail.Service, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmail.GmailModifyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read oauth token %s: %w", cfg.TokenFile, err)
	}

	httpClient := oauthConfig.Client(ctx, tok)
	httpClient.Transport = &loggingTransport{base: httpClient.Transport}
	return gmail.NewService(ctx, option.WithHTTPClient(httpClient))
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Options configures a Mailbox.
type Options struct {
	// User is the Gmail user id, "me" by default.
	User string
	// From is the header sender of replies. Defaults to the account address.
	From string
	// Hostname for reply Message-IDs. Defaults to the domain of From.
	Hostname string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Mailbox implements responder.Mailbox and responder.Sender on a Gmail account.
type Mailbox struct {
	svc      *gmail.Service
	user     string
	hostname string
	now      func() time.Time

	mu   sync.Mutex
	from string
}

func New(svc *gmail.Service, opts Options) *Mailbox {
	m := &Mailbox{
		svc:      svc,
		user:     opts.User,
		from:     opts.From,
		hostname: opts.Hostname,
		now:      opts.Now,
	}
	if m.user == "" {
		m.user = "me"
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Query returns the Gmail search for unread mail received within window.
// Whole-day windows use newer_than, anything else an absolute after: bound.
func Query(window time.Duration, now time.Time) string {
	day := 24 * time.Hour
	if window > 0 && window%day == 0 {
		return fmt.Sprintf("is:unread newer_than:%dd", window/day)
	}
	return fmt.Sprintf("is:unread after:%d", now.Add(-window).Unix())
}

// SearchUnreadSince implements responder.Mailbox.
func (m *Mailbox) SearchUnreadSince(ctx context.Context, window time.Duration) ([]responder.Thread, error) {
	q := Query(window, m.now())

	var ids []string
	err := m.svc.Users.Threads.List(m.user).Q(q).Pages(ctx, func(resp *gmail.ListThreadsResponse) error {
		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gmail list threads %q: %w", q, err)
	}
	logger.Debug("Gmail: listed threads", "query", q, "count", len(ids))

	threads := make([]responder.Thread, 0, len(ids))
	for _, id := range ids {
		gt, err := m.svc.Users.Threads.Get(m.user, id).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("gmail get thread %s: %w", id, err)
		}
		threads = append(threads, m.newThread(gt))
	}
	return threads, nil
}

func (m *Mailbox) newThread(gt *gmail.Thread) *thread {
	t := &thread{msgs: make([]*Message, 0, len(gt.Messages))}
	for _, gm := range gt.Messages {
		msg := &Message{
			box:      m,
			id:       gm.Id,
			threadID: gm.ThreadId,
			received: time.UnixMilli(gm.InternalDate),
		}
		if msg.threadID == "" {
			msg.threadID = gt.Id
		}
		if gm.Payload != nil {
			for _, h := range gm.Payload.Headers {
				switch strings.ToLower(h.Name) {
				case "subject":
					msg.subject = helpers.SanitizeUTF8(h.Value)
				case "from":
					msg.from = parseFrom(h.Value)
				case "message-id":
					msg.messageID = strings.TrimSpace(h.Value)
				}
			}
		}
		t.msgs = append(t.msgs, msg)
	}
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].received.After(t.msgs[j].received)
	})
	return t
}

func parseFrom(v string) string {
	if addr, err := mail.ParseAddress(v); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(v)
}

// SendReply implements responder.Sender with users.messages.send, keeping
// the reply in the original Gmail thread.
func (m *Mailbox) SendReply(ctx context.Context, original responder.Message, to, subject, body string) error {
	from, err := m.sender(ctx)
	if err != nil {
		return err
	}
	hostname := m.hostname
	if hostname == "" {
		hostname = helpers.AddressDomain(from)
	}

	opts := delivery.ReplyFor(original, from, hostname, to, subject, body, m.now())
	raw, err := delivery.BuildReply(opts)
	if err != nil {
		return fmt.Errorf("failed to build reply: %w", err)
	}

	out := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if msg, ok := original.(*Message); ok {
		out.ThreadId = msg.threadID
	}

	sent, err := m.svc.Users.Messages.Send(m.user, out).Context(ctx).Do()
	if err != nil {
		metrics.RelayTotal.WithLabelValues("gmail", "failure").Inc()
		return fmt.Errorf("gmail send: %w", err)
	}
	metrics.RelayTotal.WithLabelValues("gmail", "success").Inc()
	logger.Debug("Gmail: reply sent", "to", to, "id", sent.Id, "thread", sent.ThreadId)
	return nil
}

// sender returns the configured From or, once, looks up the account address.
func (m *Mailbox) sender(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.from != "" {
		return m.from, nil
	}
	profile, err := m.svc.Users.GetProfile(m.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail get profile: %w", err)
	}
	m.from = profile.EmailAddress
	return m.from, nil
}

type thread struct {
	msgs []*Message
}

func (t *thread) Messages() []responder.Message {
	out := make([]responder.Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m
	}
	return out
}

// Message is one Gmail message with its metadata headers.
type Message struct {
	box       *Mailbox
	id        string
	threadID  string
	subject   string
	from      string
	messageID string
	received  time.Time
}

func (msg *Message) Subject() string { return msg.subject }

func (msg *Message) Sender() string { return msg.from }

func (msg *Message) MessageID() string { return msg.messageID }

func (msg *Message) ID() string { return msg.id }

// MarkRead removes the UNREAD label.
func (msg *Message) MarkRead(ctx context.Context) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := msg.box.svc.Users.Messages.Modify(msg.box.user, msg.id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail modify %s: %w", msg.id, err)
	}
	return nil
}
