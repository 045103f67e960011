// Package imapbox reads candidate threads from an IMAP folder.
//
// IMAP has no portable notion of a conversation, so messages are grouped
// client-side: a message joins a thread when it shares a Message-ID or
// In-Reply-To reference with it and has the same RFC 5256 base subject.
// Anything else is a thread of its own. A Mailbox holds one logged-in
// connection with the folder selected; open one per run and Close it after.
package imapbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/helpers"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/responder"
)

// Mailbox is a selected IMAP folder.
type Mailbox struct {
	client *imapclient.Client
	folder string
	now    func() time.Time
}

// Options tunes a Mailbox. The zero value is usable.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Debug receives the protocol trace with credentials masked.
	Debug io.Writer
}

// Dial connects to the server in cfg, logs in and selects the folder.
func Dial(ctx context.Context, cfg config.IMAPConfig, opts Options) (*Mailbox, error) {
	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid imap timeout: %w", err)
	}
	dialer := &net.Dialer{Timeout: timeout}

	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid imap address %q: %w", cfg.Addr, err)
	}
	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.TLSVerify,
	}

	clientOpts := &imapclient.Options{TLSConfig: tlsConfig}
	if opts.Debug != nil {
		clientOpts.DebugWriter = &maskingWriter{w: opts.Debug}
	}

	var conn net.Conn
	if cfg.TLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server %s: %w", cfg.Addr, err)
	}

	var c *imapclient.Client
	if cfg.UseStartTLS {
		c, err = imapclient.NewStartTLS(conn, clientOpts)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	} else {
		c = imapclient.New(conn, clientOpts)
	}

	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("IMAP login failed for %s: %w", cfg.Username, err)
	}

	m, err := Open(c, cfg.GetFolder(), opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Debug("IMAP: connected", "addr", cfg.Addr, "folder", m.folder)
	return m, nil
}

// Open selects folder on an already authenticated client.
func Open(c *imapclient.Client, folder string, opts Options) (*Mailbox, error) {
	if _, err := c.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", folder, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Mailbox{client: c, folder: folder, now: now}, nil
}

// SearchUnreadSince implements responder.Mailbox.
//
// IMAP SINCE only compares dates in the server's time zone, so the search
// asks for one extra day and the result is narrowed again by INTERNALDATE.
// Threads hold only the unread messages that matched.
func (m *Mailbox) SearchUnreadSince(ctx context.Context, window time.Duration) ([]responder.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-window)

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   cutoff.AddDate(0, 0, -1),
	}
	data, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID SEARCH failed: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fetched, err := m.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH failed: %w", err)
	}

	msgs := make([]*Message, 0, len(fetched))
	for _, buf := range fetched {
		if buf.InternalDate.Before(cutoff) {
			continue
		}
		msgs = append(msgs, m.newMessage(buf))
	}
	return groupThreads(msgs), nil
}

// Close logs out and closes the connection.
func (m *Mailbox) Close() error {
	if err := m.client.Logout().Wait(); err != nil {
		logger.Debug("IMAP: logout failed", "error", err)
	}
	return m.client.Close()
}

func (m *Mailbox) newMessage(buf *imapclient.FetchMessageBuffer) *Message {
	msg := &Message{box: m, uid: buf.UID, received: buf.InternalDate}
	if env := buf.Envelope; env != nil {
		msg.subject = helpers.SanitizeUTF8(env.Subject)
		msg.messageID = env.MessageID
		msg.inReplyTo = env.InReplyTo
		if len(env.From) > 0 {
			msg.from = env.From[0].Addr()
		}
	}
	return msg
}

// Message is one fetched email.
type Message struct {
	box       *Mailbox
	uid       imap.UID
	subject   string
	from      string
	messageID string
	inReplyTo []string
	received  time.Time
}

func (msg *Message) Subject() string { return msg.subject }

func (msg *Message) Sender() string { return msg.from }

func (msg *Message) MessageID() string { return msg.messageID }

func (msg *Message) UID() imap.UID { return msg.uid }

func (msg *Message) Received() time.Time { return msg.received }

// MarkRead sets \Seen on the message.
func (msg *Message) MarkRead(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := msg.box.client.Store(imap.UIDSetNum(msg.uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("UID STORE %d +FLAGS (\\Seen) failed: %w", msg.uid, err)
	}
	return nil
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

// groupThreads links messages that reference each other. Each thread is
// ordered most recent first (higher UID wins a tie) and threads are ordered
// by their lead.
func groupThreads(msgs []*Message) []responder.Thread {
	parent := make([]int, len(msgs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	subjects := make([]string, len(msgs))
	owner := make(map[string]int)
	for i, msg := range msgs {
		subjects[i] = helpers.BaseSubject(msg.subject)
		for _, ref := range msg.references() {
			j, ok := owner[ref]
			if !ok {
				owner[ref] = i
				continue
			}
			if subjects[j] == subjects[i] {
				parent[find(i)] = find(j)
			}
		}
	}

	byRoot := make(map[int]*thread)
	var order []*thread
	for i, msg := range msgs {
		root := find(i)
		t, ok := byRoot[root]
		if !ok {
			t = &thread{}
			byRoot[root] = t
			order = append(order, t)
		}
		t.msgs = append(t.msgs, msg)
	}

	newer := func(a, b *Message) bool {
		if !a.received.Equal(b.received) {
			return a.received.After(b.received)
		}
		return a.uid > b.uid
	}
	for _, t := range order {
		sort.Slice(t.msgs, func(i, j int) bool { return newer(t.msgs[i], t.msgs[j]) })
	}
	sort.SliceStable(order, func(i, j int) bool { return newer(order[i].msgs[0], order[j].msgs[0]) })

	threads := make([]responder.Thread, len(order))
	for i, t := range order {
		threads[i] = t
	}
	return threads
}

// references returns the normalized Message-ID and In-Reply-To ids.
func (msg *Message) references() []string {
	refs := make([]string, 0, 1+len(msg.inReplyTo))
	for _, id := range append([]string{msg.messageID}, msg.inReplyTo...) {
		id = strings.ToLower(strings.Trim(strings.TrimSpace(id), "<>"))
		if id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// maskingWriter line-buffers the protocol trace and hides credentials.
type maskingWriter struct {
	w   io.Writer
	buf []byte
}

func (mw *maskingWriter) Write(p []byte) (int, error) {
	mw.buf = append(mw.buf, p...)
	for {
		idx := bytes.IndexByte(mw.buf, '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := strings.TrimRight(string(mw.buf[:idx]), "\r")
		mw.buf = mw.buf[idx+1:]
		if _, err := io.WriteString(mw.w, helpers.MaskCredentials(line)+"\n"); err != nil {
			return len(p), err
		}
	}
}
