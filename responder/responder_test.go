package responder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlistbot/playlistbot/mailbox/memory"
	"github.com/playlistbot/playlistbot/responder"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		subject string
		want    bool
	}{
		{"Please GIMME that playlist!!", true},
		{"PLAYLIST gimme", true},
		{"Weekly Gimme Playlist Request", true},
		{"gimmeplaylist", true},
		{"gimme pizza", false},
		{"my Playlist", false},
		{"Invoice #42", false},
		{"", false},
		{"gim me play list", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if got := responder.Matches(tt.subject); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.subject, got, tt.want)
			}
		})
	}
}

func TestReplySubjectKeepsOriginal(t *testing.T) {
	assert.Equal(t, "Re: PLAYLIST gimme", responder.ReplySubject("PLAYLIST gimme"))
	assert.Equal(t, "Re: Re: gimme playlist", responder.ReplySubject("Re: gimme playlist"))
}

func TestReplyBody(t *testing.T) {
	want := "Hello,\n\n" +
		"Thanks for your request! Here's the playlist you asked for:\n\n" +
		"https://www.youtube.com/playlist?list=PLWG1mVtuzdxeKG-_E5pzLkCG0yIQlSutk\n\n" +
		"Enjoy!"
	assert.Equal(t, want, responder.ReplyBody)
}

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestRunRepliesToMatchingThreadOnly(t *testing.T) {
	box := memory.New(clock)
	request := box.Deliver("t1", memory.Incoming{
		Subject:  "Weekly Gimme Playlist Request",
		From:     "fan@example.com",
		Received: now.Add(-2 * time.Hour),
	})
	invoice := box.Deliver("t2", memory.Incoming{
		Subject:  "Invoice #42",
		From:     "billing@example.com",
		Received: now.Add(-time.Hour),
	})

	scanner := responder.New(responder.Options{Mailbox: box, Sender: box, Now: clock})
	report, err := scanner.Run(context.Background())
	require.NoError(t, err)

	sent := box.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "fan@example.com", sent[0].To)
	assert.Equal(t, "Re: Weekly Gimme Playlist Request", sent[0].Subject)
	assert.Equal(t, responder.ReplyBody, sent[0].Body)
	assert.Contains(t, sent[0].Body, "https://www.youtube.com/playlist?list=PLWG1mVtuzdxeKG-_E5pzLkCG0yIQlSutk")

	assert.True(t, request.Read())
	assert.False(t, invoice.Read())

	assert.Equal(t, 2, report.Threads)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Replied)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Err)
}

func TestRunTwiceSendsOnce(t *testing.T) {
	box := memory.New(clock)
	box.Deliver("t1", memory.Incoming{
		Subject:  "gimme the playlist",
		From:     "fan@example.com",
		Received: now.Add(-time.Hour),
	})

	scanner := responder.New(responder.Options{Mailbox: box, Sender: box, Now: clock})
	_, err := scanner.Run(context.Background())
	require.NoError(t, err)
	second, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, box.Sent(), 1)
	assert.Equal(t, 0, second.Threads)
}

func TestRunOnlyInspectsLeadMessage(t *testing.T) {
	box := memory.New(clock)
	box.Deliver("t1", memory.Incoming{
		Subject:  "gimme playlist",
		From:     "fan@example.com",
		Received: now.Add(-3 * time.Hour),
	})
	box.Deliver("t1", memory.Incoming{
		Subject:  "never mind",
		From:     "fan@example.com",
		Received: now.Add(-time.Hour),
	})

	scanner := responder.New(responder.Options{Mailbox: box, Sender: box, Now: clock})
	report, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, box.Sent())
	assert.Equal(t, 1, report.Threads)
	assert.Equal(t, 0, report.Matched)
}

func TestRunNoThreads(t *testing.T) {
	box := memory.New(clock)
	scanner := responder.New(responder.Options{Mailbox: box, Sender: box, Now: clock})

	report, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Threads)
	assert.Empty(t, box.Sent())
}

// Scripted fakes for failure paths and call ordering.

type callLog struct {
	calls []string
}

type fakeMessage struct {
	log         *callLog
	subject     string
	from        string
	markReadErr error
}

func (m *fakeMessage) Subject() string { return m.subject }
func (m *fakeMessage) Sender() string  { return m.from }
func (m *fakeMessage) MarkRead(context.Context) error {
	m.log.calls = append(m.log.calls, "mark_read:"+m.subject)
	return m.markReadErr
}

type fakeThread []responder.Message

func (t fakeThread) Messages() []responder.Message { return t }

type fakeMailbox struct {
	threads []responder.Thread
	err     error
	window  time.Duration
}

func (b *fakeMailbox) SearchUnreadSince(_ context.Context, window time.Duration) ([]responder.Thread, error) {
	b.window = window
	return b.threads, b.err
}

type fakeSender struct {
	log *callLog
	err error
}

func (s *fakeSender) SendReply(_ context.Context, _ responder.Message, to, subject, body string) error {
	s.log.calls = append(s.log.calls, "send:"+to+":"+subject)
	return s.err
}

func TestRunSendsBeforeMarkingRead(t *testing.T) {
	log := &callLog{}
	box := &fakeMailbox{threads: []responder.Thread{
		fakeThread{&fakeMessage{log: log, subject: "gimme playlist", from: "a@example.com"}},
	}}
	scanner := responder.New(responder.Options{Mailbox: box, Sender: &fakeSender{log: log}})

	_, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"send:a@example.com:Re: gimme playlist",
		"mark_read:gimme playlist",
	}, log.calls)
	assert.Equal(t, responder.RecencyWindow, box.window)
	assert.Equal(t, 24*time.Hour, box.window)
}

func TestRunSkipsEmptyThread(t *testing.T) {
	log := &callLog{}
	box := &fakeMailbox{threads: []responder.Thread{
		fakeThread{},
		fakeThread{&fakeMessage{log: log, subject: "playlist gimme", from: "b@example.com"}},
	}}
	scanner := responder.New(responder.Options{Mailbox: box, Sender: &fakeSender{log: log}})

	report, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Threads)
	assert.Equal(t, 1, report.Replied)
}

func TestRunSearchFailure(t *testing.T) {
	log := &callLog{}
	boom := errors.New("mailbox unavailable")
	scanner := responder.New(responder.Options{
		Mailbox: &fakeMailbox{err: boom},
		Sender:  &fakeSender{log: log},
	})

	report, err := scanner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, report.Err, "mailbox unavailable")
	assert.Empty(t, log.calls)
}

func TestRunSendFailureAbortsRun(t *testing.T) {
	log := &callLog{}
	box := &fakeMailbox{threads: []responder.Thread{
		fakeThread{&fakeMessage{log: log, subject: "gimme playlist 1", from: "a@example.com"}},
		fakeThread{&fakeMessage{log: log, subject: "gimme playlist 2", from: "b@example.com"}},
	}}
	boom := errors.New("relay down")
	scanner := responder.New(responder.Options{Mailbox: box, Sender: &fakeSender{log: log, err: boom}})

	_, err := scanner.Run(context.Background())
	require.Error(t, err)

	var actionErr *responder.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, responder.PhaseSend, actionErr.Phase)
	assert.ErrorIs(t, err, boom)
	assert.False(t, responder.ReplySent(err))

	// No mark-read and the second thread is never attempted.
	assert.Equal(t, []string{"send:a@example.com:Re: gimme playlist 1"}, log.calls)
}

func TestRunMarkReadFailure(t *testing.T) {
	log := &callLog{}
	boom := errors.New("store failed")
	box := &fakeMailbox{threads: []responder.Thread{
		fakeThread{&fakeMessage{log: log, subject: "gimme playlist", from: "a@example.com", markReadErr: boom}},
		fakeThread{&fakeMessage{log: log, subject: "gimme another playlist", from: "b@example.com"}},
	}}
	scanner := responder.New(responder.Options{Mailbox: box, Sender: &fakeSender{log: log}})

	report, err := scanner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, responder.ReplySent(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, report.Replied)
	assert.Len(t, log.calls, 2)
}

func TestRunCancelled(t *testing.T) {
	log := &callLog{}
	box := &fakeMailbox{threads: []responder.Thread{
		fakeThread{&fakeMessage{log: log, subject: "gimme playlist", from: "a@example.com"}},
	}}
	scanner := responder.New(responder.Options{Mailbox: box, Sender: &fakeSender{log: log}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scanner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log.calls)
}
