package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlistbot/playlistbot/config"
	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/mailbox/memory"
	"github.com/playlistbot/playlistbot/pkg/metrics"
	"github.com/playlistbot/playlistbot/responder"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	started int
	reports []responder.Report
}

func (o *recordingObserver) RunStarted()                  { o.started++ }
func (o *recordingObserver) RecordRun(r responder.Report) { o.reports = append(o.reports, r) }

func TestRunnerRepliesAndCloses(t *testing.T) {
	box := memory.New(func() time.Time { return now })
	box.Deliver("t1", memory.Incoming{
		Subject:  "Weekly Gimme Playlist Request",
		From:     "fan@example.org",
		Received: now.Add(-time.Hour),
	})
	box.Deliver("t2", memory.Incoming{
		Subject:  "Invoice #42",
		From:     "billing@example.com",
		Received: now.Add(-2 * time.Hour),
	})

	closed := 0
	obs := &recordingObserver{}
	r := &runner{
		open: func(context.Context) (*session, error) {
			return &session{mailbox: box, sender: box, close: func() error {
				closed++
				return nil
			}}, nil
		},
		observer: obs,
		now:      func() time.Time { return now },
	}

	require.NoError(t, r.run(context.Background()))
	assert.Equal(t, 1, closed)
	require.Len(t, box.Sent(), 1)
	assert.Equal(t, "Re: Weekly Gimme Playlist Request", box.Sent()[0].Subject)

	assert.Equal(t, 1, obs.started)
	require.Len(t, obs.reports, 1)
	assert.Equal(t, 2, obs.reports[0].Threads)
	assert.Equal(t, 1, obs.reports[0].Replied)

	// Nothing new: the second run sends nothing.
	require.NoError(t, r.run(context.Background()))
	assert.Len(t, box.Sent(), 1)
	assert.Equal(t, 2, closed)
}

func TestRunnerOpenFailure(t *testing.T) {
	before := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failure"))
	obs := &recordingObserver{}
	r := &runner{
		open: func(context.Context) (*session, error) {
			return nil, errors.New("connection refused")
		},
		observer: obs,
	}

	err := r.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open mailbox")

	require.Len(t, obs.reports, 1)
	assert.NotEmpty(t, obs.reports[0].RunID)
	assert.Contains(t, obs.reports[0].Err, "connection refused")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failure")))
}

func TestNewOpener(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Mailbox.Provider = "pop3"
		_, err := newOpener(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown mailbox provider")
	})

	t.Run("imap without relay", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Mailbox.Provider = config.ProviderIMAP
		_, err := newOpener(context.Background(), cfg)
		assert.ErrorContains(t, err, "not configured")
	})

	t.Run("imap dial failure surfaces per run", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Mailbox.Provider = config.ProviderIMAP
		cfg.IMAP.Addr = "127.0.0.1:1"
		cfg.IMAP.TLS = false
		cfg.IMAP.UseStartTLS = false
		cfg.IMAP.Username = "bot"
		cfg.IMAP.Timeout = "1s"
		cfg.Relay.SMTPHost = "127.0.0.1:1"
		cfg.Relay.From = "bot@example.com"

		open, err := newOpener(context.Background(), cfg)
		require.NoError(t, err)
		_, err = open(context.Background())
		assert.Error(t, err)
	})

	t.Run("gmail without credentials", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Mailbox.Provider = config.ProviderGmail
		cfg.Gmail.CredentialsFile = t.TempDir() + "/missing.json"
		_, err := newOpener(context.Background(), cfg)
		assert.ErrorContains(t, err, "client secret")
	})
}

func TestIMAPTraceFollowsLogOutput(t *testing.T) {
	t.Cleanup(func() { _, _ = logger.Initialize(config.NewDefaultConfig().Logging) })

	_, err := logger.Initialize(config.LoggingConfig{Output: "stderr", Level: "info"})
	require.NoError(t, err)
	assert.Nil(t, imapOptions().Debug, "no trace below debug level")

	path := filepath.Join(t.TempDir(), "playlistbot.log")
	f, err := logger.Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	opts := imapOptions()
	require.NotNil(t, opts.Debug)
	_, err = opts.Debug.Write([]byte("T1 SELECT INBOX\r\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"line":"T1 SELECT INBOX"`)
	assert.Contains(t, string(data), "[IMAP] protocol")
}
