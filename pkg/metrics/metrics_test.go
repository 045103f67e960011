package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRunMetrics(t *testing.T) {
	RunsTotal.Reset()

	RunsTotal.WithLabelValues("success").Inc()
	RunsTotal.WithLabelValues("success").Inc()
	RunsTotal.WithLabelValues("failure").Inc()

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("expected 2 successful runs, got %v", got)
	}
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
}

func TestReplyMetrics(t *testing.T) {
	RepliesTotal.Reset()
	MarkReadTotal.Reset()

	tests := []struct {
		name   string
		vec    func(string)
		label  string
		expect float64
	}{
		{
			name:   "reply_success",
			vec:    func(l string) { RepliesTotal.WithLabelValues(l).Inc() },
			label:  "success",
			expect: 1,
		},
		{
			name:   "mark_read_failure",
			vec:    func(l string) { MarkReadTotal.WithLabelValues(l).Inc() },
			label:  "failure",
			expect: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.vec(tt.label)
		})
	}

	if got := testutil.ToFloat64(RepliesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 reply, got %v", got)
	}
	if got := testutil.ToFloat64(MarkReadTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 mark-read failure, got %v", got)
	}
}

func TestPrometheusHTTPHandler(t *testing.T) {
	RelayTotal.Reset()
	RelayTotal.WithLabelValues("smtp", "success").Add(3)
	ThreadsScanned.Add(7)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	for _, name := range []string{
		"playlistbot_relay_total",
		"playlistbot_threads_scanned_total",
		"playlistbot_run_duration_seconds",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected metric %s in output", name)
		}
	}
}

func TestRunDurationHistogram(t *testing.T) {
	read := func() *dto.Histogram {
		var m dto.Metric
		if err := RunDuration.Write(&m); err != nil {
			t.Fatalf("Failed to write histogram: %v", err)
		}
		return m.GetHistogram()
	}

	before := read().GetSampleCount()
	RunDuration.Observe(0.3)
	RunDuration.Observe(45)

	h := read()
	if got := h.GetSampleCount() - before; got != 2 {
		t.Errorf("expected 2 new samples, got %d", got)
	}
	for _, b := range h.GetBucket() {
		if b.GetUpperBound() == 0.5 && b.GetCumulativeCount() < 1 {
			t.Errorf("expected the 0.3s run in the 0.5s bucket")
		}
	}
}
