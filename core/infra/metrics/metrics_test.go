package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncCommits("ok")
	m.IncHistory("undo", "ok")
	m.IncNotifications("state")
	m.IncDeliveryFailures()
	m.IncDownloads("failed")
}

func TestPromMetrics(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("abr")
	m.IncCommits("ok")
	m.IncCommits("invalid")
	m.IncHistory("redo", "empty")
	m.IncNotifications("state")
	m.IncDeliveryFailures()
	m.IncDownloads("ok")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	body := string(raw)
	for _, name := range []string{
		"abr_state_commits_total",
		"abr_state_history_total",
		"abr_notifications_total",
		"abr_visasset_downloads_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("missing metric %s in scrape output", name)
		}
	}
}

func TestGatewayProm(t *testing.T) {
	withTestRegistry(t)
	g := NewGatewayProm("abr")
	g.ObserveRequest("GET", "/api/state", "200", 0.01)
}
