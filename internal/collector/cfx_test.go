package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

func atomFeed(entries ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>tag:status.cfx.re,2005:/history</id>
  <title>Cfx.re Status - Incident History</title>
  <updated>2026-10-19T12:00:00Z</updated>`
	for _, e := range entries {
		body += e
	}
	return body + "\n</feed>"
}

func atomEntry(title, updated, content string) string {
	return fmt.Sprintf(`
  <entry>
    <id>tag:status.cfx.re,2005:Incident/%s</id>
    <updated>%s</updated>
    <link rel="alternate" type="text/html" href="https://status.cfx.re/incidents/x"/>
    <title>%s</title>
    <content type="html">%s</content>
  </entry>`, title, updated, title, content)
}

func TestClassifyEntry(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		content string
		want    string
	}{
		{"resolved incident", "Server list outage", "<p><strong>Resolved</strong> - fixed</p><p><strong>Investigating</strong> - looking</p>", domain.CFXOperational},
		{"ongoing outage", "Server list outage", "<p><strong>Investigating</strong> - servers are down</p>", domain.CFXMajorOutage},
		{"degraded", "Elevated error rates on keymaster", "<p><strong>Monitoring</strong> - fix deployed</p>", domain.CFXDegraded},
		{"maintenance", "Scheduled database maintenance", "<p><strong>In progress</strong> - underway</p>", domain.CFXMaintenance},
		{"completed maintenance", "Scheduled database maintenance", "<p><strong>Completed</strong> - done</p>", domain.CFXOperational},
		{"download is not down", "New download mirror", "", domain.CFXOperational},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEntry(tt.title, tt.content))
		})
	}
}

func TestSummarizeWorstRecentEntry(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	feed, err := gofeed.NewParser().ParseString(atomFeed(
		atomEntry("Elevated latency", "2026-10-19T11:00:00Z", "&lt;strong&gt;Monitoring&lt;/strong&gt;"),
		atomEntry("Full outage", "2026-10-19T10:00:00Z", "&lt;strong&gt;Identified&lt;/strong&gt; - all services unavailable"),
		atomEntry("Old outage", "2026-10-10T10:00:00Z", "&lt;strong&gt;Investigating&lt;/strong&gt; - down"),
	))
	require.NoError(t, err)

	status := Summarize(feed, now)
	assert.Equal(t, domain.CFXMajorOutage, status.Status)
	require.Len(t, status.Incidents, 2)
	assert.Equal(t, "Elevated latency", status.Incidents[0].Title)
	assert.Equal(t, domain.CFXDegraded, status.Incidents[0].Status)
}

func TestSummarizeNoRecentEntries(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(atomFeed(
		atomEntry("Old outage", "2026-01-01T10:00:00Z", "down"),
	))
	require.NoError(t, err)

	status := Summarize(feed, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, domain.CFXOperational, status.Status)
	assert.Empty(t, status.Incidents)
}

func TestCheckCachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(atomFeed(atomEntry("Degraded performance", "2026-10-19T11:30:00Z", "partial"))))
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	checker := NewCFXStatusChecker(srv.URL, 5*time.Minute, srv.Client())
	checker.now = func() time.Time { return now }

	first, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CFXDegraded, first.Status)

	_, err = checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(6 * time.Minute)
	_, err = checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCheckFallsBackToLastKnown(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(atomFeed()))
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	checker := NewCFXStatusChecker(srv.URL, time.Minute, srv.Client())
	checker.now = func() time.Time { return now }

	_, err := checker.Check(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	now = now.Add(time.Hour)
	status, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CFXOperational, status.Status)
}

func TestCheckErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCFXStatusChecker(srv.URL, time.Minute, srv.Client()).Check(context.Background())
	assert.Error(t, err)
}
