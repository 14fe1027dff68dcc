package collector

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// statusWindow bounds which feed entries count towards the overall status
const statusWindow = 24 * time.Hour

var (
	latestStageRegex = regexp.MustCompile(`(?is)<strong>\s*([^<]+?)\s*</strong>`)

	resolvedStages = []string{"resolved", "completed", "postmortem"}

	maintenanceWords = regexp.MustCompile(`\b(maintenance|scheduled)\b`)
	outageWords      = regexp.MustCompile(`\b(major outage|outage|down|unavailable|offline|not working)\b`)
	degradedWords    = regexp.MustCompile(`\b(degraded|partial|investigating|identified|monitoring|delays?|elevated|issues?|slow|disruption|errors?)\b`)
)

// ClassifyEntry maps one status feed entry to a CFX status level.
// Statuspage feeds list updates newest first, each stage in a <strong> tag;
// a resolved latest stage means the incident is over.
func ClassifyEntry(title, content string) string {
	if m := latestStageRegex.FindStringSubmatch(content); m != nil {
		stage := strings.ToLower(m[1])
		for _, s := range resolvedStages {
			if stage == s {
				return domain.CFXOperational
			}
		}
	}

	text := strings.ToLower(title + " " + content)
	switch {
	case maintenanceWords.MatchString(text):
		return domain.CFXMaintenance
	case outageWords.MatchString(text):
		return domain.CFXMajorOutage
	case degradedWords.MatchString(text):
		return domain.CFXDegraded
	default:
		return domain.CFXOperational
	}
}

// CFXStatusChecker reads the CFX status Atom feed and caches the result
type CFXStatusChecker struct {
	feedURL string
	ttl     time.Duration
	parser  *gofeed.Parser
	now     func() time.Time

	mu        sync.Mutex
	cached    *domain.CFXStatus
	fetchedAt time.Time
}

// NewCFXStatusChecker creates a checker for the given feed
func NewCFXStatusChecker(feedURL string, ttl time.Duration, hc *http.Client) *CFXStatusChecker {
	parser := gofeed.NewParser()
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	parser.Client = hc
	return &CFXStatusChecker{
		feedURL: feedURL,
		ttl:     ttl,
		parser:  parser,
		now:     time.Now,
	}
}

// Check returns the current platform status, fetching the feed when the cache is stale.
// A fetch failure falls back to the last known status when one exists.
func (c *CFXStatusChecker) Check(ctx context.Context) (*domain.CFXStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	feed, err := c.parser.ParseURLWithContext(c.feedURL, ctx)
	if err != nil {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("fetching status feed: %w", err)
	}

	c.cached = Summarize(feed, c.now())
	c.fetchedAt = c.now()
	return c.cached, nil
}

// Summarize classifies recent entries and picks the worst status among them
func Summarize(feed *gofeed.Feed, now time.Time) *domain.CFXStatus {
	status := &domain.CFXStatus{
		Status:    domain.CFXOperational,
		Incidents: []domain.CFXIncident{},
		CheckedAt: now.UTC(),
	}

	for _, item := range feed.Items {
		updated := itemTime(item)
		if updated.IsZero() || now.Sub(updated) > statusWindow {
			continue
		}
		content := item.Content
		if content == "" {
			content = item.Description
		}
		level := ClassifyEntry(item.Title, content)
		status.Incidents = append(status.Incidents, domain.CFXIncident{
			Title:     item.Title,
			Link:      item.Link,
			Status:    level,
			UpdatedAt: updated.UTC(),
		})
		if domain.CFXSeverity(level) > domain.CFXSeverity(status.Status) {
			status.Status = level
		}
	}
	return status
}

func itemTime(item *gofeed.Item) time.Time {
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	return time.Time{}
}
