// Package twitch reports which partner streamers are live.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// ErrNotConfigured is returned when no Twitch app credentials are configured
var ErrNotConfigured = errors.New("twitch not configured")

// Helix accepts at most 100 user_login values per request
const maxLoginsPerRequest = 100

// StreamSource looks up live streams by login
type StreamSource interface {
	LiveStreams(ctx context.Context, logins []string) ([]domain.Stream, error)
}

// LoginSource lists the logins to watch
type LoginSource interface {
	PartnerTwitchLogins(ctx context.Context) ([]string, error)
}

// HelixSource queries the Twitch Helix API with an app access token
type HelixSource struct {
	client *helix.Client

	mu           sync.Mutex
	tokenExpires time.Time
}

// NewHelixSource creates a source from app credentials. apiBaseURL may be empty.
func NewHelixSource(cfg config.TwitchConfig, apiBaseURL string) (*HelixSource, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	client, err := helix.NewClient(&helix.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		APIBaseURL:   apiBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating helix client: %w", err)
	}
	return &HelixSource{client: client}, nil
}

// ensureToken fetches a client-credentials token when none is valid
func (h *HelixSource) ensureToken() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Now().Before(h.tokenExpires) {
		return nil
	}
	resp, err := h.client.RequestAppAccessToken(nil)
	if err != nil {
		return fmt.Errorf("requesting app access token: %w", err)
	}
	if resp.ErrorMessage != "" {
		return fmt.Errorf("requesting app access token: %s", resp.ErrorMessage)
	}
	h.client.SetAppAccessToken(resp.Data.AccessToken)
	// renew a minute early
	h.tokenExpires = time.Now().Add(time.Duration(resp.Data.ExpiresIn)*time.Second - time.Minute)
	return nil
}

// LiveStreams returns the live streams among logins, batching requests as Helix requires
func (h *HelixSource) LiveStreams(ctx context.Context, logins []string) ([]domain.Stream, error) {
	if len(logins) == 0 {
		return []domain.Stream{}, nil
	}
	if err := h.ensureToken(); err != nil {
		return nil, err
	}

	streams := []domain.Stream{}
	for start := 0; start < len(logins); start += maxLoginsPerRequest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+maxLoginsPerRequest, len(logins))
		resp, err := h.client.GetStreams(&helix.StreamsParams{
			UserLogins: logins[start:end],
			First:      maxLoginsPerRequest,
			Type:       "live",
		})
		if err != nil {
			return nil, fmt.Errorf("fetching streams: %w", err)
		}
		if resp.ErrorMessage != "" {
			if resp.StatusCode == 401 {
				h.mu.Lock()
				h.tokenExpires = time.Time{}
				h.mu.Unlock()
			}
			return nil, fmt.Errorf("fetching streams: %s", resp.ErrorMessage)
		}
		for _, s := range resp.Data.Streams {
			streams = append(streams, domain.Stream{
				UserLogin:    s.UserLogin,
				UserName:     s.UserName,
				Title:        s.Title,
				GameName:     s.GameName,
				ViewerCount:  s.ViewerCount,
				ThumbnailURL: thumbnail(s.ThumbnailURL, 440, 248),
				StartedAt:    s.StartedAt,
			})
		}
	}
	return streams, nil
}

// thumbnail fills in the {width}x{height} placeholders Helix returns
func thumbnail(url string, w, h int) string {
	return strings.NewReplacer("{width}", fmt.Sprint(w), "{height}", fmt.Sprint(h)).Replace(url)
}

// Service caches live streams for the configured partners
type Service struct {
	source StreamSource
	logins LoginSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cached    []domain.Stream
	fetchedAt time.Time
}

// NewService creates a cached stream service
func NewService(source StreamSource, logins LoginSource, ttl time.Duration) *Service {
	return &Service{source: source, logins: logins, ttl: ttl, now: time.Now}
}

// LiveStreams returns partners currently live, most viewers first.
// A failed refresh serves the previous result when there is one.
func (s *Service) LiveStreams(ctx context.Context) ([]domain.Stream, error) {
	if s.source == nil {
		return nil, ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	logins, err := s.logins.PartnerTwitchLogins(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading partner logins: %w", err)
	}
	streams, err := s.source.LiveStreams(ctx, logins)
	if err != nil {
		if s.cached != nil {
			zap.L().Warn("refreshing twitch streams, serving cached", zap.Error(err))
			return s.cached, nil
		}
		return nil, err
	}

	sort.SliceStable(streams, func(i, j int) bool { return streams[i].ViewerCount > streams[j].ViewerCount })
	s.cached = streams
	s.fetchedAt = s.now()
	return streams, nil
}

