package twitch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

type fakeSource struct {
	calls   int
	streams []domain.Stream
	err     error
	logins  []string
}

func (f *fakeSource) LiveStreams(ctx context.Context, logins []string) ([]domain.Stream, error) {
	f.calls++
	f.logins = logins
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Stream(nil), f.streams...), nil
}

type staticLogins []string

func (s staticLogins) PartnerTwitchLogins(ctx context.Context) ([]string, error) {
	return s, nil
}

func TestServiceCachesAndSorts(t *testing.T) {
	source := &fakeSource{streams: []domain.Stream{
		{UserLogin: "small", ViewerCount: 3},
		{UserLogin: "big", ViewerCount: 900},
	}}
	svc := NewService(source, staticLogins{"small", "big", "offline"}, time.Minute)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	streams, err := svc.LiveStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "big", streams[0].UserLogin)
	assert.Equal(t, []string{"small", "big", "offline"}, source.logins)

	_, err = svc.LiveStreams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Minute)
	source.err = errors.New("helix down")
	streams, err = svc.LiveStreams(context.Background())
	require.NoError(t, err, "stale cache is served when refresh fails")
	assert.Len(t, streams, 2)
	assert.Equal(t, 2, source.calls)
}

func TestServiceNotConfigured(t *testing.T) {
	_, err := NewService(nil, staticLogins{}, time.Minute).LiveStreams(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHelixSourceLiveStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streams", r.URL.Path)
		assert.Equal(t, []string{"alice", "bob"}, r.URL.Query()["user_login"])
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"1","user_login":"alice","user_name":"Alice","game_name":"Grand Theft Auto V",
			"type":"live","title":"Nexus RP | cop shift","viewer_count":42,"started_at":"2026-10-19T10:00:00Z",
			"thumbnail_url":"https://static-cdn.jtvnw.net/previews-ttv/live_user_alice-{width}x{height}.jpg"}],
			"pagination":{}}`))
	}))
	defer srv.Close()

	src, err := NewHelixSource(config.TwitchConfig{ClientID: "id", ClientSecret: "secret"}, srv.URL)
	require.NoError(t, err)
	src.client.SetAppAccessToken("app-token")
	src.tokenExpires = time.Now().Add(time.Hour)

	streams, err := src.LiveStreams(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "Alice", streams[0].UserName)
	assert.Equal(t, 42, streams[0].ViewerCount)
	assert.Equal(t, "https://static-cdn.jtvnw.net/previews-ttv/live_user_alice-440x248.jpg", streams[0].ThumbnailURL)

	empty, err := src.LiveStreams(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewHelixSourceRequiresCredentials(t *testing.T) {
	_, err := NewHelixSource(config.TwitchConfig{ClientID: "id"}, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
