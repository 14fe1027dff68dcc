package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readEvents collects n events; the hub may batch several per frame
func readEvents(t *testing.T, conn *websocket.Conn, n int) []domain.Event {
	t.Helper()
	var out []domain.Event
	for len(out) < n {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var evt domain.Event
			require.NoError(t, json.Unmarshal(line, &evt))
			out = append(out, evt)
		}
	}
	return out
}

func TestWebSocketRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "/ws?token=garbage")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, srv, "/ws/chat?session=abc&token=nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketFanOut(t *testing.T) {
	env := newTestEnv(t)
	bus, err := events.NewBus()
	require.NoError(t, err)
	defer bus.Close()
	stop, err := env.router.StartWebSocketHub(bus)
	require.NoError(t, err)
	defer stop()

	env.createStaff("support", false, domain.PermChatRespond)
	token := env.login("support")
	chat := startChat(t, env, "Jane")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	staff, _, err := dialWS(t, srv, "/ws?token="+token)
	require.NoError(t, err)
	visitor, _, err := dialWS(t, srv, "/ws/chat?session="+chat.Session.ID+"&token="+chat.Token)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	chatEvent := func(session, body string) domain.Event {
		evt := domain.NewEvent(domain.EventChatMessage, map[string]string{"body": body})
		evt.ChatSessionID = session
		return evt
	}
	ctx := t.Context()
	require.NoError(t, bus.Publish(ctx, domain.NewEvent(domain.EventServerUpdate, nil)))
	require.NoError(t, bus.Publish(ctx, chatEvent("someone-else", "private")))
	require.NoError(t, bus.Publish(ctx, chatEvent(chat.Session.ID, "hello")))
	require.NoError(t, bus.Publish(ctx, chatEvent(chat.Session.ID, "bye")))
	require.NoError(t, bus.Flush())

	got := readEvents(t, staff, 4)
	assert.Equal(t, domain.EventServerUpdate, got[0].Type)
	assert.Equal(t, "someone-else", got[1].ChatSessionID)

	mine := readEvents(t, visitor, 2)
	for _, evt := range mine {
		assert.Equal(t, chat.Session.ID, evt.ChatSessionID)
	}
	assert.Equal(t, "bye", mine[1].Data.(map[string]any)["body"])
}

// startHub runs the router's hub on a fresh bus
func startHub(t *testing.T, env *testEnv) *events.Bus {
	t.Helper()
	bus, err := events.NewBus()
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	stop, err := env.router.StartWebSocketHub(bus)
	require.NoError(t, err)
	t.Cleanup(stop)
	return bus
}

func requireClosed(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "socket still delivering events: %s", data)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	return closeErr
}

func TestWebSocketClosedOnLogout(t *testing.T) {
	env := newTestEnv(t)
	bus := startHub(t, env)
	env.createStaff("support", false, domain.PermChatRespond)
	token := env.login("support")
	other := env.login("support")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "/ws?token="+token)
	require.NoError(t, err)
	kept, _, err := dialWS(t, srv, "/ws?token="+other)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	rec := env.do(http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.router.wsHub.ClientCount())

	evt := domain.NewEvent(domain.EventChatMessage, map[string]string{"body": "visitor secret"})
	evt.ChatSessionID = "s1"
	require.NoError(t, bus.Publish(t.Context(), evt))
	require.NoError(t, bus.Flush())

	requireClosed(t, conn)
	got := readEvents(t, kept, 1)
	assert.Equal(t, "s1", got[0].ChatSessionID)
}

func TestWebSocketSessionRechecked(t *testing.T) {
	env := newTestEnv(t)
	env.router.wsHub.pingInterval = 20 * time.Millisecond
	startHub(t, env)
	env.createStaff("support", false, domain.PermChatRespond)
	token := env.login("support")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "/ws?token="+token)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Revoked outside the HTTP API, as the CLI does
	claims, err := env.router.auth.ValidateToken(token)
	require.NoError(t, err)
	require.NoError(t, env.store.RevokeSession(t.Context(), claims.SessionID()))

	closeErr := requireClosed(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
