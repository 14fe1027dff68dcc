package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// ErrInvalidJoinCode is returned for codes that are not cfx.re join codes
var ErrInvalidJoinCode = errors.New("invalid join code")

var joinCodeRegex = regexp.MustCompile(`^[a-z0-9]{4,10}$`)

// ServerListClient looks up servers on the CFX server list by join code
type ServerListClient struct {
	baseURL string
	http    *http.Client
}

// NewServerListClient creates a client for the given single-server endpoint
func NewServerListClient(baseURL string, hc *http.Client) *ServerListClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ServerListClient{baseURL: baseURL, http: hc}
}

type serverListResponse struct {
	EndPoint string `json:"EndPoint"`
	Data     struct {
		Clients    flexInt `json:"clients"`
		MaxClients flexInt `json:"sv_maxclients"`
		Hostname   string  `json:"hostname"`
		GameType   string  `json:"gametype"`
		MapName    string  `json:"mapname"`
	} `json:"Data"`
}

// Lookup returns what the server list reports for a join code.
// Accepts bare codes and cfx.re/join/<code> links.
func (c *ServerListClient) Lookup(ctx context.Context, joinCode string) (*domain.ServerListing, error) {
	code := strings.ToLower(strings.TrimSpace(joinCode))
	code = strings.TrimPrefix(code, "https://")
	code = strings.TrimPrefix(code, "cfx.re/join/")
	if !joinCodeRegex.MatchString(code) {
		return nil, ErrInvalidJoinCode
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(code), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying server list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("join code %s: %w", code, ErrServerNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying server list: status %d", resp.StatusCode)
	}

	var body serverListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding server list response: %w", err)
	}

	return &domain.ServerListing{
		JoinCode:   code,
		Hostname:   domain.CleanPlayerName(body.Data.Hostname),
		Players:    int(body.Data.Clients),
		MaxPlayers: int(body.Data.MaxClients),
		GameType:   body.Data.GameType,
		MapName:    body.Data.MapName,
	}, nil
}
