package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

const queryTimeout = 5 * time.Second

// FiveMClient queries the read-only JSON endpoints every FXServer exposes
type FiveMClient struct {
	http *http.Client
}

// NewFiveMClient creates a client; a nil http.Client gets a default with a short timeout
func NewFiveMClient(hc *http.Client) *FiveMClient {
	if hc == nil {
		hc = &http.Client{Timeout: queryTimeout}
	}
	return &FiveMClient{http: hc}
}

// flexInt accepts both 32 and "32"; FXServer reports convars as strings
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexInt(n)
	return nil
}

type dynamicResponse struct {
	Clients    flexInt `json:"clients"`
	GameType   string  `json:"gametype"`
	Hostname   string  `json:"hostname"`
	MapName    string  `json:"mapname"`
	MaxClients flexInt `json:"sv_maxclients"`
}

type playerResponse struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Ping        int      `json:"ping"`
	Identifiers []string `json:"identifiers"`
}

type infoResponse struct {
	Server    string            `json:"server"`
	Resources []string          `json:"resources"`
	Vars      map[string]string `json:"vars"`
}

// QueryStatus fetches dynamic.json, players.json and info.json and combines them.
// Latency is the round trip of the dynamic.json request.
func (c *FiveMClient) QueryStatus(ctx context.Context, address string) (*domain.ServerStatus, error) {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	base = strings.TrimSuffix(base, "/")

	var dyn dynamicResponse
	start := time.Now()
	if err := c.getJSON(ctx, base+"/dynamic.json", &dyn); err != nil {
		return nil, err
	}
	latency := time.Since(start)

	var players []playerResponse
	if err := c.getJSON(ctx, base+"/players.json", &players); err != nil {
		return nil, err
	}

	// info.json is large on servers with many resources; a failure here is not fatal
	var info infoResponse
	infoErr := c.getJSON(ctx, base+"/info.json", &info)

	status := &domain.ServerStatus{
		Address:     address,
		Hostname:    domain.CleanPlayerName(dyn.Hostname),
		GameType:    dyn.GameType,
		MapName:     dyn.MapName,
		MaxPlayers:  int(dyn.MaxClients),
		LatencyMs:   latency.Milliseconds(),
		Online:      true,
		LastUpdated: time.Now().UTC(),
		Players:     make([]domain.PlayerStatus, 0, len(players)),
	}
	for _, p := range players {
		status.Players = append(status.Players, domain.PlayerStatus{
			ID:        p.ID,
			Name:      p.Name,
			CleanName: domain.CleanPlayerName(p.Name),
			Ping:      p.Ping,
			DiscordID: domain.DiscordIDFromIdentifiers(p.Identifiers),
		})
	}
	status.PlayerCount = len(status.Players)

	if infoErr == nil {
		status.Version = info.Server
		status.ResourceCount = len(info.Resources)
		status.ServerVars = info.Vars
		if status.MaxPlayers == 0 {
			if n, err := strconv.Atoi(info.Vars["sv_maxClients"]); err == nil {
				status.MaxPlayers = n
			}
		}
	}

	return status, nil
}

func (c *FiveMClient) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("querying %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
