package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Discord  DiscordConfig  `yaml:"discord"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Email    EmailConfig    `yaml:"email"`
	FiveM    FiveMConfig    `yaml:"fivem"`
	CFX      CFXConfig      `yaml:"cfx"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Uploads  UploadsConfig  `yaml:"uploads"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	HTTPPort    int    `yaml:"http_port"`
	StaticDir   string `yaml:"static_dir"`
	PublicURL   string `yaml:"public_url"`
	Development bool   `yaml:"development"`

	// TrustedProxies are IPs or CIDRs of reverse proxies allowed to set
	// X-Forwarded-For. Empty means the direct peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies; a bare IP becomes a single-host prefix
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// DiscordConfig holds bot credentials and the guild the portal manages
type DiscordConfig struct {
	BotToken        string `yaml:"bot_token"`
	GuildID         string `yaml:"guild_id"`
	NotifyChannelID string `yaml:"notify_channel_id"`
}

// Enabled reports whether the Discord integration is configured
func (d DiscordConfig) Enabled() bool {
	return d.BotToken != "" && d.GuildID != ""
}

// StripeConfig holds Stripe API keys and redirect URLs
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

// TwitchConfig holds Helix app credentials
type TwitchConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// EmailConfig holds Resend settings
type EmailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
}

// FiveMConfig lists the game servers to monitor
type FiveMConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	SnapshotRetention time.Duration `yaml:"snapshot_retention"`
	Servers           []FiveMServer `yaml:"servers"`
}

// FiveMServer represents a FiveM server to monitor
type FiveMServer struct {
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	JoinCode     string `yaml:"join_code"`
	RconPassword string `yaml:"rcon_password"`
}

// CFXConfig holds the status feed location
type CFXConfig struct {
	StatusFeedURL string        `yaml:"status_feed_url"`
	ServerListURL string        `yaml:"server_list_url"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// JobsConfig holds background job intervals
type JobsConfig struct {
	MissedChatInterval  time.Duration `yaml:"missed_chat_interval"`
	MissedChatThreshold time.Duration `yaml:"missed_chat_threshold"`
	RoleSyncInterval    time.Duration `yaml:"role_sync_interval"`
	SessionCleanup      time.Duration `yaml:"session_cleanup_interval"`
}

// UploadsConfig holds where uploaded images are stored
type UploadsConfig struct {
	Dir     string `yaml:"dir"`
	MaxSize int    `yaml:"max_size"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, then applies environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// A missing .env is fine; anything else is worth reporting
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if _, err := cfg.Server.ProxyPrefixes(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.HTTPPort)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/portal/portal.db"
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.Stripe.SuccessURL == "" {
		cfg.Stripe.SuccessURL = cfg.Server.PublicURL + "/store/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.Stripe.CancelURL == "" {
		cfg.Stripe.CancelURL = cfg.Server.PublicURL + "/store"
	}

	if cfg.Twitch.CacheTTL == 0 {
		cfg.Twitch.CacheTTL = time.Minute
	}
	if cfg.Email.From == "" {
		cfg.Email.From = "Nexus RP <noreply@nexusrp.dk>"
	}

	if cfg.FiveM.PollInterval == 0 {
		cfg.FiveM.PollInterval = 30 * time.Second
	}
	if cfg.FiveM.SnapshotRetention == 0 {
		cfg.FiveM.SnapshotRetention = 30 * 24 * time.Hour
	}

	if cfg.CFX.StatusFeedURL == "" {
		cfg.CFX.StatusFeedURL = "https://status.cfx.re/history.atom"
	}
	if cfg.CFX.ServerListURL == "" {
		cfg.CFX.ServerListURL = "https://servers-frontend.fivem.net/api/servers/single/"
	}
	if cfg.CFX.CacheTTL == 0 {
		cfg.CFX.CacheTTL = 5 * time.Minute
	}

	if cfg.Jobs.MissedChatInterval == 0 {
		cfg.Jobs.MissedChatInterval = time.Minute
	}
	if cfg.Jobs.MissedChatThreshold == 0 {
		cfg.Jobs.MissedChatThreshold = 10 * time.Minute
	}
	if cfg.Jobs.RoleSyncInterval == 0 {
		cfg.Jobs.RoleSyncInterval = 15 * time.Minute
	}
	if cfg.Jobs.SessionCleanup == 0 {
		cfg.Jobs.SessionCleanup = time.Hour
	}

	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "/var/lib/portal/uploads"
	}
	if cfg.Uploads.MaxSize == 0 {
		cfg.Uploads.MaxSize = 512
	}
}

// applyEnv lets secrets live outside the YAML file
func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString(&cfg.Auth.JWTSecret, "PORTAL_JWT_SECRET")
	setString(&cfg.Database.Path, "PORTAL_DATABASE_PATH")
	setString(&cfg.Discord.BotToken, "PORTAL_DISCORD_BOT_TOKEN")
	setString(&cfg.Discord.GuildID, "PORTAL_DISCORD_GUILD_ID")
	setString(&cfg.Discord.NotifyChannelID, "PORTAL_DISCORD_NOTIFY_CHANNEL_ID")
	setString(&cfg.Stripe.SecretKey, "PORTAL_STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.WebhookSecret, "PORTAL_STRIPE_WEBHOOK_SECRET")
	setString(&cfg.Twitch.ClientID, "PORTAL_TWITCH_CLIENT_ID")
	setString(&cfg.Twitch.ClientSecret, "PORTAL_TWITCH_CLIENT_SECRET")
	setString(&cfg.Email.ResendAPIKey, "PORTAL_RESEND_API_KEY")
	setString(&cfg.Email.From, "PORTAL_EMAIL_FROM")

	if v := os.Getenv("PORTAL_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
}
