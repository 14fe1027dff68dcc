// portal - Nexus RP community portal backend
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/api"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/collector"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/jobs"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/media"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/payments"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/twitch"
)

var version = "dev"

const defaultConfigPath = "/etc/portal/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "killswitch":
		cmdKillSwitch(os.Args[2:])
	case "sync-roles":
		cmdSyncRoles(os.Args[2:])
	case "check-missed-chats":
		cmdCheckMissedChats(os.Args[2:])
	case "cfx-status":
		cmdCFXStatus(os.Args[2:])
	case "version":
		fmt.Printf("portal %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: portal <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the portal API server")
	fmt.Println("  migrate                             Apply database migrations and exit")
	fmt.Println("  user add [--admin] [--email E] <username>")
	fmt.Println("                                      Add a staff account (prompts for password)")
	fmt.Println("  user remove <username>              Remove a staff account")
	fmt.Println("  user list                           List staff accounts")
	fmt.Println("  user reset <username>               Reset a staff account's password")
	fmt.Println("  user admin <username>               Toggle admin status for an account")
	fmt.Println("  killswitch on --reason R            Block all staff writes")
	fmt.Println("  killswitch off                      Lift the kill switch")
	fmt.Println("  killswitch status                   Show the kill switch state")
	fmt.Println("  sync-roles                          Sync staff roles to Discord once")
	fmt.Println("  check-missed-chats                  Flag unanswered chats once")
	fmt.Println("  cfx-status                          Show the CFX platform status")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/portal/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  portal serve --config ./config.yml")
	fmt.Println("  portal user add --admin --email owner@nexusrp.dk owner")
	fmt.Println("  portal killswitch on --reason \"compromised account\"")
}

// newLogger builds the process logger; development mode logs readable console output
func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// loadConfig reads the config file, falling back to the default path
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// cmdServe starts the portal server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := serve(cfg); err != nil {
		zap.L().Fatal("portal stopped", zap.Error(err))
	}
}

func serve(cfg *config.Config) error {
	zap.L().Info("portal starting", zap.String("version", version), zap.Int("servers", len(cfg.FiveM.Servers)))

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	zap.L().Info("database initialized", zap.String("path", cfg.Database.Path))

	bus, err := events.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Auth.JWTSecret == "" {
		zap.L().Warn("no JWT secret configured, auth tokens will use an empty secret")
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	proxies, err := cfg.Server.ProxyPrefixes()
	if err != nil {
		return err
	}

	deps := api.Deps{
		Store:      store,
		Auth:       authService,
		CFX:        collector.NewCFXStatusChecker(cfg.CFX.StatusFeedURL, cfg.CFX.CacheTTL, nil),
		ServerList: collector.NewServerListClient(cfg.CFX.ServerListURL, nil),
		Templates:  mail.NewTemplates(),
		Publisher:  bus,
		StaticDir:  cfg.Server.StaticDir,
		PublicURL:  cfg.Server.PublicURL,

		TrustedProxies: proxies,
	}

	var manager *collector.ServerManager
	if len(cfg.FiveM.Servers) > 0 {
		manager = collector.NewServerManager(cfg.FiveM, store, collector.NewFiveMClient(nil), collector.NewRconClient(), bus)
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("starting server manager: %w", err)
		}
		deps.Servers = manager
	} else {
		zap.L().Info("no FiveM servers configured, monitoring disabled")
	}

	deps.Mailer = newMailer(cfg, store, deps.Templates)

	runner := jobs.NewRunner()
	runner.Add(jobs.JobMissedChats, cfg.Jobs.MissedChatInterval, jobs.MissedChats(
		jobs.NewMissedChatJob(store, deps.Mailer, bus, cfg.Jobs.MissedChatThreshold, cfg.Server.PublicURL)))
	runner.Add(jobs.JobSessionCleanup, cfg.Jobs.SessionCleanup, jobs.SessionCleanup(store))

	if session, err := discord.NewSession(cfg.Discord.BotToken); err == nil && cfg.Discord.Enabled() {
		syncer := discord.NewRoleSyncer(session, store, cfg.Discord.GuildID)
		deps.Roles = syncer
		runner.Add(jobs.JobRoleSync, cfg.Jobs.RoleSyncInterval, jobs.RoleSync(syncer))

		if cfg.Discord.NotifyChannelID != "" {
			stop, err := discord.NewNotifier(session, cfg.Discord.NotifyChannelID, cfg.Server.PublicURL).Start(bus)
			if err != nil {
				return fmt.Errorf("starting discord notifier: %w", err)
			}
			defer stop()
		}
	} else {
		zap.L().Info("discord integration disabled")
	}

	deps.Streams = newStreams(cfg, store)

	checkout, err := payments.NewStripeCheckout(cfg.Stripe, nil)
	switch {
	case err == nil:
		deps.Payments = payments.NewService(checkout, store, bus, cfg.Stripe.WebhookSecret)
	case errors.Is(err, payments.ErrNotConfigured) && cfg.Stripe.WebhookSecret != "":
		deps.Payments = payments.NewService(nil, store, bus, cfg.Stripe.WebhookSecret)
	default:
		zap.L().Info("stripe integration disabled")
	}

	mediaStore, err := media.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxSize)
	if err != nil {
		zap.L().Warn("uploads disabled", zap.String("dir", cfg.Uploads.Dir), zap.Error(err))
	} else {
		deps.Media = mediaStore
	}

	router := api.NewRouter(deps)
	stopHub, err := router.StartWebSocketHub(bus)
	if err != nil {
		return fmt.Errorf("starting websocket hub: %w", err)
	}
	defer stopHub()

	runner.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", addr), zap.String("public_url", cfg.Server.PublicURL))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		zap.L().Info("shutting down", zap.Stringer("signal", sig))
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		zap.L().Warn("HTTP server shutdown", zap.Error(err))
	}

	runner.Stop()
	if manager != nil {
		manager.Stop()
	}
	cancel()
	zap.L().Info("shutdown complete")
	return nil
}

// newMailer returns a mailer; without a Resend key it renders but never sends
func newMailer(cfg *config.Config, store *storage.Store, templates *mail.Templates) *mail.Mailer {
	sender, err := mail.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
	if err != nil {
		zap.L().Info("email delivery disabled", zap.Error(err))
		return mail.NewMailer(nil, store, templates)
	}
	return mail.NewMailer(sender, store, templates)
}

// newStreams returns the partner stream service; it reports not configured without Twitch credentials
func newStreams(cfg *config.Config, store *storage.Store) *twitch.Service {
	source, err := twitch.NewHelixSource(cfg.Twitch, "")
	if err != nil {
		zap.L().Info("twitch integration disabled", zap.Error(err))
		return twitch.NewService(nil, store, cfg.Twitch.CacheTTL)
	}
	return twitch.NewService(source, store, cfg.Twitch.CacheTTL)
}
