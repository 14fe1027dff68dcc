package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/collector"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/discord"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/jobs"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/mail"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

const cliActor = "cli"

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// openStore loads the configuration and opens the database
func openStore(configPath string) (*config.Config, *storage.Store) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fail(err)
	}
	if logger, err := zap.NewDevelopment(); err == nil {
		zap.ReplaceGlobals(logger)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fail(fmt.Errorf("failed to open database: %w", err))
	}
	return cfg, store
}

// parseCLI parses a command that only takes --config
func parseCLI(name string, args []string) (*config.Config, *storage.Store) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)
	return openStore(*configPath)
}

func cmdMigrate(args []string) {
	cfg, store := parseCLI("migrate", args)
	defer store.Close()

	// storage.New already migrated; report where that left the schema
	version, dirty, err := store.MigrationVersion()
	if err != nil {
		fail(err)
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Printf("Database %s at schema version %d (%s)\n", cfg.Database.Path, version, state)
}

// newUserOptions are the flags of "user add"
type newUserOptions struct {
	isAdmin   bool
	email     string
	discordID string
}

func cmdUser(args []string) {
	if len(args) < 1 {
		fail(errors.New("user subcommand required: add, remove, list, reset, admin"))
	}
	subCmd := args[0]

	fs := flag.NewFlagSet("user "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	var opts newUserOptions
	if subCmd == "add" {
		fs.BoolVar(&opts.isAdmin, "admin", false, "create as admin user")
		fs.StringVar(&opts.email, "email", "", "email address")
		fs.StringVar(&opts.discordID, "discord-id", "", "Discord user ID for role sync")
	}
	fs.Parse(args[1:])

	_, store := openStore(*configPath)
	defer store.Close()

	ctx := context.Background()
	remaining := fs.Args()
	var err error
	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, opts, remaining)
	case "remove":
		err = cmdUserRemove(ctx, store, remaining)
	case "list":
		err = cmdUserList(ctx, store)
	case "reset":
		err = cmdUserReset(ctx, store, remaining)
	case "admin":
		err = cmdUserAdmin(ctx, store, remaining)
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, remove, list, reset, admin)", subCmd)
	}
	if err != nil {
		store.Close()
		fail(err)
	}
}

// readNewPassword prompts twice and checks both entries match
func readNewPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(password) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(password), nil
}

func cmdUserAdd(ctx context.Context, store *storage.Store, opts newUserOptions, remaining []string) error {
	if len(remaining) < 1 {
		return errors.New("usage: portal user add [--admin] [--email E] [--discord-id ID] <username>")
	}
	username := remaining[0]

	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	password, err := readNewPassword("Enter password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := store.CreateUser(ctx, storage.NewUser{
		Username:     username,
		Email:        opts.email,
		PasswordHash: hash,
		IsAdmin:      opts.isAdmin,
		DiscordID:    opts.discordID,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	cliAudit(ctx, store, domain.AuditUserCreated, domain.SeverityInfo, "user", fmt.Sprint(id),
		map[string]any{"username": username, "is_admin": opts.isAdmin})

	role := "staff"
	if opts.isAdmin {
		role = "admin"
	}
	fmt.Printf("User '%s' created (role: %s); the password must be changed on first login\n", username, role)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: portal user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUserByUsername(ctx, username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	cliAudit(ctx, store, domain.AuditUserDeleted, domain.SeverityWarning, "user", username, nil)

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tDISCORD\tPWD_CHANGE\tLAST_LOGIN")
	fmt.Fprintln(w, "--------\t----\t-------\t----------\t----------")

	for _, user := range users {
		role := user.StaffRoleName
		if user.IsAdmin {
			role = "admin"
		}
		if role == "" {
			role = "-"
		}
		discordID := user.DiscordID
		if discordID == "" {
			discordID = "-"
		}
		pwdChange := "no"
		if user.PasswordChangeRequired {
			pwdChange = "yes"
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", user.Username, role, discordID, pwdChange, lastLogin)
	}
	return w.Flush()
}

func cmdUserReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: portal user reset <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	password, err := readNewPassword("Enter new password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.ResetUserPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if _, err := store.RevokeUserSessions(ctx, user.ID, ""); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	cliAudit(ctx, store, domain.AuditPasswordChanged, domain.SeverityWarning, "user", fmt.Sprint(user.ID),
		map[string]any{"reset": true})

	fmt.Printf("Password reset for '%s' (user will be required to change it on next login)\n", username)
	return nil
}

func cmdUserAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: portal user admin <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	newAdminStatus := !user.IsAdmin
	if err := store.UpdateUserAdmin(ctx, user.ID, newAdminStatus); err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}
	cliAudit(ctx, store, domain.AuditUserUpdated, domain.SeverityWarning, "user", fmt.Sprint(user.ID),
		map[string]any{"is_admin": newAdminStatus})

	if newAdminStatus {
		fmt.Printf("User '%s' is now an admin\n", username)
	} else {
		fmt.Printf("User '%s' is no longer an admin\n", username)
	}
	return nil
}

func cmdKillSwitch(args []string) {
	if len(args) < 1 {
		fail(errors.New("killswitch subcommand required: on, off, status"))
	}
	subCmd := args[0]

	fs := flag.NewFlagSet("killswitch", flag.ExitOnError)
	reason := fs.String("reason", "", "why writes are being blocked")
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args[1:])

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	switch subCmd {
	case "on", "off":
		active := subCmd == "on"
		if active && strings.TrimSpace(*reason) == "" {
			fail(errors.New("--reason is required when activating the kill switch"))
		}
		ks, err := store.SetKillSwitch(ctx, active, *reason, cliActor)
		if err != nil {
			fail(err)
		}
		cliAudit(ctx, store, domain.AuditKillSwitch, domain.SeverityCritical, "kill_switch", "",
			map[string]any{"active": active, "reason": *reason})
		printKillSwitch(ks)
	case "status":
		ks, err := store.GetKillSwitch(ctx)
		if err != nil {
			fail(err)
		}
		printKillSwitch(ks)
	default:
		fail(fmt.Errorf("unknown killswitch command: %s (use: on, off, status)", subCmd))
	}
}

func printKillSwitch(ks *domain.KillSwitch) {
	if !ks.Active {
		fmt.Println("Kill switch is OFF")
		return
	}
	fmt.Printf("Kill switch is ON since %s by %s: %s\n",
		ks.UpdatedAt.Local().Format("2006-01-02 15:04"), ks.UpdatedBy, ks.Reason)
}

func cmdSyncRoles(args []string) {
	cfg, store := parseCLI("sync-roles", args)
	defer store.Close()

	if !cfg.Discord.Enabled() {
		fail(discord.ErrNotConfigured)
	}
	session, err := discord.NewSession(cfg.Discord.BotToken)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	report, err := discord.NewRoleSyncer(session, store, cfg.Discord.GuildID).Sync(ctx)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Checked %d members: %d updated, %d roles added, %d removed, %d failures (%s)\n",
		report.Checked, report.Updated, report.Added, report.Removed, len(report.Failures),
		report.Duration.Round(time.Millisecond))
}

func cmdCheckMissedChats(args []string) {
	cfg, store := parseCLI("check-missed-chats", args)
	defer store.Close()

	mailer := newMailer(cfg, store, mail.NewTemplates())
	job := jobs.NewMissedChatJob(store, mailer, nil, cfg.Jobs.MissedChatThreshold, cfg.Server.PublicURL)
	n, err := job.Run(context.Background())
	if err != nil {
		fail(err)
	}
	fmt.Printf("%d newly missed chat(s)\n", n)
}

func cmdCFXStatus(args []string) {
	fs := flag.NewFlagSet("cfx-status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	status, err := collector.NewCFXStatusChecker(cfg.CFX.StatusFeedURL, cfg.CFX.CacheTTL, nil).Check(ctx)
	if err != nil {
		fail(err)
	}

	fmt.Printf("CFX status: %s\n", strings.ToUpper(status.Status))
	if len(status.Incidents) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UPDATED\tSTATUS\tTITLE")
	for _, inc := range status.Incidents {
		fmt.Fprintf(w, "%s\t%s\t%s\n", inc.UpdatedAt.Local().Format("2006-01-02 15:04"), inc.Status, inc.Title)
	}
	w.Flush()
}

// cliAudit records an action taken from the command line; failures only warn
func cliAudit(ctx context.Context, store *storage.Store, action, severity, targetType, targetID string, details map[string]any) {
	err := store.InsertAuditLog(ctx, &domain.AuditLog{
		ActorName:  cliActor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		Severity:   severity,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write audit log: %v\n", err)
	}
}
