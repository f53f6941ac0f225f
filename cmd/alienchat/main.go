// Command alienchat runs the AlienChat HTTP service or its terminal client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/AlienChat/internal/api"
	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/config"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/genai"
	"github.com/BTreeMap/AlienChat/internal/lockfile"
	"github.com/BTreeMap/AlienChat/internal/repl"
	"github.com/BTreeMap/AlienChat/internal/store"
	"github.com/spf13/cobra"
)

// historyFileName is the REPL history file under the user config directory.
const historyFileName = "alienchat/history"

// newLineReader opens the REPL input. Tests replace it with a scripted reader.
var newLineReader = func(historyFile string) repl.LineReader {
	return repl.NewLinerReader(historyFile)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("AlienChat failed", "error", err)
		os.Exit(1)
	}
}

// app carries the resolved configuration into the subcommands.
type app struct {
	cfg config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "alienchat",
		Short:         "Chat client with guided marketing flows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			a.cfg = cfg
			initializeLogger(cmd.ErrOrStderr(), cfg.LogLevel, cmd.Name() == "chat")
			return nil
		},
	}
	config.RegisterFlags(root)
	root.AddCommand(a.newServeCommand(), a.newChatCommand(), a.newUserAddCommand())
	return root
}

// initializeLogger sets up structured logging at the configured level. The terminal client
// keeps the transcript readable by logging warnings and above only.
func initializeLogger(w io.Writer, level string, quiet bool) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelDebug
	}
	if quiet && lvl < slog.LevelWarn {
		lvl = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	kv, release, err := a.openKV(true)
	if err != nil {
		return err
	}
	defer release()

	registry, err := a.loadRegistry()
	if err != nil {
		return err
	}
	completer, err := a.newCompleter()
	if err != nil {
		return err
	}

	admin := auth.NewAdmin(a.cfg.AdminEmail, a.cfg.AdminPassword)
	if !admin.Configured() {
		slog.Warn("ADMIN_EMAIL or ADMIN_PASSWORD not set; sign-up is disabled")
	}
	apiOpts, err := a.buildAPIOptions(ctx)
	if err != nil {
		return err
	}

	slog.Info("Bootstrapping AlienChat", "api_addr", a.cfg.APIAddr, "dsn_type", store.DetectDSNType(a.cfg.DatabaseURL), "flows", len(registry.List()))
	srv := api.NewServer(kv, registry, completer,
		auth.NewAccounts(kv), admin, auth.NewSessions(kv, a.cfg.SessionTTL), apiOpts...)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	slog.Info("AlienChat exited successfully")
	return nil
}

// buildAPIOptions constructs API server configuration options
func (a *app) buildAPIOptions(ctx context.Context) ([]api.Option, error) {
	opts := []api.Option{
		api.WithAddr(a.cfg.APIAddr),
		api.WithDispatchTimeout(a.cfg.CompletionTimeout),
		api.WithSecureCookies(a.cfg.SecureCookies),
	}
	if gc := a.cfg.GoogleConfig(); gc.Complete() {
		g, err := auth.NewGoogle(ctx, gc)
		if err != nil {
			return nil, fmt.Errorf("failed to set up Google sign-in: %w", err)
		}
		opts = append(opts, api.WithGoogle(g))
	} else {
		slog.Debug("Google sign-in disabled")
	}
	return opts, nil
}

func (a *app) newChatCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.chat(ctx, cmd.OutOrStdout(), email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "sign in as this user; without it the chat is a guest session")
	cmd.Flags().StringVar(&password, "password", "", "password for --email")
	return cmd
}

func (a *app) chat(ctx context.Context, out io.Writer, email, password string) error {
	kv, release, err := a.openKV(true)
	if err != nil {
		return err
	}
	defer release()

	registry, err := a.loadRegistry()
	if err != nil {
		return err
	}
	completer, err := a.newCompleter()
	if err != nil {
		return err
	}

	owner := store.Owner{}
	if email != "" {
		user, err := auth.NewAccounts(kv).SignIn(ctx, email, password)
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
		if err := store.ClearGuestConversations(ctx, kv); err != nil {
			return err
		}
		owner = store.Owner{UID: user.UID, Email: user.Email}
	}
	chats, err := store.OpenChatStore(ctx, kv, owner)
	if err != nil {
		return err
	}
	engine := flow.NewEngine(registry, chats, completer, flow.WithDispatchTimeout(a.cfg.CompletionTimeout))

	reader := newLineReader(historyPath())
	defer reader.Close()
	opts := []repl.Option{repl.WithOutput(out), repl.WithReader(reader)}
	if _, ok := out.(*os.File); !ok {
		opts = append(opts, repl.WithStyle(repl.PlainStyle))
	}
	session, err := repl.New(ctx, engine, chats, kv, opts...)
	if err != nil {
		return err
	}
	return session.Run(ctx)
}

// historyPath returns the REPL history file, or "" when no config directory exists.
func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, historyFileName)
}

func (a *app) newUserAddCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "useradd <email>",
		Short: "Create an email/password account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kv, release, err := a.openKV(false)
			if err != nil {
				return err
			}
			defer release()
			user, err := auth.NewAccounts(kv).SignUp(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Email, user.UID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// openKV opens the configured store. With lock set, a file database also takes the state
// directory lock so two processes never rewrite the same conversation lists.
func (a *app) openKV(lock bool) (store.KV, func(), error) {
	dsn := a.cfg.DatabaseURL
	var held *lockfile.Lock
	if lock && store.DetectDSNType(dsn) == store.DSNTypeSQLite {
		l, err := lockfile.Acquire(a.cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		held = l
	}

	kv, err := store.NewKV(store.WithDSN(dsn))
	if err != nil {
		_ = held.Release()
		return nil, nil, err
	}
	release := func() {
		if err := kv.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
		if err := held.Release(); err != nil {
			slog.Error("Failed to release state directory lock", "error", err)
		}
	}
	return kv, release, nil
}

func (a *app) loadRegistry() (*flow.Registry, error) {
	if a.cfg.FlowsFile != "" {
		slog.Info("Loading flow table", "path", a.cfg.FlowsFile)
		return flow.LoadRegistry(a.cfg.FlowsFile)
	}
	return flow.DefaultRegistry()
}

func (a *app) newCompleter() (*genai.Client, error) {
	c, err := genai.NewClient(a.cfg.GenAIOptions()...)
	if errors.Is(err, genai.ErrAPIKeyMissing) {
		return nil, fmt.Errorf("OPENROUTER_API_KEY must be set: %w", err)
	}
	return c, err
}
