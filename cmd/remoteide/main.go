package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/remoteide/internal/config"
	"github.com/user/remoteide/internal/store"
	"github.com/user/remoteide/internal/workspace"
)

type globalFlags struct {
	configPath string
	serverURL  string
	token      string
	logLevel   string
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("remoteide command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "remoteide",
		Short:         "Client for a remote editing server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to config file")
	pf.StringVar(&flags.serverURL, "server", "", "websocket URL of the server")
	pf.StringVar(&flags.token, "token", "", "access token")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.DurationVar(&flags.timeout, "wait", 10*time.Second, "how long to wait for the server")

	root.AddCommand(newTreeCmd(flags))
	root.AddCommand(newOpenCmd(flags))
	root.AddCommand(newSearchCmd(flags))
	root.AddCommand(newTermCmd(flags))
	root.AddCommand(newLSPCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	return root
}

// loadConfig applies command line overrides on top of the file and
// environment, then sets up logging.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.serverURL != "" {
		cfg.ServerURL = flags.serverURL
	}
	if flags.token != "" {
		cfg.Token = flags.token
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

// session is a connected workspace for the lifetime of one command.
type session struct {
	*workspace.Workspace
	db     *store.DB
	cancel context.CancelFunc
	done   chan error
}

func connect(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	var db *store.DB
	if cfg.StatePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		db, err = store.Open(ctx, cfg.StatePath)
		if err != nil {
			return nil, err
		}
	}

	ws, err := workspace.New(ctx, workspace.Options{Config: cfg, Logger: slog.Default(), Store: db})
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{Workspace: ws, db: db, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- ws.Run(runCtx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, flags.timeout)
	defer waitCancel()
	if err := ws.WaitConnected(waitCtx); err != nil {
		s.close()
		return nil, fmt.Errorf("could not reach %s: %w", cfg.ServerURL, err)
	}
	return s, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Workspace.Close(ctx); err != nil {
		slog.Warn("closing workspace", "error", err)
	}
	s.cancel()
	if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("connection ended", "error", err)
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// waitFor polls cond until it holds or ctx is done.
func waitFor(ctx context.Context, what string, cond func() bool) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
