package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/embedding"
	"github.com/codementor/ragindex/internal/logging"
	"github.com/codementor/ragindex/internal/session"
	"github.com/codementor/ragindex/internal/vectorstore"
)

var (
	configPath string
	sessionID  string
	logLevel   string
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragindex",
		Short:         "Chunk, embed and retrieve files for retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./ragindex.yaml, ./configs/ or ~/.ragindex/)")
	root.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "session id the command is scoped to")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newIndexCmd(false),
		newIndexCmd(true),
		newSearchCmd(),
		newRelevantCmd(),
		newPromptCmd(),
		newPathsCmd(),
		newPurgeCmd(),
	)
	return root
}

// app holds the components a command works with
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider embedding.Provider
	store    vectorstore.Store
	manager  *session.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	provider, err := embedding.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	store, err := vectorstore.New(ctx, cfg.Vector)
	if err != nil {
		closeQuietly(provider)
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		store:    store,
		manager:  session.NewManager(cfg, provider, store, logger),
	}, nil
}

func (a *app) session() (session.Session, error) {
	return a.manager.Session(sessionID)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close vector store", "error", err)
	}
	closeQuietly(a.provider)
}

// closeQuietly closes providers holding resources, such as hugot sessions
func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// withApp builds the app, runs fn and releases the app
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
