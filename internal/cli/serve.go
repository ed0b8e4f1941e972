package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/api"
	"github.com/ntauth/fracrank/internal/config"
	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/ordering"
	"github.com/ntauth/fracrank/internal/queue"
	"github.com/ntauth/fracrank/internal/storage"
)

type configFlags struct {
	path     string
	envFiles []string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "YAML config file")
	cmd.Flags().StringSliceVar(&f.envFiles, "env-file", nil, ".env files to load (default ./.env if present)")
}

func (f *configFlags) load() (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, err
	}
	return config.Load(f.path)
}

// NewServeCommand constructs the `serve` command that runs the HTTP API.
func NewServeCommand() *cobra.Command {
	flags := &configFlags{}
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Serve ordered collections over HTTP",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	flags.register(serveCmd)
	return serveCmd
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := cfg.Log.Logger(logOut)

	gen, err := cfg.Rank.Generator()
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var publisher domain.EventPublisher = ordering.NopPublisher{}
	if cfg.Events.AMQPURL != "" {
		conn, err := queue.NewConnection(cfg.Events.AMQPURL, logger)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer conn.Close()
		publisher = queue.NewPublisher(conn)
	}

	svc := ordering.New(store, ordering.Options{
		Generator: gen,
		Publisher: publisher,
		Logger:    logger,
		Retry: ordering.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		JitterRange:   cfg.Rank.JitterRange,
		Jitter:        fracrank.SharedJitter{},
		AutoRebalance: cfg.Rank.AutoRebalance,
	})

	srv := api.NewServer(&api.Options{
		Address:      cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit:    cfg.Server.RateLimit,
		Ordering:     svc,
		Generator:    gen,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return <-errCh
}
