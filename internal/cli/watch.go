package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/queue"
)

// NewWatchCommand constructs the `watch` command that prints reorder events
// from the broker as JSON lines.
func NewWatchCommand() *cobra.Command {
	flags := &configFlags{}
	var collection string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print reorder events as they are published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Events.AMQPURL == "" {
				return errors.New("no broker configured; set events.amqp_url or FRACRANK_AMQP_URL")
			}
			if collection != "" {
				if _, err := domain.ParseCollection(collection); err != nil {
					return err
				}
			}

			logger := cfg.Log.Logger(cmd.ErrOrStderr())
			conn, err := queue.NewConnection(cfg.Events.AMQPURL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			sub := queue.NewSubscriber(conn, func(_ context.Context, ev domain.ReorderEvent) error {
				if collection != "" && ev.Collection != collection {
					return nil
				}
				return enc.Encode(ev)
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := sub.Start(ctx); err != nil {
				return err
			}
			defer sub.Stop()

			select {
			case <-ctx.Done():
				return nil
			case <-sub.Done():
				return sub.Err()
			}
		},
	}
	flags.register(watchCmd)
	watchCmd.Flags().StringVar(&collection, "collection", "", `only print events of this collection ("kind:parent")`)
	return watchCmd
}
