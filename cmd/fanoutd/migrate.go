package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Prepare the configured store and queue",
	Long: `migrate runs store schema migrations and, for the jetstream queue,
creates or updates the stream and its durable consumer.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	b, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	st, err := b.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // process exit

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store migrated", "driver", cfg.Store.Driver)

	if cfg.Queue.Backend == "jetstream" {
		q, err := b.queueFactory(ctx, cfg)()
		if err != nil {
			return fmt.Errorf("prepare queue: %w", err)
		}
		defer q.Close() //nolint:errcheck // process exit
		logger.Info("jetstream stream ready", "stream", cfg.NATS.Stream, "consumer", cfg.NATS.Consumer)
	}
	return nil
}
