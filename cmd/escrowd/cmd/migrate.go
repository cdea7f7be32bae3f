package cmd

import (
	"errors"
	"fmt"

	store "escrow-backend/storage/escrow"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var resetSchema bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.PGDSN == "" {
			return errors.New("ESCROW_PG_DSN is required")
		}
		pool, err := pgxpool.New(cmd.Context(), cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		m := store.NewSchemaManager(pool)
		if resetSchema {
			if err := m.Drop(cmd.Context()); err != nil {
				return fmt.Errorf("drop schema: %w", err)
			}
			log.Warn().Msg("escrow schema dropped")
		}
		if err := m.Initialize(cmd.Context()); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		log.Info().Msg("escrow schema ready")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&resetSchema, "reset", false, "drop all escrow tables first")
	rootCmd.AddCommand(migrateCmd)
}
