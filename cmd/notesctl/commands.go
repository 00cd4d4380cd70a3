package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studynotes/api/internal/bootstrap"
	"studynotes/api/internal/config"
	"studynotes/api/internal/logging"
	"studynotes/api/internal/store"
)

// openRuntime is replaced in tests.
var openRuntime = func(cmd *cobra.Command, opts bootstrap.Options) (*bootstrap.Runtime, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(cmd.Context(), cfg, logger, opts)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "notesctl",
		Short:         "Maintenance commands for the study notes API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(sweepCmd())
	return rootCmd
}

func migrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations, or roll back with --down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if down < 0 {
				return errors.New("--down must be positive")
			}
			rt, err := openRuntime(cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.DB == nil {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}

			var versions []string
			if down > 0 {
				versions, err = store.RollbackMigrations(cmd.Context(), rt.DB, rt.Config.MigrationsDir, down)
			} else {
				versions, err = store.ApplyMigrations(cmd.Context(), rt.DB, rt.Config.MigrationsDir)
			}
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to do")
				return nil
			}
			for _, version := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch index from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, bootstrap.Options{Migrate: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			count, err := rt.Search.ReindexAll(cmd.Context())
			if err != nil {
				return err
			}
			rt.Logger.Info("reindex finished", zap.Int("notes", count))
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d notes\n", count)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete uploads that were never attached to a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()

			count, err := rt.Sweeper().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d abandoned uploads\n", count)
			return nil
		},
	}
}
