package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/penleaf/daybook/internal/config"
	"github.com/penleaf/daybook/internal/database"
	"github.com/penleaf/daybook/internal/journal"
	"github.com/penleaf/daybook/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daybook",
		Short: "Daybook local-first journal sync tooling",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newMigrateCommand(),
		newExportCommand(),
		newImportCommand(),
		newHashesCommand(),
		newNotesCommand(),
		newRebuildCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("device-name", defaults.GetString("device.name"), "Device name attached to log output")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "device.name", "device-name")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type environment struct {
	cfg         config.AppConfig
	logger      *zap.Logger
	db          *gorm.DB
	store       *journal.EventStore
	coordinator *journal.Coordinator
	runner      *journal.MigrationRunner
}

func newEnvironment() (*environment, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := journal.NewEventStore(journal.EventStoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := journal.NewCoordinator(journal.CoordinatorConfig{
		Store:      store,
		IDProvider: journal.NewUUIDProvider(),
		Clock:      time.Now,
		DeviceName: appConfig.DeviceName,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	runner, err := journal.NewMigrationRunner(journal.MigrationRunnerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: journal.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:         appConfig,
		logger:      logger,
		db:          db,
		store:       store,
		coordinator: coordinator,
		runner:      runner,
	}, nil
}

func (env *environment) close() {
	if sqlDB, err := env.db.DB(); err == nil {
		sqlDB.Close() //nolint:errcheck
	}
	env.logger.Sync() //nolint:errcheck
}

// prepare runs the legacy backfill (idempotent) and warms the coordinator's
// known set. Migration happens explicitly here, once at startup, rather than
// lazily inside query paths.
func (env *environment) prepare(ctx context.Context) error {
	migrated, err := env.runner.RunIfNeeded(ctx)
	if err != nil {
		return err
	}
	if migrated > 0 {
		env.logger.Info("startup migration complete", zap.Int("migrated", migrated))
	}
	return env.coordinator.Refresh(ctx)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Backfill legacy flat note rows into the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()

			migrated, err := env.runner.RunIfNeeded(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d legacy notes\n", migrated)
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	var outputPath string
	var sinceMillis int64

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write events to a wire-format JSON file for a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.prepare(cmd.Context()); err != nil {
				return err
			}

			var since *journal.UnixMillis
			if sinceMillis > 0 {
				value, err := journal.NewUnixMillis(sinceMillis)
				if err != nil {
					return err
				}
				since = &value
			}

			events, err := env.store.EventsSince(cmd.Context(), since)
			if err != nil {
				return err
			}
			payload, err := json.MarshalIndent(journal.EncodeWireEvents(events), "", "  ")
			if err != nil {
				return err
			}
			if outputPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			}
			if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
				return err
			}
			env.logger.Info("events exported",
				zap.String("path", outputPath),
				zap.Int("events", len(events)))
			return nil
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "Output file path (stdout when empty)")
	cmd.Flags().Int64Var(&sinceMillis, "since", 0, "Only export events at or after this unix millisecond timestamp")
	return cmd
}

func newImportCommand() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge events from a peer's wire-format JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.prepare(cmd.Context()); err != nil {
				return err
			}

			payload, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			var wires []journal.WireEvent
			if err := json.Unmarshal(payload, &wires); err != nil {
				return err
			}

			events := make([]journal.Event, 0, len(wires))
			for _, wire := range wires {
				event, err := journal.DecodeWireEvent(wire)
				if err != nil {
					env.logger.Warn("wire event skipped",
						zap.String("event_id", wire.ID),
						zap.Error(err))
					continue
				}
				events = append(events, event)
			}

			added, err := env.coordinator.ReceiveEvents(cmd.Context(), events)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d of %d offered events\n", added, len(wires))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Input file path")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}
	return cmd
}

func newHashesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hashes",
		Short: "Print the local event hash set for an out-of-band diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.prepare(cmd.Context()); err != nil {
				return err
			}

			hashes, err := env.store.AllHashes(cmd.Context())
			if err != nil {
				return err
			}
			for _, eventHash := range hashes {
				fmt.Fprintln(cmd.OutOrStdout(), eventHash.String())
			}
			return nil
		},
	}
}

func newNotesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notes",
		Short: "List materialized notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.prepare(cmd.Context()); err != nil {
				return err
			}

			notes, err := env.store.Notes(cmd.Context())
			if err != nil {
				return err
			}
			for _, note := range notes {
				status := "deleted"
				if !note.IsTombstoned() {
					status = fmt.Sprintf("%d chars", len(*note.Content))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", note.NoteID, status, note.LastUpdatedMillis)
			}
			return nil
		},
	}
}

func newRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and re-derive every materialized note from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.prepare(cmd.Context()); err != nil {
				return err
			}

			rebuilt, err := env.store.RebuildProjections(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d notes\n", rebuilt)
			return nil
		},
	}
}
