package main

import (
	"errors"
	"fmt"
	"strconv"

	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/models"

	"github.com/spf13/cobra"
)

type migrateOptions struct {
	driver string
	dsn    string
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "Database driver: postgres or sqlite. Defaults to database.driver from the configuration.")
	migrateCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Database connection string. Defaults to database.dsn from the configuration.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.resolve(root)
			if err != nil {
				return err
			}
			if err := database.MigrateUp(db.Driver, db.DSN); err != nil {
				return err
			}
			cmd.Printf("Applied all pending %s migrations\n", db.Driver)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := strconv.Atoi(args[0])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
			}
			db, err := opts.resolve(root)
			if err != nil {
				return err
			}
			if err := database.MigrateDown(db.Driver, db.DSN, steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d %s migration step(s)\n", steps, db.Driver)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.resolve(root)
			if err != nil {
				return err
			}
			v, dirty, err := database.MigrationVersion(db.Driver, db.DSN)
			if err != nil {
				return err
			}
			cmd.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})

	return migrateCmd
}

// resolve returns the database to migrate. Flags win; the configuration file
// is only read when one of them is missing.
func (o *migrateOptions) resolve(root *rootOptions) (models.DatabaseConfig, error) {
	if o.driver != "" && o.dsn != "" {
		return models.DatabaseConfig{Driver: o.driver, DSN: o.dsn}, nil
	}

	cfg, err := config.Load(root.configFile)
	if err != nil {
		return models.DatabaseConfig{}, err
	}
	db := cfg.Database
	if o.driver != "" {
		db.Driver = o.driver
	}
	if o.dsn != "" {
		db.DSN = o.dsn
	}
	if db.DSN == "" {
		return models.DatabaseConfig{}, errors.New("no database configured: set --dsn or database.dsn")
	}
	return db, nil
}
