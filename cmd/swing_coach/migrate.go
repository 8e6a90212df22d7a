package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/swing-coach/internal/config"
	"github.com/jonathan/swing-coach/internal/db"
	"github.com/jonathan/swing-coach/internal/mongostore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the record store schema",
	Long: `Create the analyses and conversation tables (PostgreSQL) or indexes
(MongoDB). Safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch rt.cfg.Store.Backend {
	case config.StoreMongo:
		// Connect ensures the indexes.
		store, err := mongostore.Connect(ctx, rt.cfg.Store.MongoURI, rt.cfg.Store.MongoDatabase)
		if err != nil {
			return err
		}
		defer store.Close()
	default:
		database, err := db.Connect(ctx, rt.cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%s)\n", rt.cfg.Store.Backend)
	return nil
}
