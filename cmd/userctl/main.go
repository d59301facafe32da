package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"UserManagementServer/internal/store/postgres"
)

var dbDSN string

// rootCmd is the base command for the user management CLI.
var rootCmd = &cobra.Command{
	Use:   "userctl",
	Short: "Operate on the user management database",
	Long: `userctl runs maintenance tasks against the user management database:
applying migrations, bootstrapping the first administrator and fixing up
individual accounts.

The database is taken from --dsn or the APP_DB_DSN environment variable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDSN, "dsn", os.Getenv("APP_DB_DSN"), "Postgres connection string")
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if dbDSN == "" {
		return nil, errors.New("no database configured: pass --dsn or set APP_DB_DSN")
	}
	return postgres.Open(ctx, dbDSN)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
