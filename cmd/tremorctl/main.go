// tremorctl is the operator CLI for a tremor database: schema management and
// direct import/export of exposure and vulnerability models without going
// through the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/tremor/internal/store"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:           "tremorctl",
		Short:         "Operator tooling for a tremor database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "path of the SQLite database")

	root.AddCommand(newDBCmd())
	root.AddCommand(newExposureCmd())
	root.AddCommand(newVulnerabilityCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultDBPath() string {
	if v := os.Getenv("TREMOR_DB_PATH"); v != "" {
		return v
	}
	return "tremor.db"
}

// openStore opens the database named by the --db flag.
func openStore() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return s, nil
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database and its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Printf("database ready at %s\n", dbPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop",
		Short: "Drop all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DropAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("dropped all tables in %s\n", dbPath)
			return nil
		},
	})

	return cmd
}
