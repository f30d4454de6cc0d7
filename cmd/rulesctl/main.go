// Command rulesctl administers approval rules in a local SQLite database:
// bulk import from YAML, conflict scans, approver resolution and history.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/platform/logging"
	"perfhub/internal/store/sqlite"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes one rulesctl invocation and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	c := &cli{}
	defer c.close()
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type cli struct {
	dbPath   string
	tenantID string
	actor    string
	logLevel string
	output   string

	store   *sqlite.Store
	log     *zap.Logger
	service *approvals.Service
}

// open lazily connects so commands like token never touch the database.
func (c *cli) open() (*approvals.Service, error) {
	if c.service != nil {
		return c.service, nil
	}
	log, err := logging.New("development", c.logLevel)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.Open(c.dbPath)
	if err != nil {
		return nil, err
	}
	c.log = log
	c.store = store
	c.service = approvals.NewService(store, nil, log.Named("rulesctl"), nil)
	return c.service, nil
}

func (c *cli) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "rulesctl",
		Short:         "Manage approval rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.dbPath, "db", envOr("RULESCTL_DB", "perfhub.db"), "SQLite database path")
	flags.StringVar(&c.tenantID, "tenant", envOr("RULESCTL_TENANT", "default"), "tenant id")
	flags.StringVar(&c.actor, "actor", envOr("RULESCTL_ACTOR", "rulesctl"), "user recorded in rule history")
	flags.StringVar(&c.logLevel, "log-level", "warn", "debug, info, warn or error")
	flags.StringVarP(&c.output, "output", "o", "table", "table or json")

	root.AddCommand(
		newImportCmd(c),
		newListCmd(c),
		newConflictsCmd(c),
		newResolveCmd(c),
		newStateCmd(c, "deactivate", approvals.MutationDeactivate, "Deactivate a rule"),
		newStateCmd(c, "reactivate", approvals.MutationReactivate, "Reactivate a rule"),
		newStateCmd(c, "delete", approvals.MutationDelete, "Delete a rule"),
		newHistoryCmd(c),
		newTokenCmd(c),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
