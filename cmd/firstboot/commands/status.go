package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/firstboot/internal/app/status"
	journalsqlite "github.com/slok/firstboot/internal/journal/sqlite"
	"github.com/slok/firstboot/internal/printer"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the journaled provisioning steps.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Initialize journal (SQLite).
	repo, err := journalsqlite.NewRepository(ctx, journalsqlite.RepositoryConfig{
		DBPath: c.rootCmd.JournalPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create journal repository: %w", err)
	}

	// Create status service.
	svc, err := status.NewService(status.ServiceConfig{
		Journal: repo,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	// Execute status.
	st, err := svc.Status(ctx)
	if err != nil {
		return fmt.Errorf("could not get provisioning status: %w", err)
	}

	// Print output.
	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default: // table
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintJournal(st.Entries, st.StorageState); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
