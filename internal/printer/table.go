package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
)

// TablePrinter prints provisioning information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintJournal prints the journaled step outcomes and the storage state.
func (t *TablePrinter) PrintJournal(entries []journal.Entry, state model.StorageState) error {
	if len(entries) == 0 {
		fmt.Fprintln(t.writer, "No provisioning run recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	// Print header
	fmt.Fprintln(tw, "STEP\tSTATUS\tRUN\tWHEN\tERROR")

	// Print rows
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Step, e.Status, e.RunID, TimeAgo(e.CreatedAt), e.Error)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if state != "" {
		fmt.Fprintf(t.writer, "\nStorage state: %s\n", state)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
