package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
)

// JSONPrinter prints provisioning information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// entryOutput represents a journaled step in the JSON output.
type entryOutput struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	State     string    `json:"state,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// journalOutput represents the full status output.
type journalOutput struct {
	StorageState string        `json:"storage_state,omitempty"`
	Entries      []entryOutput `json:"entries"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintJournal prints the journaled step outcomes and the storage state.
func (j *JSONPrinter) PrintJournal(entries []journal.Entry, state model.StorageState) error {
	output := journalOutput{
		StorageState: string(state),
		Entries:      make([]entryOutput, len(entries)),
	}
	for i, e := range entries {
		output.Entries[i] = entryOutput{
			ID:        e.ID,
			RunID:     e.RunID,
			Step:      e.Step,
			State:     string(e.State),
			Status:    string(e.Status),
			Error:     e.Error,
			CreatedAt: e.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
