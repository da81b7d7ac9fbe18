package printer

import (
	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
)

// Printer knows how to print provisioning information in different formats.
type Printer interface {
	PrintJournal(entries []journal.Entry, state model.StorageState) error
	PrintMessage(msg string) error
}
