package printer_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
	"github.com/slok/firstboot/internal/printer"
)

func testEntries() []journal.Entry {
	return []journal.Entry{
		{ID: "01A", RunID: "run1", Step: "Installing partition tool", State: model.StorageStatePartitionToolInstalled, Status: model.TaskStatusDone, CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: "01B", RunID: "run1", Step: "Converting partition table", Status: model.TaskStatusFailed, Error: "boom", CreatedAt: time.Now().Add(-1 * time.Minute)},
	}
}

func TestTablePrinterPrintJournal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var out bytes.Buffer
	p := printer.NewTablePrinter(&out)

	err := p.PrintJournal(testEntries(), model.StorageStatePartitionToolInstalled)
	require.NoError(err)

	got := out.String()
	assert.Contains(got, "STEP")
	assert.Contains(got, "Installing partition tool")
	assert.Contains(got, "boom")
	assert.Contains(got, "Storage state: partition_tool_installed")
}

func TestTablePrinterPrintJournalEmpty(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var out bytes.Buffer
	p := printer.NewTablePrinter(&out)

	err := p.PrintJournal(nil, "")
	require.NoError(err)

	assert.Equal("No provisioning run recorded.\n", out.String())
}

func TestJSONPrinterPrintJournal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var out bytes.Buffer
	p := printer.NewJSONPrinter(&out)

	err := p.PrintJournal(testEntries(), model.StorageStatePartitionToolInstalled)
	require.NoError(err)

	var got struct {
		StorageState string `json:"storage_state"`
		Entries      []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"entries"`
	}
	require.NoError(json.Unmarshal(out.Bytes(), &got))

	assert.Equal("partition_tool_installed", got.StorageState)
	require.Len(got.Entries, 2)
	assert.Equal("Installing partition tool", got.Entries[0].Step)
	assert.Equal("failed", got.Entries[1].Status)
	assert.Equal("boom", got.Entries[1].Error)
}

func TestTimeAgo(t *testing.T) {
	tests := map[string]struct {
		t   time.Time
		exp string
	}{
		"A timestamp seconds old should render in seconds.": {
			t:   time.Now().Add(-5 * time.Second),
			exp: "5 seconds ago (UTC)",
		},

		"A timestamp minutes old should render in minutes.": {
			t:   time.Now().Add(-2 * time.Minute),
			exp: "2 minutes ago (UTC)",
		},

		"A timestamp one hour old should use the singular.": {
			t:   time.Now().Add(-1*time.Hour - time.Minute),
			exp: "1 hour ago (UTC)",
		},

		"A timestamp days old should render in days.": {
			t:   time.Now().Add(-49 * time.Hour),
			exp: "2 days ago (UTC)",
		},

		"A future timestamp should not underflow.": {
			t:   time.Now().Add(time.Hour),
			exp: "in the future (UTC)",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.exp, printer.TimeAgo(tc.t))
		})
	}
}
