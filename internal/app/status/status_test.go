package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/app/status"
	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
)

type fakeJournal struct {
	entries []journal.Entry
	state   model.StorageState

	listErr  error
	stateErr error
}

func (f *fakeJournal) RecordEntry(context.Context, journal.Entry) error { return nil }
func (f *fakeJournal) ListEntries(context.Context) ([]journal.Entry, error) {
	return f.entries, f.listErr
}
func (f *fakeJournal) LastState(context.Context) (model.StorageState, error) {
	return f.state, f.stateErr
}

func TestServiceStatus(t *testing.T) {
	entries := []journal.Entry{
		{ID: "1", RunID: "run1", Step: "Installing partition tool", State: model.StorageStatePartitionToolInstalled, Status: model.TaskStatusDone, CreatedAt: time.Now()},
		{ID: "2", RunID: "run1", Step: "Converting partition table", Status: model.TaskStatusFailed, Error: "boom", CreatedAt: time.Now()},
	}

	tests := map[string]struct {
		journal   *fakeJournal
		expStatus *status.Status
		expErr    bool
	}{
		"An empty journal should report no entries and no storage state.": {
			journal:   &fakeJournal{stateErr: model.ErrNotFound},
			expStatus: &status.Status{},
		},

		"A journal with entries should report them with the last storage state.": {
			journal: &fakeJournal{entries: entries, state: model.StorageStatePartitionToolInstalled},
			expStatus: &status.Status{
				Entries:      entries,
				StorageState: model.StorageStatePartitionToolInstalled,
			},
		},

		"A journal read failure should fail.": {
			journal: &fakeJournal{listErr: errors.New("boom")},
			expErr:  true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			s, err := status.NewService(status.ServiceConfig{Journal: tc.journal})
			require.NoError(err)

			st, err := s.Status(context.Background())

			if tc.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tc.expStatus, st)
		})
	}
}
