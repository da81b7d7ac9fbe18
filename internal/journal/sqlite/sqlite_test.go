package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/journal/sqlite"
	"github.com/slok/firstboot/internal/model"
)

func newTestRepository(t *testing.T) *sqlite.Repository {
	t.Helper()

	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestRepositoryRecordAndList(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	repo := newTestRepository(t)
	ctx := context.Background()

	entries := []journal.Entry{
		{RunID: "run1", Step: "Refreshing package index", Status: model.TaskStatusDone},
		{RunID: "run1", Step: "Converting partition table", State: model.StorageStatePartitionTableConverted, Status: model.TaskStatusDone},
		{RunID: "run1", Step: "Reinstalling bootloader", State: model.StorageStateBootloaderReinstalled, Status: model.TaskStatusFailed, Error: "grub-install failed"},
	}
	for _, e := range entries {
		require.NoError(repo.RecordEntry(ctx, e))
	}

	got, err := repo.ListEntries(ctx)
	require.NoError(err)
	require.Len(got, 3)

	for i, e := range entries {
		assert.NotEmpty(got[i].ID)
		assert.False(got[i].CreatedAt.IsZero())
		assert.Equal(e.RunID, got[i].RunID)
		assert.Equal(e.Step, got[i].Step)
		assert.Equal(e.State, got[i].State)
		assert.Equal(e.Status, got[i].Status)
		assert.Equal(e.Error, got[i].Error)
	}
}

func TestRepositoryLastState(t *testing.T) {
	tests := map[string]struct {
		entries  []journal.Entry
		expState model.StorageState
		expErr   error
	}{
		"No entries should return not found.": {
			expErr: model.ErrNotFound,
		},

		"Entries without storage state should return not found.": {
			entries: []journal.Entry{
				{RunID: "r", Step: "Refreshing package index", Status: model.TaskStatusDone},
			},
			expErr: model.ErrNotFound,
		},

		"The latest completed storage state should be returned.": {
			entries: []journal.Entry{
				{RunID: "r", Step: "Installing partitioning tool", State: model.StorageStatePartitionToolInstalled, Status: model.TaskStatusDone},
				{RunID: "r", Step: "Converting partition table", State: model.StorageStatePartitionTableConverted, Status: model.TaskStatusDone},
				{RunID: "r", Step: "Reloading partition table", State: model.StorageStateKernelReloaded, Status: model.TaskStatusFailed, Error: "partprobe failed"},
			},
			expState: model.StorageStatePartitionTableConverted,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := newTestRepository(t)
			ctx := context.Background()

			for _, e := range tc.entries {
				require.NoError(repo.RecordEntry(ctx, e))
			}

			state, err := repo.LastState(ctx)

			if tc.expErr != nil {
				assert.True(errors.Is(err, tc.expErr))
			} else {
				require.NoError(err)
				assert.Equal(tc.expState, state)
			}
		})
	}
}

func TestRepositoryRecordEntryValidation(t *testing.T) {
	assert := assert.New(t)

	repo := newTestRepository(t)

	err := repo.RecordEntry(context.Background(), journal.Entry{RunID: "r"})

	assert.True(errors.Is(err, model.ErrNotValid))
}
