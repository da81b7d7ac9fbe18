package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/model"
	"github.com/slok/firstboot/internal/oscmd/fake"
	"github.com/slok/firstboot/internal/provision/storage"
	"github.com/slok/firstboot/internal/step"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) RecordEntry(_ context.Context, e journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) ListEntries(context.Context) ([]journal.Entry, error) { return f.entries, nil }

func (f *fakeJournal) LastState(context.Context) (model.StorageState, error) {
	return "", model.ErrNotFound
}

func (f *fakeJournal) doneStates() []model.StorageState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var states []model.StorageState
	for _, e := range f.entries {
		if e.State != "" && e.Status == model.TaskStatusDone {
			states = append(states, e.State)
		}
	}
	return states
}

func testLayout(mountPoint string) config.Storage {
	return config.Storage{
		Disk:          "/dev/sda",
		BootPartition: 3,
		DataPartition: 4,
		VolumeGroup:   "appliance",
		LogicalVolume: "data",
		Filesystem:    "ext4",
		MountPoint:    mountPoint,
		ServiceUser:   "appliance",
	}
}

func newTestProvisioner(t *testing.T, cmd *fake.Runner, jrnl *fakeJournal, fstabPath, mountPoint string) *storage.Provisioner {
	t.Helper()

	steps, err := step.NewRunner(step.RunnerConfig{})
	require.NoError(t, err)

	p, err := storage.NewProvisioner(storage.ProvisionerConfig{
		Steps:     steps,
		Cmd:       cmd,
		Journal:   jrnl,
		RunID:     "test-run",
		Layout:    testLayout(mountPoint),
		FstabPath: fstabPath,
	})
	require.NoError(t, err)

	return p
}

func TestProvisionerFullSequence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tmpDir := t.TempDir()
	mountPoint := filepath.Join(tmpDir, "opt", "appliance")
	fstabPath := filepath.Join(tmpDir, "fstab")
	// Pre-existing fstab content must survive untouched.
	existingFstab := "/dev/mapper/root / ext4 errors=remount-ro 0 1\n/dev/sda2 /boot ext4 defaults 0 2\n"
	require.NoError(os.WriteFile(fstabPath, []byte(existingFstab), 0644))

	cmd := fake.NewRunner()
	jrnl := &fakeJournal{}
	p := newTestProvisioner(t, cmd, jrnl, fstabPath, mountPoint)

	err := p.Provision(context.Background())
	require.NoError(err)

	// Exactly the fixed tool sequence, in order.
	assert.Equal([]string{
		"apt-get install -y gdisk",
		"sgdisk --mbrtogpt --new=3::+1M --typecode=3:ef02 --change-name=3:BIOS boot /dev/sda",
		"sgdisk --largest-new=4 --change-name=4:appliance data /dev/sda",
		"partprobe /dev/sda",
		"grub-install /dev/sda",
		"vgextend appliance /dev/sda4",
		"lvcreate -l 100%FREE -n data appliance",
		"mkfs.ext4 /dev/appliance/data",
		"mount /dev/appliance/data " + mountPoint,
		"chown -R appliance:appliance " + filepath.Join(mountPoint, "attachments") + " " + filepath.Join(mountPoint, "backups"),
	}, cmd.Lines())

	// Terminal state reached, all states journaled in the fixed order.
	assert.Equal(model.StorageStateDirectoriesProvisioned, p.State())
	assert.Equal([]model.StorageState{
		model.StorageStatePartitionToolInstalled,
		model.StorageStatePartitionTableConverted,
		model.StorageStateKernelReloaded,
		model.StorageStateBootloaderReinstalled,
		model.StorageStateVolumeGroupExtended,
		model.StorageStateLogicalVolumeCreated,
		model.StorageStateFilesystemCreated,
		model.StorageStateMounted,
		model.StorageStatePersistedInFstab,
		model.StorageStateDirectoriesProvisioned,
	}, jrnl.doneStates())

	// The fstab registration is append only.
	data, err := os.ReadFile(fstabPath)
	require.NoError(err)
	assert.Equal(existingFstab+"/dev/appliance/data "+mountPoint+" ext4 defaults 0 2\n", string(data))

	// The two fixed-purpose directories exist.
	assert.DirExists(filepath.Join(mountPoint, "attachments"))
	assert.DirExists(filepath.Join(mountPoint, "backups"))
}

func TestProvisionerFatalHaltsSequence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tmpDir := t.TempDir()
	cmd := fake.NewRunner()
	cmd.Errs["grub-install /dev/sda"] = errors.New("no such device")
	jrnl := &fakeJournal{}
	p := newTestProvisioner(t, cmd, jrnl, filepath.Join(tmpDir, "fstab"), filepath.Join(tmpDir, "mnt"))

	err := p.Provision(context.Background())

	require.Error(err)
	var fatalErr *step.FatalError
	require.True(errors.As(err, &fatalErr))
	assert.Equal("Reinstalling bootloader", fatalErr.Step)

	// Nothing after the failing step ran.
	lines := cmd.Lines()
	assert.Equal("grub-install /dev/sda", lines[len(lines)-1])

	// The journal holds the last completed state for recovery.
	assert.Equal(model.StorageStateKernelReloaded, p.State())
	assert.Equal([]model.StorageState{
		model.StorageStatePartitionToolInstalled,
		model.StorageStatePartitionTableConverted,
		model.StorageStateKernelReloaded,
	}, jrnl.doneStates())

	// The failed step is journaled too.
	last := jrnl.entries[len(jrnl.entries)-1]
	assert.Equal(model.TaskStatusFailed, last.Status)
	assert.Equal(model.StorageStateBootloaderReinstalled, last.State)
	assert.NotEmpty(last.Error)
}

func TestProvisionerToolInstallFailureMentionsConnectivity(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tmpDir := t.TempDir()
	cmd := fake.NewRunner()
	cmd.Errs["apt-get install -y gdisk"] = errors.New("could not resolve host")
	p := newTestProvisioner(t, cmd, &fakeJournal{}, filepath.Join(tmpDir, "fstab"), filepath.Join(tmpDir, "mnt"))

	err := p.Provision(context.Background())

	require.Error(err)
	assert.Contains(err.Error(), "network connectivity")
	assert.Equal(model.StorageStateUnconfigured, p.State())
	// Only the tool install was attempted.
	assert.Len(cmd.Lines(), 1)
}
