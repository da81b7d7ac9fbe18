// Package storage extends the appliance local storage. The sequence is a
// linear, irreversible state machine: every transition's precondition is the
// previous transition's postcondition (the kernel must re-read the partition
// table before LVM tooling can see the new partition, the filesystem needs
// the logical volume, and so on), so transitions only ever run in the fixed
// declared order. Existing partitions are never touched: the disk is extended
// by appending partitions and growing the volume group.
//
// There is no rollback. A failure mid-sequence leaves the disk partially
// modified; every reached state is journaled so an operator can resume or
// recover manually.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/model"
	"github.com/slok/firstboot/internal/oscmd"
	"github.com/slok/firstboot/internal/step"
)

const (
	// AttachmentsDir is the application attachment storage directory under
	// the data mount.
	AttachmentsDir = "attachments"
	// BackupsDir is the application backup directory under the data mount.
	BackupsDir = "backups"
)

// ProvisionerConfig is the configuration for the storage provisioner.
type ProvisionerConfig struct {
	Steps     *step.Runner
	Cmd       oscmd.Runner
	Journal   journal.Repository
	Logger    log.Logger
	RunID     string
	Layout    config.Storage
	FstabPath string
}

func (c *ProvisionerConfig) defaults() error {
	if c.Steps == nil {
		return fmt.Errorf("step runner is required")
	}
	if c.Cmd == nil {
		return fmt.Errorf("command runner is required")
	}
	if c.Journal == nil {
		return fmt.Errorf("journal is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Provisioner"})
	if c.FstabPath == "" {
		c.FstabPath = "/etc/fstab"
	}
	return nil
}

// Provisioner runs the storage extension sequence.
type Provisioner struct {
	steps     *step.Runner
	cmd       oscmd.Runner
	journal   journal.Repository
	logger    log.Logger
	runID     string
	layout    config.Storage
	fstabPath string

	state model.StorageState
}

// NewProvisioner creates a new storage provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provisioner{
		steps:     cfg.Steps,
		cmd:       cfg.Cmd,
		journal:   cfg.Journal,
		logger:    cfg.Logger,
		runID:     cfg.RunID,
		layout:    cfg.Layout,
		fstabPath: cfg.FstabPath,
		state:     model.StorageStateUnconfigured,
	}, nil
}

// State returns the last reached storage state.
func (p *Provisioner) State() model.StorageState { return p.state }

type transition struct {
	state model.StorageState
	name  string
	op    step.Operation
}

// Provision runs the whole sequence. Every step is fatal: there is no safe
// continuation once the disk is partially modified.
func (p *Provisioner) Provision(ctx context.Context) error {
	for _, t := range p.transitions() {
		err := p.steps.Run(ctx, t.name, step.PolicyFatal, t.op)
		if err != nil {
			p.record(ctx, t, model.TaskStatusFailed, err)
			return err
		}

		p.state = t.state
		p.record(ctx, t, model.TaskStatusDone, nil)
	}

	p.logger.Infof("Storage provisioning finished at state %q", p.state)
	return nil
}

func (p *Provisioner) record(ctx context.Context, t transition, status model.TaskStatus, stepErr error) {
	errMsg := ""
	if stepErr != nil {
		errMsg = stepErr.Error()
	}
	err := p.journal.RecordEntry(ctx, journal.Entry{
		RunID:  p.runID,
		Step:   t.name,
		State:  t.state,
		Status: status,
		Error:  errMsg,
	})
	if err != nil {
		// The journal is a recovery aid, its failure must not mask the
		// provisioning result.
		p.logger.Warningf("Could not journal storage step %q: %v", t.name, err)
	}
}

func (p *Provisioner) transitions() []transition {
	l := p.layout
	bootPart := fmt.Sprintf("%d", l.BootPartition)
	dataPart := fmt.Sprintf("%d", l.DataPartition)
	dataPartDev := partitionDevice(l.Disk, l.DataPartition)
	lvDev := fmt.Sprintf("/dev/%s/%s", l.VolumeGroup, l.LogicalVolume)
	attachmentsDir := filepath.Join(l.MountPoint, AttachmentsDir)
	backupsDir := filepath.Join(l.MountPoint, BackupsDir)

	return []transition{
		{
			state: model.StorageStatePartitionToolInstalled,
			name:  "Installing partitioning tool",
			op: func(ctx context.Context) error {
				if err := p.cmd.Run(ctx, "apt-get", "install", "-y", "gdisk"); err != nil {
					return fmt.Errorf("could not install gdisk, check the appliance network connectivity: %w", err)
				}
				return nil
			},
		},
		{
			state: model.StorageStatePartitionTableConverted,
			name:  "Converting partition table to GPT",
			op: func(ctx context.Context) error {
				// Two related conversions in one operation: relabel the disk
				// as GPT adding a small BIOS boot partition, then append the
				// large data partition on the remaining space.
				err := p.cmd.Run(ctx, "sgdisk", "--mbrtogpt",
					fmt.Sprintf("--new=%s::+1M", bootPart),
					fmt.Sprintf("--typecode=%s:ef02", bootPart),
					fmt.Sprintf("--change-name=%s:BIOS boot", bootPart),
					l.Disk)
				if err != nil {
					return err
				}
				return p.cmd.Run(ctx, "sgdisk",
					fmt.Sprintf("--largest-new=%s", dataPart),
					fmt.Sprintf("--change-name=%s:%s data", dataPart, l.VolumeGroup),
					l.Disk)
			},
		},
		{
			state: model.StorageStateKernelReloaded,
			name:  "Reloading kernel partition table",
			op: func(ctx context.Context) error {
				return p.cmd.Run(ctx, "partprobe", l.Disk)
			},
		},
		{
			state: model.StorageStateBootloaderReinstalled,
			name:  "Reinstalling bootloader",
			op: func(ctx context.Context) error {
				return p.cmd.Run(ctx, "grub-install", l.Disk)
			},
		},
		{
			state: model.StorageStateVolumeGroupExtended,
			name:  "Extending volume group",
			op: func(ctx context.Context) error {
				return p.cmd.Run(ctx, "vgextend", l.VolumeGroup, dataPartDev)
			},
		},
		{
			state: model.StorageStateLogicalVolumeCreated,
			name:  "Creating logical volume",
			op: func(ctx context.Context) error {
				return p.cmd.Run(ctx, "lvcreate", "-l", "100%FREE", "-n", l.LogicalVolume, l.VolumeGroup)
			},
		},
		{
			state: model.StorageStateFilesystemCreated,
			name:  "Creating filesystem",
			op: func(ctx context.Context) error {
				return p.cmd.Run(ctx, "mkfs."+l.Filesystem, lvDev)
			},
		},
		{
			state: model.StorageStateMounted,
			name:  "Mounting data volume",
			op: func(ctx context.Context) error {
				if err := os.MkdirAll(l.MountPoint, 0755); err != nil {
					return fmt.Errorf("could not create mount point: %w", err)
				}
				return p.cmd.Run(ctx, "mount", lvDev, l.MountPoint)
			},
		},
		{
			state: model.StorageStatePersistedInFstab,
			name:  "Registering persistent mount",
			op: func(ctx context.Context) error {
				return p.appendFstab(lvDev)
			},
		},
		{
			state: model.StorageStateDirectoriesProvisioned,
			name:  "Provisioning data directories",
			op: func(ctx context.Context) error {
				for _, dir := range []string{attachmentsDir, backupsDir} {
					if err := os.MkdirAll(dir, 0750); err != nil {
						return fmt.Errorf("could not create %s: %w", dir, err)
					}
				}
				owner := l.ServiceUser + ":" + l.ServiceUser
				return p.cmd.Run(ctx, "chown", "-R", owner, attachmentsDir, backupsDir)
			},
		},
	}
}

// appendFstab registers the mount for the next boot. Append only: existing
// fstab content is never rewritten.
func (p *Provisioner) appendFstab(lvDev string) error {
	f, err := os.OpenFile(p.fstabPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", p.fstabPath, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s defaults 0 2\n", lvDev, p.layout.MountPoint, p.layout.Filesystem)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("could not append to %s: %w", p.fstabPath, err)
	}

	return nil
}

// partitionDevice returns the device node of a partition number on a disk,
// handling disks whose name ends in a digit (nvme0n1 -> nvme0n1p4).
func partitionDevice(disk string, partition int) string {
	runes := []rune(disk)
	if len(runes) > 0 && unicode.IsDigit(runes[len(runes)-1]) {
		return fmt.Sprintf("%sp%d", disk, partition)
	}
	return fmt.Sprintf("%s%d", disk, partition)
}
