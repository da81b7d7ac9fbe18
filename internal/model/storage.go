package model

// StorageState represents a completed stage of the storage provisioning
// sequence. The sequence is linear and irreversible: each state's
// preconditions are the previous state's postconditions, so states are only
// reachable in declaration order.
type StorageState string

const (
	StorageStateUnconfigured            StorageState = "unconfigured"
	StorageStatePartitionToolInstalled  StorageState = "partition_tool_installed"
	StorageStatePartitionTableConverted StorageState = "partition_table_converted"
	StorageStateKernelReloaded          StorageState = "kernel_reloaded"
	StorageStateBootloaderReinstalled   StorageState = "bootloader_reinstalled"
	StorageStateVolumeGroupExtended     StorageState = "volume_group_extended"
	StorageStateLogicalVolumeCreated    StorageState = "logical_volume_created"
	StorageStateFilesystemCreated       StorageState = "filesystem_created"
	StorageStateMounted                 StorageState = "mounted"
	StorageStatePersistedInFstab        StorageState = "persisted_in_fstab"
	StorageStateDirectoriesProvisioned  StorageState = "directories_provisioned"
)
