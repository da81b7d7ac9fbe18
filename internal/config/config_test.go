package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/config"
)

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		expCfg func(c *config.Config)
		expErr bool
	}{
		"An empty file should return the defaults.": {
			file:   "",
			expCfg: func(c *config.Config) {},
		},

		"Static network values should be loaded.": {
			file: `
network:
  address: 10.0.0.5
  netmask: 255.255.255.0
  gateway: 10.0.0.1
  dns: 10.0.0.2
`,
			expCfg: func(c *config.Config) {
				c.Network = &config.StaticNetwork{
					Interface: "eth0",
					Address:   "10.0.0.5",
					Netmask:   "255.255.255.0",
					Gateway:   "10.0.0.1",
					DNS:       "10.0.0.2",
				}
			},
		},

		"Partial storage settings should keep the remaining defaults.": {
			file: `
storage:
  disk: /dev/vda
  boot_partition: 3
  data_partition: 4
  volume_group: appliance
  logical_volume: data
  filesystem: ext4
  mount_point: /srv/data
  service_user: appliance
packages:
  install: [app-core, app-deps]
  service_unit: app.service
`,
			expCfg: func(c *config.Config) {
				c.Storage.Disk = "/dev/vda"
				c.Storage.MountPoint = "/srv/data"
				c.Packages.Install = []string{"app-core", "app-deps"}
				c.Packages.ServiceUnit = "app.service"
			},
		},

		"Incomplete static network values should fail.": {
			file: `
network:
  address: 10.0.0.5
  gateway: 10.0.0.1
`,
			expErr: true,
		},

		"Invalid YAML should fail.": {
			file:   "::not yaml::",
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			path := ""
			if tc.file != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(os.WriteFile(path, []byte(tc.file), 0644))
			}

			cfg, err := config.Load(path)

			if tc.expErr {
				assert.Error(err)
				return
			}

			require.NoError(err)
			expCfg := config.Default()
			tc.expCfg(expCfg)
			assert.Equal(expCfg, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	require.NoError(err)
	assert.Equal(config.Default(), cfg)
	assert.Nil(cfg.Network)
}
