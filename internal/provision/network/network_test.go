package network_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/firstboot/internal/config"
	"github.com/slok/firstboot/internal/provision/network"
	"github.com/slok/firstboot/internal/step"
)

type fakeLinks struct {
	ops  []string
	errs map[string]error
}

func (f *fakeLinks) FlushAddresses(name string) error { return f.record("flush " + name) }
func (f *fakeLinks) SetDown(name string) error        { return f.record("down " + name) }
func (f *fakeLinks) SetUp(name string) error          { return f.record("up " + name) }

func (f *fakeLinks) record(op string) error {
	f.ops = append(f.ops, op)
	return f.errs[op]
}

func newTestConfigurator(t *testing.T, links *fakeLinks) (*network.Configurator, string) {
	t.Helper()

	steps, err := step.NewRunner(step.RunnerConfig{})
	require.NoError(t, err)

	interfacesPath := filepath.Join(t.TempDir(), "interfaces")
	c, err := network.NewConfigurator(network.ConfiguratorConfig{
		Steps:          steps,
		Links:          links,
		InterfacesPath: interfacesPath,
	})
	require.NoError(t, err)

	return c, interfacesPath
}

func TestConfiguratorApplyStatic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	links := &fakeLinks{}
	c, interfacesPath := newTestConfigurator(t, links)

	err := c.Apply(context.Background(), &config.StaticNetwork{
		Interface: "eth0",
		Address:   "10.0.0.5",
		Netmask:   "255.255.255.0",
		Gateway:   "10.0.0.1",
		DNS:       "10.0.0.2",
	})
	require.NoError(err)

	// The rendered config must contain exactly the four supplied values.
	data, err := os.ReadFile(interfacesPath)
	require.NoError(err)
	content := string(data)
	assert.Contains(content, "iface eth0 inet static")
	assert.Contains(content, "address 10.0.0.5\n")
	assert.Contains(content, "netmask 255.255.255.0\n")
	assert.Contains(content, "gateway 10.0.0.1\n")
	assert.Contains(content, "dns-nameservers 10.0.0.2\n")

	// And the interface must have been bounced.
	assert.Equal([]string{"flush eth0", "down eth0", "up eth0"}, links.ops)
}

func TestConfiguratorApplyDynamic(t *testing.T) {
	assert := assert.New(t)

	links := &fakeLinks{}
	c, interfacesPath := newTestConfigurator(t, links)

	err := c.Apply(context.Background(), nil)

	assert.NoError(err)
	assert.Empty(links.ops)
	assert.NoFileExists(interfacesPath)
}

func TestConfiguratorApplyLinkFailureIsFatal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	links := &fakeLinks{errs: map[string]error{"down eth0": errors.New("boom")}}
	c, _ := newTestConfigurator(t, links)

	err := c.Apply(context.Background(), &config.StaticNetwork{
		Interface: "eth0",
		Address:   "10.0.0.5",
		Netmask:   "255.255.255.0",
		Gateway:   "10.0.0.1",
		DNS:       "10.0.0.2",
	})

	require.Error(err)
	var fatalErr *step.FatalError
	assert.True(errors.As(err, &fatalErr))
	// The bounce stops at the failing operation.
	assert.Equal([]string{"flush eth0", "down eth0"}, links.ops)
}
