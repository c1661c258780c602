package status

import (
	"context"
	"testing"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVRRPStates(t *testing.T) {
	journal := `
Jan 10 12:00:01 node1 Keepalived_vrrp[123]: (VI_1) Entering BACKUP STATE
Jan 10 12:00:05 node1 Keepalived_vrrp[123]: VI_1 Entering MASTER STATE
Jan 10 12:00:05 node1 Keepalived_vrrp[123]: VI_2 Entering BACKUP STATE
`
	states := ParseVRRPStates(journal)
	assert.Equal(t, map[string]string{
		"VI_1": "MASTER",
		"VI_2": "BACKUP",
	}, states)
}

func TestParseVRRPStatesLatestWins(t *testing.T) {
	journal := `
VI_1 Entering MASTER STATE
VI_1 Entering BACKUP STATE
`
	states := ParseVRRPStates(journal)
	assert.Equal(t, "BACKUP", states["VI_1"])
}

func TestParseVRRPStatesCaseInsensitive(t *testing.T) {
	states := ParseVRRPStates("VI_3 entering MASTER STATE")
	assert.Equal(t, "MASTER", states["VI_3"])

	states = ParseVRRPStates("VI_4 ENTERING MASTER STATE")
	assert.Equal(t, "MASTER", states["VI_4"])

	// The reported state normalizes to upper case whatever the daemon
	// logged.
	states = ParseVRRPStates("VI_5 Entering Backup STATE")
	assert.Equal(t, "BACKUP", states["VI_5"])
}

func TestParseVRRPStatesEmpty(t *testing.T) {
	assert.Empty(t, ParseVRRPStates(""))
	assert.Empty(t, ParseVRRPStates("unrelated journal noise"))
}

// fakeRunner serves the keepalived journal and nothing else.
type fakeRunner struct {
	journal string
}

func (f *fakeRunner) Run(_ context.Context, name string, _ ...string) ([]byte, error) {
	if name == "journalctl" {
		return []byte(f.journal), nil
	}
	return nil, nil
}

// fakeServices reports a fixed set of active units.
type fakeServices struct {
	active map[string]bool
}

func (f *fakeServices) Enable(_ context.Context, _ string) error   { return nil }
func (f *fakeServices) Disable(_ context.Context, _ string) error  { return nil }
func (f *fakeServices) Start(_ context.Context, _ string) error    { return nil }
func (f *fakeServices) Stop(_ context.Context, _ string) error     { return nil }
func (f *fakeServices) Restart(_ context.Context, _ string) error  { return nil }
func (f *fakeServices) Reload(_ context.Context, _ string) error   { return nil }
func (f *fakeServices) IsActive(_ context.Context, name string) bool {
	return f.active[name]
}
func (f *fakeServices) IsEnabled(_ context.Context, _ string) bool { return false }
func (f *fakeServices) Status(_ context.Context, name string) string {
	if f.active[name] {
		return "active"
	}
	return "inactive"
}
func (f *fakeServices) PID(_ context.Context, _ string) int { return 0 }

func TestCollectKeepalivedMode(t *testing.T) {
	cfg := &config.Config{
		HAMode:      config.HAModeKeepalived,
		InstallPath: "/etc/ober",
		VIPs:        []config.VIPConfig{{Address: "192.168.1.100"}},
		Backends:    []config.BackendConfig{{Name: "web"}},
		StatsPort:   8404,
	}

	services := &fakeServices{active: map[string]bool{config.ServiceHA: true}}
	runner := &fakeRunner{journal: "VI_1 Entering MASTER STATE"}
	exists := func(path string) bool { return path == cfg.KeepalivedConfigPath() }

	c := New(cfg, services, runner, exists, zerolog.Nop())
	snap := c.Collect(context.Background())
	require.NotNil(t, snap)

	require.Contains(t, snap.Services, config.ServiceHTTP)
	require.Contains(t, snap.Services, config.ServiceHA)
	assert.False(t, snap.Services[config.ServiceHTTP].Active)
	assert.True(t, snap.Services[config.ServiceHA].Active)

	assert.True(t, snap.Keepalived.ConfigExists)
	assert.Equal(t, "MASTER", snap.Keepalived.VRRPState["VI_1"])

	assert.Equal(t, []string{"192.168.1.100"}, snap.Config.VIPs)
	assert.Equal(t, []string{"web"}, snap.Config.Backends)
	assert.Equal(t, cfg.ConfigPath(), snap.Config.Path)

	// Proxy not active, stats must not have been fetched.
	assert.Nil(t, snap.HAProxy.Stats)
}

func TestCollectBGPMode(t *testing.T) {
	cfg := &config.Config{
		HAMode:      config.HAModeBGP,
		InstallPath: "/etc/ober",
		StatsPort:   8404,
	}

	services := &fakeServices{active: map[string]bool{}}
	exists := func(path string) bool { return path == cfg.BGPConfigPath() }

	c := New(cfg, services, &fakeRunner{}, exists, zerolog.Nop())
	snap := c.Collect(context.Background())

	require.Contains(t, snap.Services, config.ServiceBGP)
	assert.True(t, snap.BGP.ConfigExists)
	assert.False(t, snap.Keepalived.ConfigExists)
	assert.Empty(t, snap.Keepalived.VRRPState)
}

func TestCollectSkipsVRRPWhenInactive(t *testing.T) {
	cfg := &config.Config{
		HAMode:      config.HAModeKeepalived,
		InstallPath: "/etc/ober",
		StatsPort:   8404,
	}

	services := &fakeServices{active: map[string]bool{}}
	runner := &fakeRunner{journal: "VI_1 Entering MASTER STATE"}

	c := New(cfg, services, runner, func(string) bool { return false }, zerolog.Nop())
	snap := c.Collect(context.Background())

	assert.Empty(t, snap.Keepalived.VRRPState, "journal must not be consulted while keepalived is down")
}
