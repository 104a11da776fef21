package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/consensus"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, consensus.Protocols(), cfg.Protocols)
	assert.Equal(t, 16, cfg.Network.Nodes)
	assert.True(t, cfg.Archive.Enabled)
	assert.Empty(t, cfg.Metrics.Addr)

	cc := cfg.ConsensusFor(consensus.ProtocolCasper)
	assert.Equal(t, consensus.ProtocolCasper, cc.Protocol)
	assert.Equal(t, consensus.DefaultConfig().EpochSize, cc.EpochSize)

	nc := cfg.NetworkFor()
	assert.Equal(t, cfg.Network.Seed, nc.Link.Seed)
	assert.True(t, nc.QuietNodes)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
protocols: [gasper, pow]
network:
  nodes: 8
  rounds: 12
link:
  latency: 20ms
  packet_loss: 0.1
consensus:
  epoch_size: 2
log:
  level: debug
`), 0o644))

	t.Setenv("CHAINSIM_NETWORK_ROUNDS", "30")
	t.Setenv("CHAINSIM_METRICS_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gasper", "pow"}, cfg.Protocols)
	assert.Equal(t, 8, cfg.Network.Nodes)
	assert.Equal(t, 30, cfg.Network.Rounds, "env overrides file")
	assert.Equal(t, 20*time.Millisecond, cfg.Link.Latency)
	assert.Equal(t, 50*time.Millisecond, cfg.Link.Jitter, "default kept")
	assert.InDelta(t, 0.1, cfg.Link.PacketLoss, 1e-9)
	assert.Equal(t, uint64(2), cfg.Consensus.EpochSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadProtocolsFromEnv(t *testing.T) {
	t.Setenv("CHAINSIM_PROTOCOLS", "casper, algorand")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"casper", "algorand"}, cfg.Protocols)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Nodes = 0
	cfg.Link.PacketLoss = 1.5
	cfg.Protocols = []string{"raft"}
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"network.nodes", "packet_loss", "raft", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
