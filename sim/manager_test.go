package sim

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/consensus"
	"chainsim/store"
)

func smallNetwork(nodes, rounds int) NetworkConfig {
	cfg := DefaultNetworkConfig()
	cfg.Nodes = nodes
	cfg.Rounds = rounds
	cfg.Seed = 7
	cfg.Link = LinkConfig{Latency: 50 * time.Millisecond, Jitter: 20 * time.Millisecond, Seed: 7}
	return cfg
}

func consensusConfig(protocol string) *consensus.Config {
	c := consensus.DefaultConfig()
	c.Protocol = protocol
	c.EpochSize = 2
	c.ProposalZeroBits = 1
	c.VoteZeroBits = 0
	return c
}

func TestGasperNetworkFinalizesAndAgrees(t *testing.T) {
	archive, err := store.Open("")
	require.NoError(t, err)
	defer archive.Close()

	nm, err := NewNetworkManager(smallNetwork(8, 24), consensusConfig(consensus.ProtocolGasper), archive)
	require.NoError(t, err)
	require.NoError(t, nm.Run(context.Background()))

	snap := nm.Snapshot()
	require.Len(t, snap, 8)
	for _, s := range snap {
		assert.GreaterOrEqual(t, s.FinalizedHeight, uint64(2), "node %s", s.Node)
		assert.Zero(t, s.InvalidSortition)
	}
	require.NoError(t, nm.CheckAgreement())

	first := nm.Nodes()[0].Participant()
	archived, err := archive.FinalizedChain(first.ID())
	require.NoError(t, err)
	assert.Len(t, archived, int(first.Gadget().LastFinalized().Height))
	for _, b := range archived {
		local, ok := first.Chain().GetBlock(b.Key())
		require.True(t, ok)
		assert.Equal(t, local.Hash(), b.Hash())
	}

	var out bytes.Buffer
	nm.PrintStatus(&out)
	assert.Contains(t, out.String(), "agreement: ok")
}

func TestCasperNetworkFinalizes(t *testing.T) {
	nm, err := NewNetworkManager(smallNetwork(6, 24), consensusConfig(consensus.ProtocolCasper), nil)
	require.NoError(t, err)
	require.NoError(t, nm.Run(context.Background()))
	assert.GreaterOrEqual(t, nm.Summary().MinFinalizedHeight, uint64(2))
	require.NoError(t, nm.CheckAgreement())
}

func TestAlgorandNetworkHasNoForks(t *testing.T) {
	nm, err := NewNetworkManager(smallNetwork(6, 12), consensusConfig(consensus.ProtocolAlgorand), nil)
	require.NoError(t, err)
	require.NoError(t, nm.Run(context.Background()))

	s := nm.Summary()
	assert.Equal(t, s.MinHeight, s.MaxHeight)
	assert.Greater(t, s.MinHeight, uint64(0))
	assert.Zero(t, s.StaleBlocks)
}

func TestPoWNetworkGrows(t *testing.T) {
	cfg := consensusConfig(consensus.ProtocolPoW)
	cfg.ProposalZeroBits = 3
	nm, err := NewNetworkManager(smallNetwork(6, 20), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, nm.Run(context.Background()))
	for _, s := range nm.Snapshot() {
		assert.Greater(t, s.Height, uint64(0))
		assert.Zero(t, s.Checkpoints)
	}
	assert.NoError(t, nm.CheckAgreement())
}

func TestRunHonoursCancellation(t *testing.T) {
	nm, err := NewNetworkManager(smallNetwork(3, 100), consensusConfig(consensus.ProtocolGasper), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, nm.Run(ctx), context.Canceled)
	for _, s := range nm.Snapshot() {
		assert.Zero(t, s.Round)
	}
}

func TestNewNetworkManagerValidates(t *testing.T) {
	_, err := NewNetworkManager(smallNetwork(0, 1), consensus.DefaultConfig(), nil)
	assert.Error(t, err)
	bad := consensus.DefaultConfig()
	bad.Protocol = "raft"
	_, err = NewNetworkManager(smallNetwork(3, 1), bad, nil)
	assert.Error(t, err)
}
