package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/types"
)

func TestArchiveRoundTrip(t *testing.T) {
	a, err := Open("")
	require.NoError(t, err)
	defer a.Close()

	b1 := &types.Block{ID: 7, Height: 1, ProposerID: 3, ParentProposerID: types.GenesisProposer, VRFOutput: []byte{1}}
	b2 := &types.Block{ID: 8, Height: 2, ProposerID: 4, ParentProposerID: 3, VRFOutput: []byte{2}}
	require.NoError(t, a.Put(1, 4*time.Second, b2, b1))
	require.NoError(t, a.Put(2, 5*time.Second, b1))

	chain, err := a.FinalizedChain(1)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[0].Equal(b1))
	assert.True(t, chain[1].Equal(b2))
	assert.Equal(t, b2.Hash(), chain[1].Hash())
	assert.Equal(t, types.Finalized, chain[0].FinalityState)

	rec, err := a.Get(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, rec.FinalizedAt)
	assert.Equal(t, types.NodeID(2), rec.Node)

	_, err = a.Get(2, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := a.FinalizedChain(3)
	require.NoError(t, err)
	assert.Empty(t, other)
}
