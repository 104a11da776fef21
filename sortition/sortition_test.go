package sortition

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/keys"
)

func newKey(t *testing.T, seed int64) *keys.KeyPair {
	t.Helper()
	kp, err := keys.NewKeyPair(rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return kp
}

func TestEvaluateDeterministic(t *testing.T) {
	kp := newKey(t, 1)
	seed := Seed([]byte("genesis"), 5, RoleProposer)

	p1, o1, err := Evaluate(kp.VRFKey, seed)
	require.NoError(t, err)
	p2, o2, err := Evaluate(kp.VRFKey, seed)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, o1, o2)
	assert.Len(t, o1, OutputSize)

	out, err := Verify(kp.VRFPub, p1, seed)
	require.NoError(t, err)
	assert.Equal(t, o1, out)
}

func TestSeedDependsOnRoundAndRole(t *testing.T) {
	g := []byte("genesis")
	assert.NotEqual(t, Seed(g, 1, RoleProposer), Seed(g, 2, RoleProposer))
	assert.NotEqual(t, Seed(g, 1, RoleProposer), Seed(g, 1, RoleCommittee))
	assert.Equal(t, Seed(g, 1, RoleCommittee), Seed(g, 1, RoleCommittee))
}

func TestVerifyRejectsWrongKeyOrSeed(t *testing.T) {
	a, b := newKey(t, 1), newKey(t, 2)
	seed := Seed([]byte("g"), 1, RoleProposer)
	proof, _, err := Evaluate(a.VRFKey, seed)
	require.NoError(t, err)

	_, err = Verify(b.VRFPub, proof, seed)
	assert.ErrorIs(t, err, ErrInvalidProof)

	_, err = Verify(a.VRFPub, proof, Seed([]byte("g"), 2, RoleProposer))
	assert.ErrorIs(t, err, ErrInvalidProof)

	_, err = Verify(nil, proof, seed)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, new(uint256.Int).SetAllOne(), Threshold(0))

	th := Threshold(8)
	low := make([]byte, OutputSize)
	low[0] = 0x00
	low[1] = 0xff
	assert.True(t, Selected(low, th))

	high := make([]byte, OutputSize)
	high[0] = 0x01
	assert.False(t, Selected(high, th))

	// 边界：恰好等于阈值
	eq := th.Bytes32()
	assert.True(t, Selected(eq[:], th))

	assert.False(t, Selected([]byte{0}, th))
	assert.True(t, Threshold(300).IsZero())
}

func TestCheck(t *testing.T) {
	kp := newKey(t, 3)
	seed := Seed([]byte("g"), 9, RoleCommittee)
	proof, out, err := Evaluate(kp.VRFKey, seed)
	require.NoError(t, err)

	require.NoError(t, Check(kp.VRFPub, proof, seed, out, Threshold(0)))

	tampered := append([]byte(nil), out...)
	tampered[0] ^= 0xff
	assert.ErrorIs(t, Check(kp.VRFPub, proof, seed, tampered, Threshold(0)), ErrOutputMismatch)

	// 全零阈值只接受全零输出
	assert.ErrorIs(t, Check(kp.VRFPub, proof, seed, out, Threshold(256)), ErrAboveThreshold)
}

func TestVerifierCaches(t *testing.T) {
	v, err := NewVerifier(16)
	require.NoError(t, err)
	kp := newKey(t, 4)
	seed := Seed([]byte("g"), 1, RoleProposer)
	proof, out, err := Evaluate(kp.VRFKey, seed)
	require.NoError(t, err)

	got, err := v.Verify(kp.VRFPub, proof, seed)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, 1, v.Len())

	got, err = v.Verify(kp.VRFPub, proof, seed)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, 1, v.Len())

	other := newKey(t, 5)
	_, err = v.Verify(other.VRFPub, proof, seed)
	assert.ErrorIs(t, err, ErrInvalidProof)
	assert.Equal(t, 1, v.Len())

	assert.NoError(t, v.Check(kp.VRFPub, proof, seed, out, Threshold(0)))
}
