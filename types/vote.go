package types

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Checkpoint (hash, height) 二元组
type Checkpoint struct {
	Hash   chainhash.Hash `cbor:"hash"`
	Height uint64         `cbor:"height"`
}

func CheckpointOf(b *Block) Checkpoint {
	return Checkpoint{Hash: b.Hash(), Height: b.Height}
}

// Vote Casper FFG 投票：source → target 的链接
type Vote struct {
	Source  Checkpoint `cbor:"source"`
	Target  Checkpoint `cbor:"target"`
	Epoch   uint64     `cbor:"epoch"`
	VoterID NodeID     `cbor:"voter_id"`
}

// Link 投票计数用的 (source, target) 键
type Link struct {
	Source chainhash.Hash
	Target chainhash.Hash
}

func (v *Vote) Link() Link {
	return Link{Source: v.Source.Hash, Target: v.Target.Hash}
}

// WellFormed source 与 target 都在检查点高度（创世块高度 0 也算），
// target 在 source 之上，且 Epoch 与 target 高度一致
func (v *Vote) WellFormed(epochSize uint64) bool {
	if epochSize == 0 || v.Target.Height <= v.Source.Height {
		return false
	}
	if !IsCheckpointHeight(v.Target.Height, epochSize) || !IsCheckpointHeight(v.Source.Height, epochSize) {
		return false
	}
	return v.Epoch == v.Target.Height/epochSize
}

func (v *Vote) String() string {
	return fmt.Sprintf("Vote{epoch=%d voter=%s %d->%d}", v.Epoch, v.VoterID, v.Source.Height, v.Target.Height)
}

// Attestation 委员会投票。Gasper 下同时携带 FFG 链接与 fork-choice 头；
// Algorand 下 FFG 为空，只表态本轮区块。
type Attestation struct {
	Slot           uint64         `cbor:"slot"`
	VoterID        NodeID         `cbor:"voter_id"`
	AttestedHash   chainhash.Hash `cbor:"attested_hash"`
	AttestedHeight uint64         `cbor:"attested_height"`
	FFG            *Vote          `cbor:"ffg,omitempty"`

	VRFSeed        []byte `cbor:"vrf_seed"`
	VoterPublicKey []byte `cbor:"voter_public_key"`
	VRFProof       []byte `cbor:"vrf_proof"`
	VRFOutput      []byte `cbor:"vrf_output"`
}

func (a *Attestation) String() string {
	if a.FFG != nil {
		return fmt.Sprintf("Attestation{slot=%d voter=%s head=%d %s}", a.Slot, a.VoterID, a.AttestedHeight, a.FFG)
	}
	return fmt.Sprintf("Attestation{slot=%d voter=%s head=%d}", a.Slot, a.VoterID, a.AttestedHeight)
}
