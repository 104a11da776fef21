package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ============================================
// 区块定义
// ============================================

// FinalityState 检查点的最终性状态，只允许单调提升
type FinalityState uint8

const (
	Standard FinalityState = iota
	CheckpointState
	Justified
	Finalized
)

func (s FinalityState) String() string {
	switch s {
	case Standard:
		return "STANDARD"
	case CheckpointState:
		return "CHECKPOINT"
	case Justified:
		return "JUSTIFIED"
	case Finalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("FinalityState(%d)", uint8(s))
	}
}

// BlockKey 区块身份：(height, proposer)，ID 只用于打破平局
type BlockKey struct {
	Height   uint64
	Proposer NodeID
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%d/%s", k.Height, k.Proposer)
}

type Block struct {
	ID               uint64        `cbor:"id"`
	Height           uint64        `cbor:"height"`
	ProposerID       NodeID        `cbor:"proposer_id"`
	ParentProposerID NodeID        `cbor:"parent_proposer_id"`
	SizeBytes        uint64        `cbor:"size_bytes"`
	CreatedAt        time.Duration `cbor:"created_at"`
	ProposalRound    uint64        `cbor:"proposal_round"`

	// 抽签凭证，接收方据此重新验证出块资格
	VRFSeed           []byte `cbor:"vrf_seed"`
	ProposerPublicKey []byte `cbor:"proposer_public_key"`
	VRFProof          []byte `cbor:"vrf_proof"`
	VRFOutput         []byte `cbor:"vrf_output"`

	// 本地字段，不上线
	ReceivedAt    time.Duration `cbor:"-"`
	ReceivedFrom  NodeID        `cbor:"-"`
	FinalityState FinalityState `cbor:"-"`
}

// NewGenesis 创建高度 0 的创世区块，创世即最终
func NewGenesis() *Block {
	return &Block{
		Height:           0,
		ProposerID:       GenesisProposer,
		ParentProposerID: GenesisProposer,
		FinalityState:    Finalized,
	}
}

func (b *Block) Key() BlockKey {
	return BlockKey{Height: b.Height, Proposer: b.ProposerID}
}

// ParentKey 父区块身份
func (b *Block) ParentKey() BlockKey {
	if b.Height == 0 {
		return b.Key()
	}
	return BlockKey{Height: b.Height - 1, Proposer: b.ParentProposerID}
}

// Equal 以 (height, proposer) 判等，与来源无关
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Height == other.Height && b.ProposerID == other.ProposerID
}

// IsChildOf parent-link 关系
func (b *Block) IsChildOf(parent *Block) bool {
	return b.Height == parent.Height+1 && b.ParentProposerID == parent.ProposerID
}

// IsCheckpointHeight 高度是 epochSize 的整数倍
func IsCheckpointHeight(height, epochSize uint64) bool {
	return epochSize > 0 && height%epochSize == 0
}

// Hash 区块头的双 SHA256，投票中的检查点哈希即为此值
func (b *Block) Hash() chainhash.Hash {
	var buf bytes.Buffer
	var scratch [8]byte
	for _, v := range []uint64{b.ID, b.Height, uint64(b.ProposerID), uint64(b.ParentProposerID), b.ProposalRound} {
		binary.BigEndian.PutUint64(scratch[:], v)
		buf.Write(scratch[:])
	}
	buf.Write(b.VRFOutput)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Clone 拷贝区块（字节切片共享，创建后不再修改）
func (b *Block) Clone() *Block {
	c := *b
	return &c
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{h=%d proposer=%s parent=%s round=%d %s}",
		b.Height, b.ProposerID, b.ParentProposerID, b.ProposalRound, b.FinalityState)
}
