package types

import "errors"

// 消息类型
type MessageType string

const (
	MsgProposal MessageType = "proposal"
	MsgVote     MessageType = "vote"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message 协议层消息记录，与传输无关。未知字段由接收方忽略。
type Message struct {
	Type  MessageType  `cbor:"message"`
	From  NodeID       `cbor:"from"`
	Block *Block       `cbor:"block,omitempty"`
	Vote  *Attestation `cbor:"vote,omitempty"`
}

// Validate 检查必填字段
func (m *Message) Validate() error {
	switch m.Type {
	case MsgProposal:
		b := m.Block
		if b == nil || b.Height == 0 {
			return ErrMalformedMessage
		}
		if len(b.VRFSeed) == 0 || len(b.ProposerPublicKey) == 0 || len(b.VRFProof) == 0 || len(b.VRFOutput) == 0 {
			return ErrMalformedMessage
		}
	case MsgVote:
		v := m.Vote
		if v == nil {
			return ErrMalformedMessage
		}
		if len(v.VRFSeed) == 0 || len(v.VoterPublicKey) == 0 || len(v.VRFProof) == 0 || len(v.VRFOutput) == 0 {
			return ErrMalformedMessage
		}
		if v.FFG != nil && (v.FFG.VoterID != v.VoterID || v.FFG.Target.Height <= v.FFG.Source.Height) {
			return ErrMalformedMessage
		}
	default:
		return ErrMalformedMessage
	}
	return nil
}
