package sim

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"chainsim/types"
)

// Codec 消息的 CBOR 编解码；解码时忽略未知字段
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCodec() (*Codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorNone}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) Encode(m *types.Message) ([]byte, error) {
	return c.enc.Marshal(m)
}

// Decode 载荷中的类型标签必须与传输层给出的 kind 一致
func (c *Codec) Decode(kind types.MessageType, payload []byte) (*types.Message, error) {
	var m types.Message
	if err := c.dec.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if m.Type != kind {
		return nil, fmt.Errorf("decode %s: payload tagged %q", kind, m.Type)
	}
	return &m, nil
}
