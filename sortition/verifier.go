package sortition

import (
	"bytes"

	"github.com/dchest/siphash"
	"github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"go.dedis.ch/kyber/v3"
)

const (
	sipK0 = 0x12345678
	sipK1 = 0x87654321
)

type cached struct {
	pk     []byte
	proof  []byte
	seed   []byte
	output []byte
}

// Verifier 缓存配对验证结果。同一提案/投票会被全网每个节点验证一次，
// 配对运算昂贵，模拟进程内共享一个 Verifier。
type Verifier struct {
	cache *lru.Cache
}

func NewVerifier(size int) (*Verifier, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Verifier{cache: c}, nil
}

func cacheKey(pk, proof, seed []byte) uint64 {
	buf := make([]byte, 0, len(pk)+len(proof)+len(seed))
	buf = append(buf, pk...)
	buf = append(buf, proof...)
	buf = append(buf, seed...)
	return siphash.Hash(sipK0, sipK1, buf)
}

// Verify 同 sortition.Verify；只缓存验证成功的结果
func (v *Verifier) Verify(pk kyber.Point, proof, seed []byte) ([]byte, error) {
	if pk == nil {
		return nil, ErrInvalidKey
	}
	raw, err := pk.MarshalBinary()
	if err != nil {
		return nil, ErrInvalidKey
	}
	key := cacheKey(raw, proof, seed)
	if val, ok := v.cache.Get(key); ok {
		c := val.(*cached)
		// 哈希碰撞时退回完整验证
		if bytes.Equal(c.pk, raw) && bytes.Equal(c.proof, proof) && bytes.Equal(c.seed, seed) {
			return c.output, nil
		}
	}
	out, err := Verify(pk, proof, seed)
	if err != nil {
		return nil, err
	}
	v.cache.Add(key, &cached{pk: raw, proof: proof, seed: seed, output: out})
	return out, nil
}

func (v *Verifier) Check(pk kyber.Point, proof, seed, claimed []byte, threshold *uint256.Int) error {
	out, err := v.Verify(pk, proof, seed)
	if err != nil {
		return err
	}
	return checkOutput(out, claimed, threshold)
}

func (v *Verifier) Len() int { return v.cache.Len() }
