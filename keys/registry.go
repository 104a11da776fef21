package keys

import (
	"bytes"
	"sync"

	"go.dedis.ch/kyber/v3"

	"chainsim/types"
)

type entry struct {
	raw   []byte
	point kyber.Point
}

// Registry 全网已登记的 VRF 公钥，模拟中代替链上登记
type Registry struct {
	mu   sync.RWMutex
	keys map[types.NodeID]entry
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[types.NodeID]entry)}
}

func (r *Registry) Register(id types.NodeID, kp *KeyPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = entry{raw: kp.VRFPublicKeyBytes(), point: kp.VRFPub}
}

// PublicKey 返回登记的公钥；未登记返回 nil, false
func (r *Registry) PublicKey(id types.NodeID) (kyber.Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[id]
	return e.point, ok
}

// Matches 报文中携带的公钥是否为该作者登记的公钥
func (r *Registry) Matches(id types.NodeID, raw []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[id]
	return ok && bytes.Equal(e.raw, raw)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
