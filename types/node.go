package types

import "fmt"

// NodeID 模拟网络中参与者的编号（同时作为 roaring 位图下标）
type NodeID uint32

// GenesisProposer 创世区块的提案者占位编号
const GenesisProposer NodeID = ^NodeID(0)

func (id NodeID) String() string {
	if id == GenesisProposer {
		return "genesis"
	}
	return fmt.Sprintf("node-%d", uint32(id))
}
