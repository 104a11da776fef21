package consensus

import (
	"fmt"
	"time"
)

// ============================================
// 配置管理
// ============================================

type Config struct {
	Protocol string

	EpochSize        uint64 // 检查点间隔（区块数）
	ProposalZeroBits uint   // 出块抽签阈值：P ≈ 2^-bits
	VoteZeroBits     uint   // 委员会抽签阈值

	ProposalPhase time.Duration
	VotePhase     time.Duration

	MinBlockSize uint64
	MaxBlockSize uint64

	GenesisSeed string
}

func DefaultConfig() *Config {
	return &Config{
		Protocol:         ProtocolGasper,
		EpochSize:        4,
		ProposalZeroBits: 2,
		VoteZeroBits:     1,
		ProposalPhase:    2 * time.Second,
		VotePhase:        2 * time.Second,
		MinBlockSize:     512 * 1024,
		MaxBlockSize:     1024 * 1024,
		GenesisSeed:      "chainsim-genesis",
	}
}

func (c *Config) Validate() error {
	p, err := PolicyFor(c.Protocol)
	if err != nil {
		return err
	}
	if p.Finality && c.EpochSize == 0 {
		return fmt.Errorf("protocol %s requires epoch size > 0", c.Protocol)
	}
	if c.ProposalZeroBits > 256 || c.VoteZeroBits > 256 {
		return fmt.Errorf("sortition zero bits must be <= 256")
	}
	if c.ProposalPhase <= 0 || (p.VotePhase && c.VotePhase <= 0) {
		return fmt.Errorf("phase durations must be positive")
	}
	if c.MinBlockSize > c.MaxBlockSize {
		return fmt.Errorf("min block size %d > max block size %d", c.MinBlockSize, c.MaxBlockSize)
	}
	return nil
}

// RoundDuration 一轮（提案 + 投票）的长度
func (c *Config) RoundDuration() time.Duration {
	p, err := PolicyFor(c.Protocol)
	if err != nil || !p.VotePhase {
		return c.ProposalPhase
	}
	return c.ProposalPhase + c.VotePhase
}
