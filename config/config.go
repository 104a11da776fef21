// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chainsim/consensus"
	"chainsim/logs"
	"chainsim/sim"
)

// 环境变量前缀，例如 CHAINSIM_NETWORK_NODES
const envPrefix = "CHAINSIM"

// Config 主配置结构
type Config struct {
	Protocols []string        `mapstructure:"protocols"`
	Network   NetworkConfig   `mapstructure:"network"`
	Link      LinkConfig      `mapstructure:"link"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// NetworkConfig 模拟网络规模
type NetworkConfig struct {
	Nodes         int   `mapstructure:"nodes"`          // 16
	Rounds        int   `mapstructure:"rounds"`         // 40
	Seed          int64 `mapstructure:"seed"`           // 1
	VerifierCache int   `mapstructure:"verifier_cache"` // 8192
}

// LinkConfig 链路模型
type LinkConfig struct {
	Latency    time.Duration `mapstructure:"latency"`     // 100ms
	Jitter     time.Duration `mapstructure:"jitter"`      // 50ms
	PacketLoss float64       `mapstructure:"packet_loss"` // 0
}

// ConsensusConfig 共识参数，协议由 Protocols 逐个填入
type ConsensusConfig struct {
	EpochSize        uint64        `mapstructure:"epoch_size"`         // 4
	ProposalZeroBits uint          `mapstructure:"proposal_zero_bits"` // 2
	VoteZeroBits     uint          `mapstructure:"vote_zero_bits"`     // 1
	ProposalPhase    time.Duration `mapstructure:"proposal_phase"`     // 2s
	VotePhase        time.Duration `mapstructure:"vote_phase"`         // 2s
	MinBlockSize     uint64        `mapstructure:"min_block_size"`     // 512KiB
	MaxBlockSize     uint64        `mapstructure:"max_block_size"`     // 1MiB
	GenesisSeed      string        `mapstructure:"genesis_seed"`
}

// ArchiveConfig 最终化区块归档
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"` // true
	Path    string `mapstructure:"path"`    // 空表示内存模式
}

type LogConfig struct {
	Level      string `mapstructure:"level"`       // "info"
	NodeBuffer int    `mapstructure:"node_buffer"` // 每个节点保留的日志行数
	NodeOutput bool   `mapstructure:"node_output"` // 节点日志是否输出到控制台
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // 空表示不启动 /metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	cc := consensus.DefaultConfig()
	nc := sim.DefaultNetworkConfig()
	return &Config{
		Protocols: consensus.Protocols(),
		Network: NetworkConfig{
			Nodes:         nc.Nodes,
			Rounds:        nc.Rounds,
			Seed:          nc.Seed,
			VerifierCache: nc.VerifierCache,
		},
		Link: LinkConfig{
			Latency:    nc.Link.Latency,
			Jitter:     nc.Link.Jitter,
			PacketLoss: nc.Link.PacketLoss,
		},
		Consensus: ConsensusConfig{
			EpochSize:        cc.EpochSize,
			ProposalZeroBits: cc.ProposalZeroBits,
			VoteZeroBits:     cc.VoteZeroBits,
			ProposalPhase:    cc.ProposalPhase,
			VotePhase:        cc.VotePhase,
			MinBlockSize:     cc.MinBlockSize,
			MaxBlockSize:     cc.MaxBlockSize,
			GenesisSeed:      cc.GenesisSeed,
		},
		Archive: ArchiveConfig{Enabled: true},
		Log:     LogConfig{Level: "info", NodeBuffer: nc.LogCapacity},
	}
}

// setDefaults 把默认值登记到 viper，环境变量只能覆盖已登记的键
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("protocols", d.Protocols)

	v.SetDefault("network.nodes", d.Network.Nodes)
	v.SetDefault("network.rounds", d.Network.Rounds)
	v.SetDefault("network.seed", d.Network.Seed)
	v.SetDefault("network.verifier_cache", d.Network.VerifierCache)

	v.SetDefault("link.latency", d.Link.Latency)
	v.SetDefault("link.jitter", d.Link.Jitter)
	v.SetDefault("link.packet_loss", d.Link.PacketLoss)

	v.SetDefault("consensus.epoch_size", d.Consensus.EpochSize)
	v.SetDefault("consensus.proposal_zero_bits", d.Consensus.ProposalZeroBits)
	v.SetDefault("consensus.vote_zero_bits", d.Consensus.VoteZeroBits)
	v.SetDefault("consensus.proposal_phase", d.Consensus.ProposalPhase)
	v.SetDefault("consensus.vote_phase", d.Consensus.VotePhase)
	v.SetDefault("consensus.min_block_size", d.Consensus.MinBlockSize)
	v.SetDefault("consensus.max_block_size", d.Consensus.MaxBlockSize)
	v.SetDefault("consensus.genesis_seed", d.Consensus.GenesisSeed)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.path", d.Archive.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.node_buffer", d.Log.NodeBuffer)
	v.SetDefault("log.node_output", d.Log.NodeOutput)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// NewViper 创建带默认值和环境变量绑定的 viper 实例；path 为空时不读文件
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// FromViper 解出配置并校验
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// 环境变量给出的列表是逗号分隔的单个字符串
	if len(cfg.Protocols) == 1 && strings.Contains(cfg.Protocols[0], ",") {
		cfg.Protocols = strings.Split(cfg.Protocols[0], ",")
	}
	for i := range cfg.Protocols {
		cfg.Protocols[i] = strings.TrimSpace(cfg.Protocols[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load 默认值 < 配置文件 < 环境变量
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Protocols) == 0 {
		errs = append(errs, errors.New("no protocol selected"))
	}
	if c.Network.Nodes <= 0 {
		errs = append(errs, fmt.Errorf("network.nodes must be positive, got %d", c.Network.Nodes))
	}
	if c.Network.Rounds <= 0 {
		errs = append(errs, fmt.Errorf("network.rounds must be positive, got %d", c.Network.Rounds))
	}
	if c.Link.Latency < 0 || c.Link.Jitter < 0 {
		errs = append(errs, errors.New("link latency and jitter must not be negative"))
	}
	if c.Link.PacketLoss < 0 || c.Link.PacketLoss > 1 {
		errs = append(errs, fmt.Errorf("link.packet_loss must be within [0, 1], got %v", c.Link.PacketLoss))
	}
	if _, err := logs.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Protocols {
		if err := c.ConsensusFor(p).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsensusFor 某个协议的共识配置
func (c *Config) ConsensusFor(protocol string) *consensus.Config {
	return &consensus.Config{
		Protocol:         protocol,
		EpochSize:        c.Consensus.EpochSize,
		ProposalZeroBits: c.Consensus.ProposalZeroBits,
		VoteZeroBits:     c.Consensus.VoteZeroBits,
		ProposalPhase:    c.Consensus.ProposalPhase,
		VotePhase:        c.Consensus.VotePhase,
		MinBlockSize:     c.Consensus.MinBlockSize,
		MaxBlockSize:     c.Consensus.MaxBlockSize,
		GenesisSeed:      c.Consensus.GenesisSeed,
	}
}

// NetworkFor 模拟网络配置；链路种子与网络种子一致
func (c *Config) NetworkFor() sim.NetworkConfig {
	nc := sim.DefaultNetworkConfig()
	nc.Nodes = c.Network.Nodes
	nc.Rounds = c.Network.Rounds
	nc.Seed = c.Network.Seed
	nc.VerifierCache = c.Network.VerifierCache
	nc.Link = sim.LinkConfig{
		Latency:    c.Link.Latency,
		Jitter:     c.Link.Jitter,
		PacketLoss: c.Link.PacketLoss,
		Seed:       c.Network.Seed,
	}
	nc.LogCapacity = c.Log.NodeBuffer
	nc.QuietNodes = !c.Log.NodeOutput
	return nc
}
