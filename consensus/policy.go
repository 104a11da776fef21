package consensus

import "fmt"

const (
	ProtocolPoW      = "pow"
	ProtocolAlgorand = "algorand"
	ProtocolCasper   = "casper"
	ProtocolGasper   = "gasper"
)

type ForkChoiceKind int

const (
	LongestChainRule ForkChoiceKind = iota
	HybridLMDGhostRule
)

// ProtocolPolicy 协议能力组合：是否有投票阶段、是否运行 FFG、用哪个链头规则
type ProtocolPolicy struct {
	Name       string
	VotePhase  bool
	Finality   bool
	ForkChoice ForkChoiceKind
}

func PolicyFor(protocol string) (ProtocolPolicy, error) {
	switch protocol {
	case ProtocolPoW:
		return ProtocolPolicy{Name: protocol, ForkChoice: LongestChainRule}, nil
	case ProtocolAlgorand:
		return ProtocolPolicy{Name: protocol, VotePhase: true, ForkChoice: LongestChainRule}, nil
	case ProtocolCasper:
		return ProtocolPolicy{Name: protocol, VotePhase: true, Finality: true, ForkChoice: LongestChainRule}, nil
	case ProtocolGasper:
		return ProtocolPolicy{Name: protocol, VotePhase: true, Finality: true, ForkChoice: HybridLMDGhostRule}, nil
	}
	return ProtocolPolicy{}, fmt.Errorf("unknown protocol %q", protocol)
}

// Protocols 所有内置协议
func Protocols() []string {
	return []string{ProtocolPoW, ProtocolAlgorand, ProtocolCasper, ProtocolGasper}
}
