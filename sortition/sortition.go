// Package sortition 加密抽签：BLS 签名作为 VRF 证明，输出 = sha256(证明)，
// 输出不大于阈值即当选。提案与委员会使用同一谓词，只是阈值不同。
package sortition

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/bls"
	"golang.org/x/crypto/sha3"

	"chainsim/keys"
)

var (
	ErrInvalidKey     = errors.New("sortition: invalid key")
	ErrInvalidProof   = errors.New("sortition: proof does not verify")
	ErrOutputMismatch = errors.New("sortition: output does not match proof")
	ErrAboveThreshold = errors.New("sortition: output above threshold")
)

// Role 抽签角色，参与种子派生
type Role uint8

const (
	RoleProposer Role = iota + 1
	RoleCommittee
)

func (r Role) String() string {
	switch r {
	case RoleProposer:
		return "proposer"
	case RoleCommittee:
		return "committee"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// OutputSize VRF 输出长度（字节）
const OutputSize = sha256.Size

// Seed SHA3-256(genesisSeed ‖ round ‖ role)，任何接收者都能重新计算
func Seed(genesis []byte, round uint64, role Role) []byte {
	h := sha3.New256()
	h.Write(genesis)
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], round)
	buf[8] = byte(role)
	h.Write(buf[:])
	return h.Sum(nil)
}

// Evaluate 对 seed 做 BLS 签名作为证明；相同输入结果相同
func Evaluate(sk kyber.Scalar, seed []byte) (proof, output []byte, err error) {
	if sk == nil {
		return nil, nil, ErrInvalidKey
	}
	proof, err = bls.Sign(keys.Suite(), sk, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("sortition: sign seed: %w", err)
	}
	out := sha256.Sum256(proof)
	return proof, out[:], nil
}

// Verify 验证证明并重新导出输出
func Verify(pk kyber.Point, proof, seed []byte) ([]byte, error) {
	if pk == nil {
		return nil, ErrInvalidKey
	}
	if err := bls.Verify(keys.Suite(), pk, seed, proof); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	out := sha256.Sum256(proof)
	return out[:], nil
}

// Threshold 前 zeroBits 位为 0、其余为 1，P(selected) ≈ 2^-zeroBits
func Threshold(zeroBits uint) *uint256.Int {
	th := new(uint256.Int).SetAllOne()
	if zeroBits >= 256 {
		return th.Clear()
	}
	return th.Rsh(th, zeroBits)
}

// Selected 大端无符号比较 output <= threshold
func Selected(output []byte, threshold *uint256.Int) bool {
	if len(output) != OutputSize {
		return false
	}
	v := new(uint256.Int).SetBytes(output)
	return !v.Gt(threshold)
}

// Check 接收方完整校验：证明可重导出输出 (a)、满足阈值 (b)、
// 与报文中携带的输出一致 (c)
func Check(pk kyber.Point, proof, seed, claimed []byte, threshold *uint256.Int) error {
	out, err := Verify(pk, proof, seed)
	if err != nil {
		return err
	}
	return checkOutput(out, claimed, threshold)
}

func checkOutput(out, claimed []byte, threshold *uint256.Int) error {
	if !bytes.Equal(out, claimed) {
		return ErrOutputMismatch
	}
	if !Selected(out, threshold) {
		return ErrAboveThreshold
	}
	return nil
}
