package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
)

// AddressHRP 模拟网络地址前缀
const AddressHRP = "sim"

var suite = bn256.NewSuite()

// Suite 供 sortition 共用同一个配对套件
func Suite() *bn256.Suite { return suite }

// KeyPair 参与者身份密钥（secp256k1）与抽签用的 BLS 密钥
type KeyPair struct {
	Identity *btcec.PrivateKey
	VRFKey   kyber.Scalar
	VRFPub   kyber.Point
}

// NewKeyPair 由参与者自己的随机源生成，相同种子得到相同密钥
func NewKeyPair(rng *rand.Rand) (*KeyPair, error) {
	var seed [32]byte
	if _, err := rng.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read key seed: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return FromIdentity(priv), nil
}

// FromIdentity BLS 私钥 = sha256(secp256k1 私钥) 映射到 G2 标量
func FromIdentity(priv *btcec.PrivateKey) *KeyPair {
	h := sha256.Sum256(priv.Serialize())
	sk := suite.G2().Scalar().SetBytes(h[:])
	return &KeyPair{
		Identity: priv,
		VRFKey:   sk,
		VRFPub:   suite.G2().Point().Mul(sk, nil),
	}
}

// VRFPublicKeyBytes 区块/投票中携带的公钥编码
func (k *KeyPair) VRFPublicKeyBytes() []byte {
	b, err := k.VRFPub.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("marshal vrf public key: %v", err))
	}
	return b
}

// Address hash160(压缩公钥) 的 bech32 编码
func (k *KeyPair) Address() (string, error) {
	h := btcutil.Hash160(k.Identity.PubKey().SerializeCompressed())
	conv, err := bech32.ConvertBits(h, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AddressHRP, conv)
}

var ErrBadPublicKey = errors.New("bad vrf public key")

// ParseVRFPublicKey 反序列化 G2 公钥
func ParseVRFPublicKey(b []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	return p, nil
}
