package disprove

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// seedSalt 是拉伸种子时使用的盐
	seedSalt = "nero-disprove-commitments"
	// seedIterations 是 PBKDF2 的迭代次数
	seedIterations = 2048
	// seedKeyLen 是拉伸后的主种子长度
	seedKeyLen = 64
)

// Entropy 为第 i 个状态的签名提供随机源。
// 状态 0 是注入输入后的初始状态，状态 i 是第 i 个分片执行后的状态。
type Entropy interface {
	ForState(i int) (io.Reader, error)
}

// SystemEntropy 使用操作系统的随机源
type SystemEntropy struct{}

// ForState 对所有状态返回 crypto/rand.Reader
func (SystemEntropy) ForState(int) (io.Reader, error) {
	return rand.Reader, nil
}

// SeedEntropy 由种子确定性地为每个状态派生随机源：
// 种子经 PBKDF2 拉伸为 BIP32 主密钥，第 i 个状态使用第 i 个硬化子密钥作为 ChaCha20 的密钥。
type SeedEntropy struct {
	master *bip32.Key
}

// NewSeedEntropy 由种子创建确定性随机源
func NewSeedEntropy(seed []byte) (*SeedEntropy, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}

	stretched := pbkdf2.Key(seed, []byte(seedSalt), seedIterations, seedKeyLen, sha512.New)
	master, err := bip32.NewMasterKey(stretched)
	if err != nil {
		return nil, fmt.Errorf("派生主密钥失败: %w", err)
	}

	return &SeedEntropy{master: master}, nil
}

// ForState 返回第 i 个状态的密钥流
func (e *SeedEntropy) ForState(i int) (io.Reader, error) {
	if i < 0 || uint32(i) >= bip32.FirstHardenedChild {
		return nil, fmt.Errorf("状态序号超出范围: %d", i)
	}

	child, err := e.master.NewChildKey(bip32.FirstHardenedChild + uint32(i))
	if err != nil {
		return nil, fmt.Errorf("派生第 %d 个子密钥失败: %w", i, err)
	}

	// 统一为 32 字节的流密钥
	key := sha256.Sum256(child.Key)
	nonce := make([]byte, chacha20.NonceSize)
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		return nil, fmt.Errorf("创建密钥流失败: %w", err)
	}

	return &keystream{cipher: cipher}, nil
}

// keystream 把 ChaCha20 的密钥流作为 io.Reader
type keystream struct {
	cipher *chacha20.Cipher
}

func (k *keystream) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	k.cipher.XORKeyStream(p, p)
	return len(p), nil
}
