// Package winternitz 实现面向 31 位数值的 Winternitz 一次性签名，
// 以及在脚本中校验签名、恢复数值所需的锁定脚本与见证。
package winternitz

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// D 是每个数位的最大取值，也是哈希链的长度
	D = 15
	// BitsPerDigit 是每个数位的比特数
	BitsPerDigit = 4
	// V 是可签名消息的比特数
	V = 31
	// N0 是消息数位的个数
	N0 = 8
	// N1 是校验和数位的个数
	N1 = 2
	// N 是数位总数
	N = N0 + N1

	// MaxValue 是可签名的最大数值
	MaxValue = 1<<V - 1
	// HashSize 是哈希链元素的字节长度
	HashSize = 20
)

// ErrValueOutOfRange 表示待签名数值超出 [0, MaxValue]
var ErrValueOutOfRange = errors.New("待签名数值超出范围")

// Hash 是哈希链中的一个元素（HASH160）
type Hash [HashSize]byte

// hash160 计算 RIPEMD160(SHA256(h))
func (h Hash) hash160() Hash {
	var out Hash
	copy(out[:], btcutil.Hash160(h[:]))
	return out
}

// chain 对 h 连续计算 times 次 HASH160
func (h Hash) chain(times int) Hash {
	for i := 0; i < times; i++ {
		h = h.hash160()
	}
	return h
}

// SecretKey 是 N 个随机的哈希链起点
type SecretKey [N]Hash

// PublicKey 是每条哈希链的终点：对私钥各部分计算 D 次 HASH160
type PublicKey [N]Hash

// NewSecretKey 从随机源读取并生成私钥
func NewSecretKey(rand io.Reader) (SecretKey, error) {
	var sk SecretKey
	for i := range sk {
		if _, err := io.ReadFull(rand, sk[i][:]); err != nil {
			return SecretKey{}, fmt.Errorf("读取随机数失败: %w", err)
		}
	}
	return sk, nil
}

// PublicKey 返回私钥对应的公钥
func (sk SecretKey) PublicKey() PublicKey {
	var pk PublicKey
	for i, part := range sk {
		pk[i] = part.chain(D)
	}
	return pk
}

// Sign 对消息签名：第 i 部分为私钥第 i 部分的 msg[i] 次哈希
func (sk SecretKey) Sign(msg Message) Signature {
	var sig Signature
	for i, part := range sk {
		sig.Chains[i] = part.chain(int(msg[i]))
	}
	sig.Message = msg
	return sig
}

// Verify 校验签名是否为公钥对该消息的签名
func (pk PublicKey) Verify(msg Message, sig Signature) bool {
	for i := range pk {
		if msg[i] > D {
			return false
		}
		if sig.Chains[i].chain(D-int(msg[i])) != pk[i] {
			return false
		}
	}
	return true
}

// Message 是按 4 比特拆分后的消息数位以及两个校验和数位，低位在前
type Message [N]byte

// MessageFromUint32 将数值拆分为消息数位并计算校验和
func MessageFromUint32(value uint32) (Message, error) {
	if value > MaxValue {
		return Message{}, fmt.Errorf("%w: %d", ErrValueOutOfRange, value)
	}

	var msg Message
	sum := 0
	for i := 0; i < N0; i++ {
		msg[i] = byte(value & 0x0f)
		value >>= BitsPerDigit
		sum += int(msg[i])
	}

	// 校验和 = D*N0 - 数位之和，拆为低 4 位与高 4 位
	checksum := D*N0 - sum
	msg[N0] = byte(checksum & 0x0f)
	msg[N0+1] = byte(checksum >> BitsPerDigit)

	return msg, nil
}

// Uint32 恢复消息对应的数值
func (m Message) Uint32() uint32 {
	var value uint32
	for i := 0; i < N0; i++ {
		value |= uint32(m[i]) << (BitsPerDigit * i)
	}
	return value
}

// ZeroLimbsFromLeft 返回从最高位开始连续为零的消息数位个数，至多 N0-1
func (m Message) ZeroLimbsFromLeft() int {
	count := 0
	for i := N0 - 1; i >= 0 && m[i] == 0; i-- {
		count++
	}
	if count > N0-1 {
		count = N0 - 1
	}
	return count
}

// Signature 是签名的哈希链中间值以及被签名的消息
type Signature struct {
	Chains  [N]Hash
	Message Message
}
