// Package testscripts 提供用于测试拆分与反驳脚本的具体计算
package testscripts

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
)

const (
	// u31Bits 是乘法操作数的有效比特数，脚本数字最多表示 31 位无符号数
	u31Bits = 31
	// u31Modulus 是乘积的模数
	u31Modulus = 1 << u31Bits
	// u31ChunkSize 是乘法程序的默认分片大小
	u31ChunkSize = 150
)

// U31Mul 是 31 位模乘程序：计算两个 31 位无符号整数的乘积（模 2^31），不是 32 位乘法。
// 输入为 a b（b 在栈顶），输出为 a*b mod 2^31。
type U31Mul struct{}

var (
	_ split.Splittable = U31Mul{}
	_ split.ChunkSizer = U31Mul{}
)

// InputSize 返回 2
func (U31Mul) InputSize() int { return 2 }

// OutputSize 返回 1
func (U31Mul) OutputSize() int { return 1 }

// DefaultChunkSize 返回乘法程序的默认分片大小
func (U31Mul) DefaultChunkSize() int { return u31ChunkSize }

// Script 返回乘法程序：从高位到低位扫描 b，每一位先把累加值加倍，若该位为 1 再加上 a
func (U31Mul) Script() script.Script {
	builder := script.NewBuilder()

	// a b acc
	builder.AddOp(txscript.OP_0)
	for i := u31Bits - 1; i >= 0; i-- {
		// 1. acc = 2*acc mod 2^31
		builder.AddOp(txscript.OP_DUP).AddInt64(1<<(u31Bits-1)).AddOp(txscript.OP_GREATERTHANOREQUAL).
			AddOp(txscript.OP_IF).
			AddInt64(1<<(u31Bits-1)).AddOp(txscript.OP_SUB).
			AddOp(txscript.OP_ENDIF).
			AddOps(txscript.OP_DUP, txscript.OP_ADD)

		// 2. 若 b >= 2^i，则 b -= 2^i 且 acc = acc + a mod 2^31
		builder.AddOps(txscript.OP_SWAP, txscript.OP_DUP).AddInt64(1 << i).AddOp(txscript.OP_GREATERTHANOREQUAL).
			AddOp(txscript.OP_IF).
			AddInt64(1 << i).AddOp(txscript.OP_SUB).
			AddOp(txscript.OP_SWAP).
			AddInt64(2).AddOp(txscript.OP_PICK)
		addMod(builder)
		builder.AddOp(txscript.OP_ELSE).
			AddOp(txscript.OP_SWAP).
			AddOp(txscript.OP_ENDIF)
	}

	// 丢弃 a 与已归零的 b
	builder.AddOps(txscript.OP_NIP, txscript.OP_NIP)

	return builder.MustScript()
}

// addMod 计算栈顶两个数的和模 2^31，中间结果不超过 4 字节
func addMod(builder *script.Builder) {
	// x y -> x y (M-x)
	builder.AddOp(txscript.OP_OVER).AddInt64(u31Modulus-1).AddOps(txscript.OP_SWAP, txscript.OP_SUB)
	// y > M-x 时 x+y 溢出
	builder.AddOps(txscript.OP_2DUP, txscript.OP_GREATERTHAN).
		AddOp(txscript.OP_IF).
		AddOps(txscript.OP_SUB, txscript.OP_1SUB, txscript.OP_NIP).
		AddOp(txscript.OP_ELSE).
		AddOps(txscript.OP_DROP, txscript.OP_ADD).
		AddOp(txscript.OP_ENDIF)
}

// Mul 返回 a*b mod 2^31
func (U31Mul) Mul(a, b uint32) uint32 {
	return uint32(uint64(a) * uint64(b) % u31Modulus)
}

// GenerateValidIO 生成随机的操作数与正确的乘积
func (m U31Mul) GenerateValidIO() (split.IOPair, error) {
	a, b, err := randomOperands()
	if err != nil {
		return split.IOPair{}, err
	}
	return m.IO(a, b, m.Mul(a, b)), nil
}

// GenerateInvalidIO 生成随机的操作数与错误的乘积
func (m U31Mul) GenerateInvalidIO() (split.IOPair, error) {
	a, b, err := randomOperands()
	if err != nil {
		return split.IOPair{}, err
	}
	return m.IO(a, b, (m.Mul(a, b)+1)%u31Modulus), nil
}

// IO 返回给定操作数与乘积的输入输出
func (U31Mul) IO(a, b, product uint32) split.IOPair {
	return split.IOPair{
		Input:  script.NewBuilder().AddInt64(int64(a)).AddInt64(int64(b)).MustScript(),
		Output: script.NewBuilder().AddInt64(int64(product)).MustScript(),
	}
}

func randomOperands() (uint32, uint32, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, 0, fmt.Errorf("读取随机数失败: %w", err)
	}
	a := binary.LittleEndian.Uint32(buf[:4]) % u31Modulus
	b := binary.LittleEndian.Uint32(buf[4:]) % u31Modulus
	return a, b, nil
}
