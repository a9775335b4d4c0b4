package testscripts

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
	"github.com/holiman/uint256"
)

// LimbBits 是大整数每个分块的比特数
const LimbBits = 29

// BigIntAdd 计算两个 Bits 位无符号大整数的和（溢出时截断）。
// 每个整数拆分为 29 位的分块，高位分块先入栈，因此最低分块位于栈顶。
// 输入为 a 的分块后接 b 的分块，输出为和的分块。
type BigIntAdd struct {
	Bits int // 整数的比特数，取值范围 [1, 256]
}

var _ split.Splittable = BigIntAdd{}

// NewBigIntAdd 返回 bits 位大整数加法
func NewBigIntAdd(bits int) (BigIntAdd, error) {
	if bits < 1 || bits > 256 {
		return BigIntAdd{}, fmt.Errorf("不支持的整数位数: %d", bits)
	}
	return BigIntAdd{Bits: bits}, nil
}

// Limbs 返回分块个数
func (b BigIntAdd) Limbs() int {
	return (b.Bits + LimbBits - 1) / LimbBits
}

// topBits 返回最高分块的比特数
func (b BigIntAdd) topBits() int {
	return b.Bits - (b.Limbs()-1)*LimbBits
}

// InputSize 返回两个整数的分块总数
func (b BigIntAdd) InputSize() int { return 2 * b.Limbs() }

// OutputSize 返回一个整数的分块数
func (b BigIntAdd) OutputSize() int { return b.Limbs() }

// Script 返回逐块带进位相加的程序，每块的结果暂存在备用栈
func (b BigIntAdd) Script() script.Script {
	limbs := b.Limbs()
	builder := script.NewBuilder()

	// 进位
	builder.AddOp(txscript.OP_0)
	for i := 0; i < limbs; i++ {
		threshold := int64(1) << LimbBits
		if i == limbs-1 {
			threshold = int64(1) << b.topBits()
		}

		// b_i + carry + a_i
		builder.AddOp(txscript.OP_ADD).
			AddInt64(int64(limbs - i)).AddOp(txscript.OP_ROLL).
			AddOp(txscript.OP_ADD)

		// 超过阈值时减去阈值并产生进位
		builder.AddOp(txscript.OP_DUP).AddInt64(threshold).AddOp(txscript.OP_GREATERTHANOREQUAL).
			AddOp(txscript.OP_IF).
			AddInt64(threshold).AddOps(txscript.OP_SUB, txscript.OP_1).
			AddOp(txscript.OP_ELSE).
			AddOp(txscript.OP_0).
			AddOp(txscript.OP_ENDIF)

		builder.AddOps(txscript.OP_SWAP, txscript.OP_TOALTSTACK)
	}

	// 丢弃最高位进位并取回结果
	builder.AddOp(txscript.OP_DROP)
	builder.AddScript(script.FromAltStack(limbs))

	return builder.MustScript()
}

// mask 把 x 截断为 Bits 位
func (b BigIntAdd) mask(x *uint256.Int) *uint256.Int {
	if b.Bits == 256 {
		return x
	}
	m := new(uint256.Int).Lsh(uint256.NewInt(1), uint(b.Bits))
	m.SubUint64(m, 1)
	return x.And(x, m)
}

// Add 返回 (x + y) mod 2^Bits
func (b BigIntAdd) Add(x, y *uint256.Int) *uint256.Int {
	sum := new(uint256.Int).Add(x, y)
	return b.mask(sum)
}

// ToLimbs 返回 x 的分块，最高分块在前
func (b BigIntAdd) ToLimbs(x *uint256.Int) []int64 {
	limbs := make([]int64, b.Limbs())
	limbMask := uint64(1)<<LimbBits - 1
	for i := range limbs {
		shifted := new(uint256.Int).Rsh(x, uint(LimbBits*i))
		limbs[len(limbs)-1-i] = int64(shifted.Uint64() & limbMask)
	}
	return limbs
}

// IO 返回给定操作数与结果的输入输出
func (b BigIntAdd) IO(x, y, sum *uint256.Int) split.IOPair {
	input := script.NewBuilder()
	for _, limb := range b.ToLimbs(x) {
		input.AddInt64(limb)
	}
	for _, limb := range b.ToLimbs(y) {
		input.AddInt64(limb)
	}

	output := script.NewBuilder()
	for _, limb := range b.ToLimbs(sum) {
		output.AddInt64(limb)
	}

	return split.IOPair{
		Input:  input.MustScript(),
		Output: output.MustScript(),
	}
}

// GenerateValidIO 生成随机操作数与正确的和
func (b BigIntAdd) GenerateValidIO() (split.IOPair, error) {
	x, y, err := b.randomOperands()
	if err != nil {
		return split.IOPair{}, err
	}
	return b.IO(x, y, b.Add(x, y)), nil
}

// GenerateInvalidIO 生成随机操作数与错误的和：翻转和的最低位
func (b BigIntAdd) GenerateInvalidIO() (split.IOPair, error) {
	x, y, err := b.randomOperands()
	if err != nil {
		return split.IOPair{}, err
	}
	wrong := b.Add(x, y)
	wrong.Xor(wrong, uint256.NewInt(1))
	return b.IO(x, y, wrong), nil
}

func (b BigIntAdd) randomOperands() (*uint256.Int, *uint256.Int, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, nil, fmt.Errorf("读取随机数失败: %w", err)
	}
	x := b.mask(new(uint256.Int).SetBytes(buf[:32]))
	y := b.mask(new(uint256.Int).SetBytes(buf[32:]))
	return x, y, nil
}
