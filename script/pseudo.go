package script

import (
	"math/bits"

	"github.com/btcsuite/btcd/txscript"
)

// 常用的伪操作码：由若干真实操作码组合而成的脚本片段

// ToAltStack 将主栈顶部的 n 个元素依次移到备用栈
func ToAltStack(n int) Script {
	return NewBuilder().AddRepeated(n, txscript.OP_TOALTSTACK).MustScript()
}

// FromAltStack 将备用栈顶部的 n 个元素依次移回主栈
func FromAltStack(n int) Script {
	return NewBuilder().AddRepeated(n, txscript.OP_FROMALTSTACK).MustScript()
}

// Roll 将深度为 k 的元素移到栈顶
func Roll(k int) Script {
	return NewBuilder().AddInt64(int64(k)).AddOp(txscript.OP_ROLL).MustScript()
}

// Mul2 将栈顶元素乘以 2^n
func Mul2(n int) Script {
	return NewBuilder().AddRepeated(n, txscript.OP_DUP, txscript.OP_ADD).MustScript()
}

// LongEqualVerify 校验栈顶两组各 n 个元素逐个相等，并消耗它们。
// 栈布局为 a_0 … a_{n-1} b_0 … b_{n-1}（b_{n-1} 在栈顶）。
func LongEqualVerify(n int) Script {
	builder := NewBuilder()
	for i := n - 1; i >= 0; i-- {
		builder.AddInt64(int64(i + 1)).AddOp(txscript.OP_ROLL).AddOp(txscript.OP_EQUALVERIFY)
	}
	return builder.MustScript()
}

// LongNotEqual 比较栈顶两组各 n 个数字，只要有一对不相等就留下 1，否则留下 0。
// 栈布局与 LongEqualVerify 相同，两组元素都会被消耗。
func LongNotEqual(n int) Script {
	builder := NewBuilder().AddOp(txscript.OP_0)
	for i := n - 1; i >= 0; i-- {
		// b_i acc -> acc b_i -> acc b_i a_i
		builder.AddOp(txscript.OP_SWAP).
			AddInt64(int64(i+2)).AddOp(txscript.OP_ROLL).
			AddOps(txscript.OP_NUMEQUAL, txscript.OP_NOT, txscript.OP_BOOLOR)
	}
	return builder.MustScript()
}

// DropAll 清空深度不超过 maxDepth 的主栈。
// 按二进制位从高到低处理：深度不小于 2^b 时丢弃 2^b 个元素，因此无需知道确切深度。
func DropAll(maxDepth int) Script {
	builder := NewBuilder()
	for b := bits.Len(uint(maxDepth)) - 1; b >= 0; b-- {
		n := 1 << b
		builder.AddOp(txscript.OP_DEPTH).AddInt64(int64(n)).
			AddOps(txscript.OP_GREATERTHANOREQUAL, txscript.OP_IF).
			AddRepeated(n/2, txscript.OP_2DROP)
		if n%2 == 1 {
			builder.AddOp(txscript.OP_DROP)
		}
		builder.AddOp(txscript.OP_ENDIF)
	}
	return builder.MustScript()
}
