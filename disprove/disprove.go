// Package disprove 为拆分结果中的每个分片生成反驳脚本：
// 当运营方声称的某个状态转换不正确时，挑战方可以花费对应的反驳脚本。
package disprove

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/distributed-lab/nero/script"
)

// DisproveScript 是一个分片的反驳脚本：见证与验证脚本。
// 只有当分片的实际输出与声称的输出不同时，见证才能满足验证脚本。
type DisproveScript struct {
	Witness  wire.TxWitness // 两个状态的签名与数值
	Verifier script.Script  // 验证脚本
}

// altStackMarker 在验证脚本中把 to 的数值与分片使用的备用栈隔开。
// 它不是合法的脚本数字，签名恢复出的数值不会与它相等。
var altStackMarker = []byte("nero/alt")

// newDisproveScript 由已签名的前后两个状态与分片组装反驳脚本。
//
// 验证脚本依次：
//  1. 校验 to 的全部签名，把数值移到备用栈，并压入分隔标记
//  2. 校验 from 的全部签名并恢复 from 的主栈与备用栈
//  3. 执行分片
//  4. 取回实际输出的备用栈，检查其下方是分隔标记且主栈深度与 to 一致
//  5. 元素个数一致时，逐元素比较主栈与备用栈，任一不相等时留下真值
//  6. 元素个数不一致时，清空主栈并留下真值
func newDisproveScript(from, to *SignedIntermediateState, shard script.Script, compact bool) *DisproveScript {
	witness := make(wire.TxWitness, 0)
	witness = append(witness, from.Witness(compact)...)
	witness = append(witness, to.Witness(compact)...)

	stackSize, altStackSize := len(to.Stack), len(to.AltStack)

	builder := script.NewBuilder()

	// 1. 声称的输出
	builder.AddScript(to.VerifyToAltStack(compact))
	builder.AddData(altStackMarker).AddOp(txscript.OP_TOALTSTACK)

	// 2. 输入
	builder.AddScript(from.VerifyToAltStack(compact)).AddScript(from.FromAltStack())

	// 3. 分片
	builder.AddScript(shard)

	// 4. 元素个数：备用栈取回 k 个元素后应恰好遇到标记，主栈深度应为 m + k + 1（含标记比较结果）
	builder.AddScript(script.FromAltStack(altStackSize))
	builder.AddOp(txscript.OP_FROMALTSTACK).AddData(altStackMarker).AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_DEPTH).AddInt64(int64(stackSize + altStackSize + 1)).AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_BOOLAND)

	builder.AddOp(txscript.OP_IF)

	// 5.1 比较主栈：实际输出 s'_0 … s'_{m-1} 与声称的 s_0 … s_{m-1}
	builder.AddScript(script.FromAltStack(stackSize))
	for i := 0; i < stackSize; i++ {
		builder.AddScript(script.Roll(to.Size() + stackSize - 1))
	}
	builder.AddScript(script.LongNotEqual(stackSize))

	// 5.2 比较备用栈
	builder.AddScript(script.FromAltStack(altStackSize))
	for i := 0; i < altStackSize; i++ {
		builder.AddScript(script.Roll(2 * altStackSize))
	}
	builder.AddScript(script.LongNotEqual(altStackSize))
	builder.AddOp(txscript.OP_BOOLOR)

	// 6. 个数不同，声称的状态必然错误
	builder.AddOp(txscript.OP_ELSE)
	builder.AddScript(script.DropAll(txscript.MaxStackSize))
	builder.AddOp(txscript.OP_1)

	builder.AddOp(txscript.OP_ENDIF)

	return &DisproveScript{
		Witness:  witness,
		Verifier: builder.MustScript(),
	}
}

// WitnessElements 返回见证元素的副本，按入栈顺序排列
func (d *DisproveScript) WitnessElements() [][]byte {
	elements := make([][]byte, len(d.Witness))
	for i, element := range d.Witness {
		elements[i] = append([]byte{}, element...)
	}
	return elements
}

// WitnessScript 返回依次推送见证元素的脚本
func (d *DisproveScript) WitnessScript() (script.Script, error) {
	builder := script.NewBuilder()
	for _, element := range d.Witness {
		builder.AddData(element)
	}
	return builder.Script()
}

// LeafHash 返回验证脚本作为 tapscript 叶子的哈希
func (d *DisproveScript) LeafHash() chainhash.Hash {
	return txscript.NewBaseTapLeaf(d.Verifier).TapHash()
}
