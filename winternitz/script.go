package winternitz

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
)

// WitnessElements 返回签名的见证元素：
// 先是两个校验和数位，再是消息数位从高到低，每个数位依次为哈希链值与数位本身。
// 数位 0 位于栈顶。
func (sig Signature) WitnessElements() [][]byte {
	return sig.witnessElementsSkipping(0)
}

// CompactWitnessElements 与 WitnessElements 相同，但省略高位连续为零的消息数位
func (sig Signature) CompactWitnessElements() [][]byte {
	return sig.witnessElementsSkipping(sig.Message.ZeroLimbsFromLeft())
}

func (sig Signature) witnessElementsSkipping(skip int) [][]byte {
	elements := make([][]byte, 0, 2*(N-skip))

	for idx := N - 1; idx >= N0; idx-- {
		elements = append(elements, sig.chainElement(idx), script.EncodeNum(int64(sig.Message[idx])))
	}
	for idx := N0 - 1 - skip; idx >= 0; idx-- {
		elements = append(elements, sig.chainElement(idx), script.EncodeNum(int64(sig.Message[idx])))
	}

	return elements
}

func (sig Signature) chainElement(idx int) []byte {
	element := make([]byte, HashSize)
	copy(element, sig.Chains[idx][:])
	return element
}

// ScriptSig 返回推送见证元素的脚本，便于与锁定脚本拼接后整体执行
func (sig Signature) ScriptSig(compact bool) script.Script {
	elements := sig.WitnessElements()
	if compact {
		elements = sig.CompactWitnessElements()
	}

	builder := script.NewBuilder()
	for _, element := range elements {
		builder.AddData(element)
	}
	return builder.MustScript()
}

// ChecksigVerifyScript 返回校验栈顶签名的脚本。
// 执行后主栈留下消息数位（数位 0 在栈顶），签名不合法时脚本失败。
func ChecksigVerifyScript(pk PublicKey) script.Script {
	return CompactChecksigVerifyScript(pk, 0)
}

// CompactChecksigVerifyScript 只校验低 N0-zeroLimbs 个消息数位，需与紧凑见证配合使用
func CompactChecksigVerifyScript(pk PublicKey, zeroLimbs int) script.Script {
	builder := script.NewBuilder()

	// 1. 逐个校验哈希链：先是消息数位，再是校验和数位
	for idx := 0; idx < N0-zeroLimbs; idx++ {
		addLimbVerify(builder, pk[idx])
	}
	for idx := N0; idx < N; idx++ {
		addLimbVerify(builder, pk[idx])
	}

	// 2. 由签名中的两个校验和数位还原校验和
	builder.AddOp(txscript.OP_FROMALTSTACK)
	for i := 0; i < N1-1; i++ {
		builder.AddRepeated(BitsPerDigit, txscript.OP_DUP, txscript.OP_ADD).
			AddOps(txscript.OP_FROMALTSTACK, txscript.OP_ADD)
	}

	// 3. 由消息数位重新计算校验和
	builder.AddOps(txscript.OP_FROMALTSTACK, txscript.OP_DUP, txscript.OP_NEGATE)
	for i := 1; i < N0-zeroLimbs; i++ {
		builder.AddOps(txscript.OP_FROMALTSTACK, txscript.OP_TUCK, txscript.OP_SUB)
	}
	builder.AddInt64(D * N0).AddOp(txscript.OP_ADD)

	// 4. 两者必须相等
	builder.AddInt64(int64(N0-zeroLimbs+1)).AddOps(txscript.OP_ROLL, txscript.OP_EQUALVERIFY)

	return builder.MustScript()
}

// addLimbVerify 校验一个数位的哈希链，并把数位移到备用栈
func addLimbVerify(builder *script.Builder, pk Hash) {
	// 数位必须位于 [0, D]
	builder.AddInt64(D).AddOp(txscript.OP_MIN)
	builder.AddOps(txscript.OP_DUP, txscript.OP_TOALTSTACK, txscript.OP_TOALTSTACK)

	builder.AddRepeated(D, txscript.OP_DUP, txscript.OP_HASH160)

	builder.AddOps(txscript.OP_FROMALTSTACK, txscript.OP_PICK)
	builder.AddData(pk[:]).AddOp(txscript.OP_EQUALVERIFY)

	// 丢弃 D+1 个哈希链元素
	builder.AddRepeated((D+1)/2, txscript.OP_2DROP)
}

// RecoveryScript 返回把 N0 个消息数位（数位 0 在栈顶）合并为数值的脚本
func RecoveryScript() script.Script {
	return recoveryScript(N0)
}

// CompactRecoveryScript 返回只合并低 N0-zeroLimbs 个数位的恢复脚本
func CompactRecoveryScript(zeroLimbs int) script.Script {
	return recoveryScript(N0 - zeroLimbs)
}

func recoveryScript(limbs int) script.Script {
	if limbs <= 1 {
		return script.Script{}
	}

	builder := script.NewBuilder()
	for i := 0; i < limbs; i++ {
		builder.AddScript(script.Mul2(BitsPerDigit * i)).AddOp(txscript.OP_TOALTSTACK)
	}
	builder.AddOp(txscript.OP_FROMALTSTACK)
	for i := 0; i < limbs-1; i++ {
		builder.AddOps(txscript.OP_FROMALTSTACK, txscript.OP_ADD)
	}
	return builder.MustScript()
}

// VerifyAndRecoverScript 返回校验签名并在栈顶留下数值的完整脚本
func VerifyAndRecoverScript(pk PublicKey, msg Message, compact bool) script.Script {
	if !compact {
		return script.Concat(ChecksigVerifyScript(pk), RecoveryScript())
	}
	zeroLimbs := msg.ZeroLimbsFromLeft()
	return script.Concat(CompactChecksigVerifyScript(pk, zeroLimbs), CompactRecoveryScript(zeroLimbs))
}
