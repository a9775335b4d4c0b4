package disprove

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/winternitz"
)

// SignedStackElement 是一个被一次性签名承诺的栈元素
type SignedStackElement struct {
	Value     uint32               // 元素的数值
	PublicKey winternitz.PublicKey // 锁定在验证脚本中的公钥
	Signature winternitz.Signature // 放入见证中的签名
}

// signElement 生成新的一次性密钥并对 value 签名
func signElement(value uint32, rand io.Reader) (SignedStackElement, error) {
	msg, err := winternitz.MessageFromUint32(value)
	if err != nil {
		return SignedStackElement{}, err
	}

	sk, err := winternitz.NewSecretKey(rand)
	if err != nil {
		return SignedStackElement{}, err
	}

	return SignedStackElement{
		Value:     value,
		PublicKey: sk.PublicKey(),
		Signature: sk.Sign(msg),
	}, nil
}

// Witness 返回该元素签名的见证元素
func (e SignedStackElement) Witness(compact bool) [][]byte {
	if compact {
		return e.Signature.CompactWitnessElements()
	}
	return e.Signature.WitnessElements()
}

// VerifyScript 返回校验签名并在栈顶恢复数值的脚本
func (e SignedStackElement) VerifyScript(compact bool) script.Script {
	return winternitz.VerifyAndRecoverScript(e.PublicKey, e.Signature.Message, compact)
}

// SignedIntermediateState 是逐元素签名后的中间状态
type SignedIntermediateState struct {
	Stack    []SignedStackElement // 与主栈顺序相同
	AltStack []SignedStackElement // 与备用栈顺序相同
}

// SignState 对状态中的每个元素生成一把一次性密钥并签名。
// 元素必须能解码为 [0, winternitz.MaxValue] 内的脚本数字。
func SignState(state script.IntermediateState, rand io.Reader) (*SignedIntermediateState, error) {
	signed := &SignedIntermediateState{
		Stack:    make([]SignedStackElement, 0, len(state.Stack)),
		AltStack: make([]SignedStackElement, 0, len(state.AltStack)),
	}

	// 1. 主栈
	values, err := state.StackUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: 主栈: %v", ErrElementOutOfRange, err)
	}
	for i, value := range values {
		element, err := signElement(value, rand)
		if err != nil {
			return nil, fmt.Errorf("%w: 主栈第 %d 个元素: %v", ErrElementOutOfRange, i, err)
		}
		signed.Stack = append(signed.Stack, element)
	}

	// 2. 备用栈
	values, err = state.AltStackUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: 备用栈: %v", ErrElementOutOfRange, err)
	}
	for i, value := range values {
		element, err := signElement(value, rand)
		if err != nil {
			return nil, fmt.Errorf("%w: 备用栈第 %d 个元素: %v", ErrElementOutOfRange, i, err)
		}
		signed.AltStack = append(signed.AltStack, element)
	}

	return signed, nil
}

// Size 返回被签名的元素总数
func (s *SignedIntermediateState) Size() int {
	return len(s.Stack) + len(s.AltStack)
}

// State 返回被签名的状态
func (s *SignedIntermediateState) State() script.IntermediateState {
	state := script.IntermediateState{
		Stack:    make([][]byte, len(s.Stack)),
		AltStack: make([][]byte, len(s.AltStack)),
	}
	for i, element := range s.Stack {
		state.Stack[i] = script.EncodeNum(int64(element.Value))
	}
	for i, element := range s.AltStack {
		state.AltStack[i] = script.EncodeNum(int64(element.Value))
	}
	return state
}

// Witness 返回状态的见证：先是主栈元素（自底向上），再是逆序的备用栈元素，
// 因此备用栈栈底元素的签名位于最上方。
func (s *SignedIntermediateState) Witness(compact bool) [][]byte {
	var witness [][]byte
	for _, element := range s.Stack {
		witness = append(witness, element.Witness(compact)...)
	}
	for i := len(s.AltStack) - 1; i >= 0; i-- {
		witness = append(witness, s.AltStack[i].Witness(compact)...)
	}
	return witness
}

// VerifyToAltStack 返回按见证逆序校验全部签名并把恢复的数值移到备用栈的脚本。
// 执行后备用栈自底向上为 a_0 … a_{k-1} s_{m-1} … s_0。
func (s *SignedIntermediateState) VerifyToAltStack(compact bool) script.Script {
	builder := script.NewBuilder()
	for _, element := range s.AltStack {
		builder.AddScript(element.VerifyScript(compact)).AddOp(txscript.OP_TOALTSTACK)
	}
	for i := len(s.Stack) - 1; i >= 0; i-- {
		builder.AddScript(s.Stack[i].VerifyScript(compact)).AddOp(txscript.OP_TOALTSTACK)
	}
	return builder.MustScript()
}

// FromAltStack 在 VerifyToAltStack 之后把主栈元素移回主栈，备用栈恢复为原来的备用栈
func (s *SignedIntermediateState) FromAltStack() script.Script {
	return script.FromAltStack(len(s.Stack))
}
