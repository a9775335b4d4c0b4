package script

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// IntermediateState 是某一时刻主栈与备用栈的快照。
// 与 btcd 的 Engine.GetStack 一致，切片的最后一个元素是栈顶。
type IntermediateState struct {
	Stack    [][]byte // 主栈
	AltStack [][]byte // 备用栈
}

// NewIntermediateState 复制给定的两个栈并返回新的状态
func NewIntermediateState(stack, altStack [][]byte) IntermediateState {
	return IntermediateState{
		Stack:    cloneElements(stack),
		AltStack: cloneElements(altStack),
	}
}

// StateFromNumbers 由整数序列构造状态，每个整数编码为脚本数字
func StateFromNumbers(stack, altStack []int64) IntermediateState {
	state := IntermediateState{
		Stack:    make([][]byte, 0, len(stack)),
		AltStack: make([][]byte, 0, len(altStack)),
	}
	for _, n := range stack {
		state.Stack = append(state.Stack, EncodeNum(n))
	}
	for _, n := range altStack {
		state.AltStack = append(state.AltStack, EncodeNum(n))
	}
	return state
}

// Size 返回两个栈的元素总数
func (s IntermediateState) Size() int {
	return len(s.Stack) + len(s.AltStack)
}

// IsEmpty 判断两个栈是否都为空
func (s IntermediateState) IsEmpty() bool {
	return s.Size() == 0
}

// Equal 判断两个状态的主栈与备用栈是否逐元素相同
func (s IntermediateState) Equal(other IntermediateState) bool {
	return elementsEqual(s.Stack, other.Stack) && elementsEqual(s.AltStack, other.AltStack)
}

// Clone 返回状态的深拷贝
func (s IntermediateState) Clone() IntermediateState {
	return NewIntermediateState(s.Stack, s.AltStack)
}

// Top 返回主栈栈顶元素
func (s IntermediateState) Top() ([]byte, bool) {
	if len(s.Stack) == 0 {
		return nil, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// InjectScript 返回一段仅包含推送的程序，执行后主栈与该状态的主栈相同
func (s IntermediateState) InjectScript() (Script, error) {
	builder := NewBuilder()
	for _, element := range s.Stack {
		builder.AddData(element)
	}
	return builder.Script()
}

// altStackPrefix 返回将备用栈内容恢复到位的前缀程序
func (s IntermediateState) altStackPrefix() (Script, int, error) {
	builder := NewBuilder()
	for _, element := range s.AltStack {
		builder.AddData(element).AddOp(txscript.OP_TOALTSTACK)
	}
	prefix, err := builder.Script()
	if err != nil {
		return nil, 0, err
	}
	return prefix, 2 * len(s.AltStack), nil
}

// StackUint32 将主栈逐元素解码为 32 位无符号整数（定宽签名编码）
func (s IntermediateState) StackUint32() ([]uint32, error) {
	return elementsUint32(s.Stack)
}

// AltStackUint32 将备用栈逐元素解码为 32 位无符号整数
func (s IntermediateState) AltStackUint32() ([]uint32, error) {
	return elementsUint32(s.AltStack)
}

func (s IntermediateState) String() string {
	return fmt.Sprintf("stack: [%s], altstack: [%s]", formatElements(s.Stack), formatElements(s.AltStack))
}

func cloneElements(elements [][]byte) [][]byte {
	result := make([][]byte, len(elements))
	for i, element := range elements {
		result[i] = append([]byte{}, element...)
	}
	return result
}

func elementsEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func elementsUint32(elements [][]byte) ([]uint32, error) {
	result := make([]uint32, len(elements))
	for i, element := range elements {
		v, err := DecodeUint32(element)
		if err != nil {
			return nil, fmt.Errorf("解码第 %d 个元素失败: %w", i, err)
		}
		result[i] = v
	}
	return result, nil
}

func formatElements(elements [][]byte) string {
	parts := make([]string, len(elements))
	for i, element := range elements {
		parts[i] = fmt.Sprintf("%x", element)
	}
	return strings.Join(parts, " ")
}
