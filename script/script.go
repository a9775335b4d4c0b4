// Package script 提供程序（脚本）的表示、构建、解析以及基于 btcd 的执行适配器。
package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// scriptVersion 是分词器使用的脚本版本，tapscript 叶子的版本同样为 0
const scriptVersion = 0

// Script 表示一段不可变的栈机指令序列（比特币脚本）
type Script []byte

// Instruction 表示脚本中的一条已解析指令
type Instruction struct {
	Opcode byte   // 操作码
	Data   []byte // 推送的数据（非推送指令为空）
	Offset int    // 指令在脚本中的起始字节位置
	Raw    []byte // 指令的原始编码
}

// IsConditionalOpen 判断指令是否打开一个条件块
func (ins Instruction) IsConditionalOpen() bool {
	return ins.Opcode == txscript.OP_IF || ins.Opcode == txscript.OP_NOTIF
}

// IsConditionalClose 判断指令是否关闭一个条件块
func (ins Instruction) IsConditionalClose() bool {
	return ins.Opcode == txscript.OP_ENDIF
}

// Len 返回脚本的序列化字节长度
func (s Script) Len() int {
	return len(s)
}

// IsEmpty 判断脚本是否为空
func (s Script) IsEmpty() bool {
	return len(s) == 0
}

// Instructions 解析脚本并返回全部指令
func (s Script) Instructions() ([]Instruction, error) {
	var instructions []Instruction

	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, s)
	start := 0
	for tokenizer.Next() {
		end := int(tokenizer.ByteIndex())
		instructions = append(instructions, Instruction{
			Opcode: tokenizer.Opcode(),
			Data:   tokenizer.Data(),
			Offset: start,
			Raw:    s[start:end],
		})
		start = end
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("解析脚本失败: %w", err)
	}

	return instructions, nil
}

// InstructionCount 返回脚本中的指令数量
func (s Script) InstructionCount() (int, error) {
	count := 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, s)
	for tokenizer.Next() {
		count++
	}
	if err := tokenizer.Err(); err != nil {
		return 0, fmt.Errorf("解析脚本失败: %w", err)
	}

	return count, nil
}

// Equal 判断两个脚本是否逐字节相同
func (s Script) Equal(other Script) bool {
	return bytes.Equal(s, other)
}

// String 返回脚本的反汇编文本，解析失败时返回十六进制
func (s Script) String() string {
	disasm, err := txscript.DisasmString(s)
	if err != nil {
		return fmt.Sprintf("%x", []byte(s))
	}
	return disasm
}

// Concat 按顺序拼接多个脚本
func Concat(scripts ...Script) Script {
	size := 0
	for _, s := range scripts {
		size += len(s)
	}

	result := make(Script, 0, size)
	for _, s := range scripts {
		result = append(result, s...)
	}
	return result
}

// checkConditionals 检查脚本中的 OP_IF/OP_NOTIF 与 OP_ENDIF 是否成对出现
func checkConditionals(instructions []Instruction) error {
	depth := 0
	for _, ins := range instructions {
		switch {
		case ins.IsConditionalOpen():
			depth++
		case ins.IsConditionalClose():
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: 字节位置 %d 处存在多余的 OP_ENDIF", ErrUnbalancedConditional, ins.Offset)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %d 个条件块未关闭", ErrUnbalancedConditional, depth)
	}

	return nil
}
