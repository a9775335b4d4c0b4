package script

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Builder 以链式调用的方式构建脚本。
// 与 txscript.ScriptBuilder 不同，Builder 不限制脚本总长度（tapscript 没有该限制），
// 单条推送指令仍交由 txscript.ScriptBuilder 编码以保证最小推送规则。
type Builder struct {
	script []byte
	err    error
}

// NewBuilder 返回一个新的脚本构建器
func NewBuilder() *Builder {
	return &Builder{script: make([]byte, 0, 64)}
}

// AddOp 追加一个操作码
func (b *Builder) AddOp(opcode byte) *Builder {
	if b.err != nil {
		return b
	}
	b.script = append(b.script, opcode)
	return b
}

// AddOps 依次追加多个操作码
func (b *Builder) AddOps(opcodes ...byte) *Builder {
	if b.err != nil {
		return b
	}
	b.script = append(b.script, opcodes...)
	return b
}

// AddRepeated 将一组操作码重复追加 n 次
func (b *Builder) AddRepeated(n int, opcodes ...byte) *Builder {
	for i := 0; i < n && b.err == nil; i++ {
		b.AddOps(opcodes...)
	}
	return b
}

// AddData 以规范（最小）方式追加一条数据推送
func (b *Builder) AddData(data []byte) *Builder {
	if b.err != nil {
		return b
	}
	push, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		b.err = fmt.Errorf("编码数据推送失败: %w", err)
		return b
	}
	b.script = append(b.script, push...)
	return b
}

// AddInt64 以脚本数字的最小编码追加一个整数推送
func (b *Builder) AddInt64(val int64) *Builder {
	if b.err != nil {
		return b
	}
	push, err := txscript.NewScriptBuilder().AddInt64(val).Script()
	if err != nil {
		b.err = fmt.Errorf("编码整数推送失败: %w", err)
		return b
	}
	b.script = append(b.script, push...)
	return b
}

// AddScript 追加一段完整脚本
func (b *Builder) AddScript(s Script) *Builder {
	if b.err != nil {
		return b
	}
	b.script = append(b.script, s...)
	return b
}

// Script 返回构建结果以及构建过程中遇到的第一个错误
func (b *Builder) Script() (Script, error) {
	if b.err != nil {
		return nil, b.err
	}
	result := make(Script, len(b.script))
	copy(result, b.script)
	return result, nil
}

// MustScript 与 Script 相同，但在出错时 panic。
// 只应在推送内容已知合法（如常量数字、20 字节哈希）时使用。
func (b *Builder) MustScript() Script {
	s, err := b.Script()
	if err != nil {
		panic(err)
	}
	return s
}
