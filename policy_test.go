package nero

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
)

// TestCheckProgramStandard 测试 checkProgramStandard API。
func TestCheckProgramStandard(t *testing.T) {
	tests := []struct {
		name       string // 测试描述。
		program    script.Script
		isStandard bool
	}{
		{
			name:       "arithmetic",
			program:    doublingProgram(3),
			isStandard: true,
		},
		{
			name:       "max element push",
			program:    script.NewBuilder().AddData(bytes.Repeat([]byte{1}, txscript.MaxScriptElementSize)).AddOp(txscript.OP_DROP).MustScript(),
			isStandard: true,
		},
		{
			name:       "empty",
			program:    nil,
			isStandard: false,
		},
		{
			name:       "op success",
			program:    script.Script{txscript.OP_1, txscript.OP_CAT},
			isStandard: false,
		},
		{
			name: "oversized push",
			program: append(
				script.Script{txscript.OP_PUSHDATA2, 0x09, 0x02}, // 521 字节
				bytes.Repeat([]byte{1}, txscript.MaxScriptElementSize+1)...,
			),
			isStandard: false,
		},
		{
			name:       "truncated push",
			program:    script.Script{txscript.OP_DATA_5, 1, 2},
			isStandard: false,
		},
	}

	for _, test := range tests {
		err := checkProgramStandard(test.program)
		if err != nil && test.isStandard {
			t.Fatalf("TestCheckProgramStandard test '%s' failed: %v", test.name, err)
		}
		if err == nil && !test.isStandard {
			t.Fatalf("TestCheckProgramStandard test '%s' succeeded when it should have failed", test.name)
		}
	}
}

// TestCheckInputPushOnly 测试 checkInputPushOnly API。
func TestCheckInputPushOnly(t *testing.T) {
	tests := []struct {
		name  string
		input script.Script
		err   error
	}{
		{name: "empty", input: nil},
		{name: "small ints", input: script.Script{txscript.OP_0, txscript.OP_1NEGATE, txscript.OP_16}},
		{name: "data", input: script.NewBuilder().AddInt64(1 << 30).AddData([]byte{1, 2, 3}).MustScript()},
		{name: "opcode", input: script.Script{txscript.OP_1, txscript.OP_DUP}, err: split.ErrInputNotPushOnly},
	}

	for _, test := range tests {
		err := checkInputPushOnly(test.input)
		if err != test.err {
			t.Fatalf("TestCheckInputPushOnly test '%s': 得到 %v, 期望 %v", test.name, err, test.err)
		}
	}
}
