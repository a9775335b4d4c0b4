package nero

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
)

// checkProgramStandard 对程序执行一系列检查，以确保它可以作为 tapscript 叶子逐段执行：
// 程序非空、可以解析、不包含 OP_SUCCESSx，且每次推送不超过 MaxScriptElementSize。
func checkProgramStandard(program script.Script) error {
	if program.IsEmpty() {
		return split.ErrEmptyProgram
	}

	// OP_SUCCESSx 会让整个叶子无条件成功
	if txscript.ScriptHasOpSuccess(program) {
		return fmt.Errorf("程序包含 OP_SUCCESS 操作码")
	}

	instructions, err := program.Instructions()
	if err != nil {
		return fmt.Errorf("程序解析失败: %w", err)
	}
	for _, ins := range instructions {
		if len(ins.Data) > txscript.MaxScriptElementSize {
			return fmt.Errorf("位置 %d 的推送数据 %d 字节，超过上限 %d", ins.Offset, len(ins.Data), txscript.MaxScriptElementSize)
		}
	}

	return nil
}

// checkInputPushOnly 检查输入程序只包含推送指令
func checkInputPushOnly(input script.Script) error {
	if input.IsEmpty() {
		return nil
	}
	if !txscript.IsPushOnlyScript(input) {
		return split.ErrInputNotPushOnly
	}
	return nil
}
