package script

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnbalancedConditional 表示程序中的条件块没有正确闭合
	ErrUnbalancedConditional = errors.New("条件块不平衡")
	// ErrNumberTooLarge 表示栈元素超过脚本数字允许的长度
	ErrNumberTooLarge = errors.New("脚本数字过长")
	// ErrNumberOutOfRange 表示脚本数字超出期望的取值范围
	ErrNumberOutOfRange = errors.New("脚本数字超出范围")
	// ErrEmptyProgram 表示程序不包含任何指令
	ErrEmptyProgram = errors.New("程序为空")
)

// ExecutionError 描述解释器执行程序时的失败
type ExecutionError struct {
	Step int   // 失败指令在程序中的序号，完整花费时为 -1
	Err  error // 底层引擎返回的错误
}

func (e *ExecutionError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("执行程序失败: %v", e.Err)
	}
	return fmt.Sprintf("执行程序第 %d 条指令失败: %v", e.Step, e.Err)
}

// Unwrap 返回底层错误，便于使用 errors.As 取得 txscript.Error
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsErrorCode 判断错误链中是否存在指定错误码的 txscript.Error。
// txscript.IsErrorCode 只检查最外层的错误，无法穿过 ExecutionError 与 %w 包装。
func IsErrorCode(err error, code txscript.ErrorCode) bool {
	var serr txscript.Error
	return errors.As(err, &serr) && serr.ErrorCode == code
}
