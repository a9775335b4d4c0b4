package split

import "errors"

var (
	// ErrEmptyProgram 表示待拆分的程序不包含任何指令
	ErrEmptyProgram = errors.New("程序不包含任何指令")
	// ErrZeroChunkSize 表示分片大小为零
	ErrZeroChunkSize = errors.New("分片大小必须大于零")
	// ErrInputNotPushOnly 表示输入程序包含推送以外的指令
	ErrInputNotPushOnly = errors.New("输入程序只能包含推送指令")
	// ErrEmptySplitResult 表示拆分结果中没有任何分片
	ErrEmptySplitResult = errors.New("拆分结果为空")
	// ErrEmptyStack 表示被篡改的中间状态主栈为空
	ErrEmptyStack = errors.New("中间状态的主栈为空")
	// ErrNoValidSplit 表示所有尝试的分片大小都超出脚本大小上限
	ErrNoValidSplit = errors.New("不存在满足脚本大小上限的拆分")
	// ErrUnknownSplitType 表示未知的拆分方式
	ErrUnknownSplitType = errors.New("未知的拆分方式")
)
