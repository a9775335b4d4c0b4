package disprove

import "errors"

var (
	// ErrElementOutOfRange 表示栈元素无法解码为可签名的数值
	ErrElementOutOfRange = errors.New("栈元素不是可签名的数值")
	// ErrEmptySeed 表示确定性签名的种子为空
	ErrEmptySeed = errors.New("种子不能为空")
	// ErrNilSplitResult 表示拆分结果为空
	ErrNilSplitResult = errors.New("拆分结果为空")
)
