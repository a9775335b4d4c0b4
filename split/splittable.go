package split

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
)

// IOPair 是一组输入与期望输出，二者都是仅包含推送的程序
type IOPair struct {
	Input  script.Script
	Output script.Script
}

// Splittable 是可以被拆分的计算。每个具体计算实现一次，
// 使拆分引擎与反驳脚本生成器不依赖于任何具体程序。
type Splittable interface {
	// InputSize 返回输入占用的栈元素个数
	InputSize() int
	// OutputSize 返回输出占用的栈元素个数
	OutputSize() int
	// Script 返回计算的主体程序
	Script() script.Script
	// GenerateValidIO 生成一组随机的正确输入输出
	GenerateValidIO() (IOPair, error)
	// GenerateInvalidIO 生成一组随机的错误输入输出
	GenerateInvalidIO() (IOPair, error)
}

// ChunkSizer 由需要覆盖默认分片大小的计算实现
type ChunkSizer interface {
	DefaultChunkSize() int
}

// Runner 完整地执行程序并判断是否成功
type Runner interface {
	Run(program script.Script, witness [][]byte) error
}

// VerificationScript 返回 input ++ program ++ output ++ 比较输出 ++ OP_TRUE
func VerificationScript(s Splittable, io IOPair) script.Script {
	return script.Concat(
		io.Input,
		s.Script(),
		io.Output,
		script.LongEqualVerify(s.OutputSize()),
		script.Script{txscript.OP_TRUE},
	)
}

// Verify 校验输入输出对是否与计算一致
func Verify(runner Runner, s Splittable, io IOPair) error {
	if err := runner.Run(VerificationScript(s, io), nil); err != nil {
		return fmt.Errorf("输入输出不匹配: %w", err)
	}
	return nil
}

// chunkSizeFor 返回计算的默认分片大小，未覆盖时使用配置值
func (s *Splitter) chunkSizeFor(sc Splittable, splitType SplitType) int {
	if sizer, ok := sc.(ChunkSizer); ok && splitType == ByInstructions {
		if size := sizer.DefaultChunkSize(); size > 0 {
			return size
		}
	}
	return s.DefaultChunkSize(splitType)
}

// SplitScript 使用计算自身的默认分片大小拆分
func (s *Splitter) SplitScript(input script.Script, sc Splittable, splitType SplitType) (*SplitResult, error) {
	return s.NaiveSplit(input, sc.Script(), splitType, s.chunkSizeFor(sc, splitType))
}

// FuzzySplitScript 对计算执行模糊拆分
func (s *Splitter) FuzzySplitScript(ctx context.Context, input script.Script, sc Splittable, splitType SplitType) (*SplitResult, error) {
	return s.fuzzySplit(ctx, input, sc.Script(), splitType, s.chunkSizeFor(sc, splitType))
}
