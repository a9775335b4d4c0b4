// Package split 将一个大程序拆分为若干分片，并计算每个分片执行后的中间状态。
package split

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/distributed-lab/nero/script"
	"github.com/sirupsen/logrus"
)

// SplitType 决定分片边界的度量方式
type SplitType int

const (
	// ByInstructions 按指令数量拆分（默认）
	ByInstructions SplitType = iota
	// ByBytes 按序列化字节数拆分
	ByBytes
)

func (t SplitType) String() string {
	switch t {
	case ByInstructions:
		return "instructions"
	case ByBytes:
		return "bytes"
	default:
		return fmt.Sprintf("SplitType(%d)", int(t))
	}
}

// Executor 是拆分所需的解释器能力
type Executor interface {
	Execute(program script.Script, state script.IntermediateState) (script.IntermediateState, error)
	Inject(input script.Script) (script.IntermediateState, error)
}

// Config 是拆分引擎的参数
type Config struct {
	DefaultChunkSize     int // 按指令拆分时的默认分片大小
	DefaultByteChunkSize int // 按字节拆分时的默认分片大小
	// StackSizeIndex 是承诺一个栈元素相对于一个程序字节的链上代价
	StackSizeIndex int
	// MaxScriptSize 是单个反驳脚本允许的最大复杂度
	MaxScriptSize    int
	FuzzyCandidates  int // 模糊拆分最多尝试的分片大小个数
	FuzzyStepPercent int // 模糊拆分相邻候选之间的步长（默认分片大小的百分比）
}

// DefaultConfig 返回推荐的拆分参数
func DefaultConfig() Config {
	return Config{
		DefaultChunkSize:     1000,
		DefaultByteChunkSize: 1500,
		StackSizeIndex:       1000,
		MaxScriptSize:        400000,
		FuzzyCandidates:      9,
		FuzzyStepPercent:     10,
	}
}

// Splitter 是拆分引擎
type Splitter struct {
	exec Executor
	cfg  Config
}

// NewSplitter 返回使用给定解释器与参数的拆分引擎
func NewSplitter(exec Executor, cfg Config) *Splitter {
	return &Splitter{exec: exec, cfg: cfg}
}

// Config 返回拆分参数
func (s *Splitter) Config() Config {
	return s.cfg
}

// DefaultChunkSize 返回该拆分方式的默认分片大小
func (s *Splitter) DefaultChunkSize(splitType SplitType) int {
	if splitType == ByBytes {
		return s.cfg.DefaultByteChunkSize
	}
	return s.cfg.DefaultChunkSize
}

// ComplexityIndex 按配置的 StackSizeIndex 计算复杂度
func (s *Splitter) ComplexityIndex(result *SplitResult) int {
	return result.ComplexityIndex(s.cfg.StackSizeIndex)
}

// NaiveSplit 按 chunkSize 依次切分程序，并从 input 出发逐个执行分片得到中间状态
func (s *Splitter) NaiveSplit(input, program script.Script, splitType SplitType, chunkSize int) (*SplitResult, error) {
	// 1. 输入只能包含推送
	if !txscript.IsPushOnlyScript(input) {
		return nil, ErrInputNotPushOnly
	}

	// 2. 切分
	shards, err := Shards(program, splitType, chunkSize)
	if err != nil {
		return nil, err
	}

	// 3. 初始状态
	state, err := s.exec.Inject(input)
	if err != nil {
		logrus.Errorf("[NaiveSplit] 注入输入失败:\t%v", err)
		return nil, fmt.Errorf("注入输入失败: %w", err)
	}

	// 4. 逐个执行分片
	result := &SplitResult{
		Shards:             shards,
		IntermediateStates: make([]script.IntermediateState, 0, len(shards)),
	}
	for i, shard := range shards {
		state, err = s.exec.Execute(shard, state)
		if err != nil {
			logrus.Errorf("[NaiveSplit] 执行第 %d 个分片失败:\t%v", i, err)
			return nil, fmt.Errorf("执行第 %d 个分片失败: %w", i, err)
		}
		result.IntermediateStates = append(result.IntermediateStates, state)
	}

	logrus.Debugf("[NaiveSplit] 拆分完成: %d 个分片, 分片大小 %d (%s)", len(shards), chunkSize, splitType)
	return result, nil
}

// DefaultSplit 使用默认分片大小拆分
func (s *Splitter) DefaultSplit(input, program script.Script, splitType SplitType) (*SplitResult, error) {
	return s.NaiveSplit(input, program, splitType, s.DefaultChunkSize(splitType))
}

// FuzzySplit 在默认分片大小附近尝试多个候选，返回复杂度最小且每个分片都不超过上限的拆分。
// 每个候选都需要完整执行一次程序，只适合离线使用。
// 候选按 ComplexityIndex 估计的复杂度筛选与比较，它只是反驳脚本大小的估计值，不是生成后的实际字节数。
// ctx 取消或超时时立即返回 ctx 的错误，已评估候选中的最优结果不会返回。
func (s *Splitter) FuzzySplit(ctx context.Context, input, program script.Script, splitType SplitType) (*SplitResult, error) {
	return s.fuzzySplit(ctx, input, program, splitType, s.DefaultChunkSize(splitType))
}

func (s *Splitter) fuzzySplit(ctx context.Context, input, program script.Script, splitType SplitType, base int) (*SplitResult, error) {
	var (
		best           *SplitResult
		bestComplexity int
	)

	for _, chunkSize := range s.fuzzyCandidates(base) {
		select {
		case <-ctx.Done():
			if best != nil {
				logrus.Warnf("[FuzzySplit] 搜索被取消，丢弃当前最优拆分 (复杂度 %d)", bestComplexity)
			}
			return nil, fmt.Errorf("模糊拆分被取消: %w", ctx.Err())
		default:
		}

		result, err := s.NaiveSplit(input, program, splitType, chunkSize)
		if err != nil {
			return nil, err
		}

		complexity := s.ComplexityIndex(result)
		logrus.Debugf("[FuzzySplit] 分片大小 %d: %d 个分片, 复杂度 %d", chunkSize, result.Len(), complexity)
		if complexity > s.cfg.MaxScriptSize {
			continue
		}
		if best == nil || complexity < bestComplexity {
			best, bestComplexity = result, complexity
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: 上限 %d", ErrNoValidSplit, s.cfg.MaxScriptSize)
	}
	return best, nil
}

// fuzzyCandidates 返回以 base 为中心、交替向两侧扩展的候选分片大小
func (s *Splitter) fuzzyCandidates(base int) []int {
	limit := s.cfg.FuzzyCandidates
	if limit < 1 {
		limit = 1
	}
	step := base * s.cfg.FuzzyStepPercent / 100
	if step < 1 {
		step = 1
	}

	candidates := []int{base}
	for k := 1; len(candidates) < limit; k++ {
		smaller, larger := base-k*step, base+k*step
		if smaller >= 1 {
			candidates = append(candidates, smaller)
		}
		if len(candidates) < limit {
			candidates = append(candidates, larger)
		}
	}
	return candidates
}

// Shards 按 chunkSize 把程序切分为分片。
// 分片边界不会落在未闭合的 OP_IF/OP_NOTIF 块内部，此时边界推迟到最外层块闭合之后。
func Shards(program script.Script, splitType SplitType, chunkSize int) ([]script.Script, error) {
	if chunkSize <= 0 {
		return nil, ErrZeroChunkSize
	}
	if splitType != ByInstructions && splitType != ByBytes {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSplitType, splitType)
	}

	instructions, err := program.Instructions()
	if err != nil {
		return nil, err
	}
	if len(instructions) == 0 {
		return nil, ErrEmptyProgram
	}

	var (
		shards  []script.Script
		current script.Script
		size    int
		depth   int
	)
	for _, ins := range instructions {
		current = append(current, ins.Raw...)
		switch splitType {
		case ByBytes:
			size += len(ins.Raw)
		default:
			size++
		}

		switch {
		case ins.IsConditionalOpen():
			depth++
		case ins.IsConditionalClose():
			depth--
		}

		if size >= chunkSize && depth <= 0 {
			shards = append(shards, current)
			current, size = nil, 0
		}
	}
	if len(current) > 0 {
		shards = append(shards, current)
	}

	return shards, nil
}
