package split

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/distributed-lab/nero/script"
	"github.com/stretchr/testify/require"
)

func newTestSplitter(t *testing.T, cfg Config) (*Splitter, *script.Interpreter) {
	t.Helper()

	keyBytes, err := hex.DecodeString("50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0")
	require.NoError(t, err)
	key, err := schnorr.ParsePubKey(keyBytes)
	require.NoError(t, err)

	in := script.NewInterpreter(key)
	return NewSplitter(in, cfg), in
}

// repeated 将一组操作码重复 n 次
func repeated(n int, opcodes ...byte) script.Script {
	return script.NewBuilder().AddRepeated(n, opcodes...).MustScript()
}

// altStackProgram 是一个同时使用主栈和备用栈的测试程序：每轮 x -> 2x+1
func altStackProgram(rounds int) script.Script {
	return repeated(rounds,
		txscript.OP_DUP, txscript.OP_TOALTSTACK, txscript.OP_1ADD,
		txscript.OP_FROMALTSTACK, txscript.OP_ADD,
	)
}

// TestShards 测试分片边界
func TestShards(t *testing.T) {
	shards, err := Shards(repeated(10, txscript.OP_NOP), ByInstructions, 3)
	require.NoError(t, err)
	require.Len(t, shards, 4)
	require.Equal(t, 3, shards[0].Len())
	require.Equal(t, 1, shards[3].Len())

	// 按字节拆分：每条推送 3 字节
	program := script.NewBuilder().AddInt64(1000).AddInt64(1000).AddInt64(1000).AddOp(txscript.OP_NOP).MustScript()
	shards, err = Shards(program, ByBytes, 5)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.Equal(t, 6, shards[0].Len())
	require.Equal(t, 4, shards[1].Len())

	// 分片边界推迟到条件块闭合之后
	conditional := script.Script{
		txscript.OP_1, txscript.OP_IF, txscript.OP_NOP, txscript.OP_NOP, txscript.OP_ENDIF, txscript.OP_NOP,
	}
	shards, err = Shards(conditional, ByInstructions, 2)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.Equal(t, 5, shards[0].Len())
	require.True(t, script.Concat(shards...).Equal(conditional))

	_, err = Shards(conditional, ByInstructions, 0)
	require.ErrorIs(t, err, ErrZeroChunkSize)

	_, err = Shards(nil, ByInstructions, 10)
	require.ErrorIs(t, err, ErrEmptyProgram)

	_, err = Shards(conditional, SplitType(7), 10)
	require.ErrorIs(t, err, ErrUnknownSplitType)
}

// TestShardReplay 测试逐个执行分片与直接执行整个程序的结果一致
func TestShardReplay(t *testing.T) {
	splitter, in := newTestSplitter(t, DefaultConfig())

	program := altStackProgram(20)
	input := script.NewBuilder().AddInt64(1).MustScript()

	start, err := in.Inject(input)
	require.NoError(t, err)
	expected, err := in.Execute(program, start)
	require.NoError(t, err)

	for _, splitType := range []SplitType{ByInstructions, ByBytes} {
		for chunkSize := 1; chunkSize <= 12; chunkSize++ {
			result, err := splitter.NaiveSplit(input, program, splitType, chunkSize)
			require.NoError(t, err)

			// 长度不变量
			require.Equal(t, len(result.Shards), len(result.IntermediateStates))
			require.True(t, script.Concat(result.Shards...).Equal(program))

			last := result.MustLastState()
			if !last.Equal(expected) {
				t.Fatalf("%s/%d: last state mismatch\n%s", splitType, chunkSize, spew.Sdump(last, expected))
			}

			// 每个中间状态都可以由上一个状态重放得到
			prev := start
			for i, shard := range result.Shards {
				next, err := in.Execute(shard, prev)
				require.NoError(t, err)
				require.True(t, next.Equal(result.IntermediateStates[i]))
				prev = next
			}
		}
	}
}

// TestSplitErrors 测试拆分的错误情况
func TestSplitErrors(t *testing.T) {
	splitter, _ := newTestSplitter(t, DefaultConfig())

	input := script.NewBuilder().AddInt64(1).MustScript()

	_, err := splitter.NaiveSplit(input, nil, ByInstructions, 10)
	require.ErrorIs(t, err, ErrEmptyProgram)

	_, err = splitter.NaiveSplit(input, altStackProgram(2), ByInstructions, 0)
	require.ErrorIs(t, err, ErrZeroChunkSize)

	_, err = splitter.NaiveSplit(script.Script{txscript.OP_DUP}, altStackProgram(2), ByInstructions, 3)
	require.ErrorIs(t, err, ErrInputNotPushOnly)

	// 执行失败原样传递给调用者
	failing := script.Concat(altStackProgram(2), script.Script{txscript.OP_RETURN}, altStackProgram(2))
	_, err = splitter.NaiveSplit(input, failing, ByInstructions, 4)
	var execErr *script.ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	require.True(t, script.IsErrorCode(err, txscript.ErrEarlyReturn))

	empty := &SplitResult{}
	_, err = empty.LastState()
	require.ErrorIs(t, err, ErrEmptySplitResult)
	require.Panics(t, func() { empty.MustLastState() })
}

// TestComplexityIndex 以手算的例子测试复杂度
func TestComplexityIndex(t *testing.T) {
	shard := script.Script(bytes.Repeat([]byte{txscript.OP_NOP}, 250))
	sizes := []int{2, 3, 3, 1}

	result := &SplitResult{}
	for _, size := range sizes {
		result.Shards = append(result.Shards, shard)
		result.IntermediateStates = append(result.IntermediateStates, script.StateFromNumbers(make([]int64, size), nil))
	}

	// 270, 300, 310, 290
	require.Equal(t, 270, result.ShardComplexity(0, 10))
	require.Equal(t, 300, result.ShardComplexity(1, 10))
	require.Equal(t, 310, result.ComplexityIndex(10))
	require.Equal(t, 9, result.TotalStatesSize())
	require.Equal(t, 3, result.MaxStatesSize())
	require.Equal(t, 6, result.MaxAdjacentStatesSize())
}

// TestComplexityMonotonicity 测试分片变小时复杂度不增
func TestComplexityMonotonicity(t *testing.T) {
	splitter, _ := newTestSplitter(t, DefaultConfig())

	program := repeated(120, txscript.OP_DUP, txscript.OP_DROP)
	input := script.NewBuilder().AddInt64(5).MustScript()

	expected := map[int]int{80: 100, 40: 60, 20: 40, 10: 30}
	previous := -1
	for _, chunkSize := range []int{80, 40, 20, 10} {
		result, err := splitter.NaiveSplit(input, program, ByInstructions, chunkSize)
		require.NoError(t, err)

		complexity := result.ComplexityIndex(10)
		require.Equal(t, expected[chunkSize], complexity)
		if previous >= 0 && complexity > previous {
			t.Fatalf("complexity grew from %d to %d at chunk size %d", previous, complexity, chunkSize)
		}
		previous = complexity
	}
}

// TestDistort 测试篡改保持形状但改变数值
func TestDistort(t *testing.T) {
	splitter, _ := newTestSplitter(t, DefaultConfig())

	input := script.NewBuilder().AddInt64(1).MustScript()
	result, err := splitter.NaiveSplit(input, altStackProgram(10), ByInstructions, 5)
	require.NoError(t, err)
	original := result.Clone()

	for seed := int64(0); seed < 10; seed++ {
		distorted, idx, err := result.Distort(rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, result.Len())
		require.Equal(t, result.Len(), distorted.Len())

		before, after := result.IntermediateStates[idx], distorted.IntermediateStates[idx]
		require.Equal(t, before.Size(), after.Size())
		require.False(t, before.Equal(after))
		for i := range result.IntermediateStates {
			if i != idx {
				require.True(t, result.IntermediateStates[i].Equal(distorted.IntermediateStates[i]))
			}
		}

		// 相同的种子选择相同的分片
		_, again, err := result.Distort(rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.Equal(t, idx, again)
	}

	// 原结果不受影响
	for i := range original.IntermediateStates {
		require.True(t, original.IntermediateStates[i].Equal(result.IntermediateStates[i]))
	}

	// 栈顶恰好等于哨兵值时仍然会改变
	sentinel := &SplitResult{
		Shards:             []script.Script{{txscript.OP_NOP}},
		IntermediateStates: []script.IntermediateState{script.StateFromNumbers([]int64{distortionSentinel}, nil)},
	}
	distorted, _, err := sentinel.Distort(nil)
	require.NoError(t, err)
	require.False(t, distorted.IntermediateStates[0].Equal(sentinel.IntermediateStates[0]))

	emptyStack := &SplitResult{
		Shards:             []script.Script{{txscript.OP_NOP}},
		IntermediateStates: []script.IntermediateState{script.StateFromNumbers(nil, []int64{1})},
	}
	_, _, err = emptyStack.Distort(nil)
	require.ErrorIs(t, err, ErrEmptyStack)

	_, _, err = (&SplitResult{}).Distort(nil)
	require.ErrorIs(t, err, ErrEmptySplitResult)
}

// TestFuzzySplit 测试模糊拆分选择复杂度最小的候选
func TestFuzzySplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultChunkSize = 20
	cfg.StackSizeIndex = 10
	cfg.FuzzyCandidates = 5
	cfg.FuzzyStepPercent = 25
	splitter, _ := newTestSplitter(t, cfg)

	require.Equal(t, []int{20, 15, 25, 10, 30}, splitter.fuzzyCandidates(20))

	program := altStackProgram(30)
	input := script.NewBuilder().AddInt64(1).MustScript()

	best, err := splitter.FuzzySplit(context.Background(), input, program, ByInstructions)
	require.NoError(t, err)
	require.True(t, best.MustLastState().Equal(mustSplit(t, splitter, input, program, 20).MustLastState()))

	for _, chunkSize := range splitter.fuzzyCandidates(20) {
		candidate := mustSplit(t, splitter, input, program, chunkSize)
		require.LessOrEqual(t, splitter.ComplexityIndex(best), splitter.ComplexityIndex(candidate))
	}

	// 上限过小
	cfg.MaxScriptSize = 1
	strict, _ := newTestSplitter(t, cfg)
	_, err = strict.FuzzySplit(context.Background(), input, program, ByInstructions)
	require.ErrorIs(t, err, ErrNoValidSplit)

	// 取消
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = splitter.FuzzySplit(ctx, input, program, ByInstructions)
	require.ErrorIs(t, err, context.Canceled)
}

// cancelAfterInject 在第 n 次注入输入后取消 ctx，用于在搜索中途取消
type cancelAfterInject struct {
	*script.Interpreter
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfterInject) Inject(input script.Script) (script.IntermediateState, error) {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return c.Interpreter.Inject(input)
}

// TestFuzzySplitCancelMidway 测试已评估部分候选后取消仍然返回 ctx 的错误
func TestFuzzySplitCancelMidway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultChunkSize = 20
	cfg.StackSizeIndex = 10
	cfg.FuzzyCandidates = 5
	cfg.FuzzyStepPercent = 25
	_, in := newTestSplitter(t, cfg)

	program := altStackProgram(30)
	input := script.NewBuilder().AddInt64(1).MustScript()

	for _, n := range []int{1, 2, 4} {
		ctx, cancel := context.WithCancel(context.Background())
		exec := &cancelAfterInject{Interpreter: in, n: n, cancel: cancel}
		result, err := NewSplitter(exec, cfg).FuzzySplit(ctx, input, program, ByInstructions)
		cancel()
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("第 %d 个候选后取消: 期望 context.Canceled, 实际 %v", n, err)
		}
		require.Nil(t, result)
	}
}

// TestFuzzySplitEstimateLimit 测试候选按 ComplexityIndex 与上限比较，恰好等于上限的候选可以被选中
func TestFuzzySplitEstimateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultChunkSize = 20
	cfg.StackSizeIndex = 10
	cfg.FuzzyCandidates = 5
	cfg.FuzzyStepPercent = 25
	splitter, _ := newTestSplitter(t, cfg)

	program := altStackProgram(30)
	input := script.NewBuilder().AddInt64(1).MustScript()

	best, err := splitter.FuzzySplit(context.Background(), input, program, ByInstructions)
	require.NoError(t, err)

	cfg.MaxScriptSize = splitter.ComplexityIndex(best)
	exact, _ := newTestSplitter(t, cfg)
	result, err := exact.FuzzySplit(context.Background(), input, program, ByInstructions)
	require.NoError(t, err)
	require.Equal(t, cfg.MaxScriptSize, exact.ComplexityIndex(result))

	cfg.MaxScriptSize--
	below, _ := newTestSplitter(t, cfg)
	_, err = below.FuzzySplit(context.Background(), input, program, ByInstructions)
	require.ErrorIs(t, err, ErrNoValidSplit)
}

func mustSplit(t *testing.T, splitter *Splitter, input, program script.Script, chunkSize int) *SplitResult {
	t.Helper()
	result, err := splitter.NaiveSplit(input, program, ByInstructions, chunkSize)
	require.NoError(t, err)
	return result
}
