package disprove

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
	"github.com/distributed-lab/nero/testscripts"
	"github.com/distributed-lab/nero/winternitz"
	"github.com/stretchr/testify/require"
)

func newTestInterpreter(t *testing.T) *script.Interpreter {
	t.Helper()

	keyBytes, err := hex.DecodeString("50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0")
	require.NoError(t, err)
	key, err := schnorr.ParsePubKey(keyBytes)
	require.NoError(t, err)

	return script.NewInterpreter(key)
}

func newTestGenerator(t *testing.T, splitCfg split.Config, cfg Config) (*Generator, *split.Splitter, *script.Interpreter) {
	t.Helper()

	in := newTestInterpreter(t)
	splitter := split.NewSplitter(in, splitCfg)
	return NewGenerator(in, splitter, cfg), splitter, in
}

// doublingProgram 每轮把 x 变为 2x+1，中途使用备用栈
func doublingProgram(rounds int) script.Script {
	return script.NewBuilder().AddRepeated(rounds,
		txscript.OP_DUP, txscript.OP_TOALTSTACK, txscript.OP_1ADD,
		txscript.OP_FROMALTSTACK, txscript.OP_ADD,
	).MustScript()
}

// TestSignState 测试状态签名以及见证与校验脚本的往返
func TestSignState(t *testing.T) {
	in := newTestInterpreter(t)

	states := []script.IntermediateState{
		script.StateFromNumbers([]int64{1, 2, 300}, []int64{7, 8}),
		script.StateFromNumbers([]int64{0}, nil),
		script.StateFromNumbers(nil, []int64{winternitz.MaxValue, 0, 16}),
		script.StateFromNumbers([]int64{0x0badf00d, 15, 256}, []int64{1}),
	}

	for _, compact := range []bool{false, true} {
		for _, state := range states {
			signed, err := SignState(state, systemReader(t))
			require.NoError(t, err)
			require.Equal(t, state.Size(), signed.Size())
			require.True(t, signed.State().Equal(state))

			witness := signed.Witness(compact)
			if !compact {
				require.Len(t, witness, 2*winternitz.N*state.Size())
			}

			program := script.Concat(signed.VerifyToAltStack(compact), signed.FromAltStack())
			recovered, err := in.Execute(program, script.IntermediateState{Stack: witness})
			require.NoError(t, err)
			if !recovered.Equal(state) {
				t.Fatalf("compact=%v: recovered state mismatch\n%s", compact, spew.Sdump(recovered, state))
			}
		}
	}

	// 负数与过长的元素无法签名
	_, err := SignState(script.StateFromNumbers([]int64{-1}, nil), systemReader(t))
	require.ErrorIs(t, err, ErrElementOutOfRange)

	_, err = SignState(script.IntermediateState{AltStack: [][]byte{{1, 2, 3, 4, 5}}}, systemReader(t))
	require.ErrorIs(t, err, ErrElementOutOfRange)
}

func systemReader(t *testing.T) io.Reader {
	t.Helper()
	reader, err := SystemEntropy{}.ForState(0)
	require.NoError(t, err)
	return reader
}

// TestBuild 测试单个状态转换的反驳脚本
func TestBuild(t *testing.T) {
	for _, compact := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Compact = compact
		g, _, in := newTestGenerator(t, split.DefaultConfig(), cfg)

		shard := script.Script{txscript.OP_DUP, txscript.OP_TOALTSTACK, txscript.OP_1ADD}
		from := script.StateFromNumbers([]int64{3, 5}, []int64{2})
		to, err := in.Execute(shard, from)
		require.NoError(t, err)
		require.True(t, to.Equal(script.StateFromNumbers([]int64{3, 6}, []int64{2, 5})))

		tests := []struct {
			name        string
			to          script.IntermediateState
			satisfiable bool
		}{
			{"correct", to, false},
			{"stack top differs", script.StateFromNumbers([]int64{3, 7}, []int64{2, 5}), true},
			{"stack bottom differs", script.StateFromNumbers([]int64{4, 6}, []int64{2, 5}), true},
			{"alt stack top differs", script.StateFromNumbers([]int64{3, 6}, []int64{2, 9}), true},
			{"alt stack bottom differs", script.StateFromNumbers([]int64{3, 6}, []int64{0, 5}), true},
			{"swapped", script.StateFromNumbers([]int64{6, 3}, []int64{2, 5}), true},
			{"extra stack element", script.StateFromNumbers([]int64{3, 6, 0}, []int64{2, 5}), true},
			{"missing stack element", script.StateFromNumbers([]int64{6}, []int64{2, 5}), true},
			{"extra alt stack element", script.StateFromNumbers([]int64{3, 6}, []int64{2, 5, 1}), true},
			{"missing alt stack element", script.StateFromNumbers([]int64{3, 6}, []int64{5}), true},
			{"element moved between stacks", script.StateFromNumbers([]int64{3, 6, 5}, []int64{2}), true},
			{"empty", script.IntermediateState{}, true},
		}

		for _, test := range tests {
			d, err := g.Build(from, test.to, shard)
			require.NoError(t, err, test.name)
			require.Equal(t, test.satisfiable, g.Satisfiable(d), "compact=%v %s", compact, test.name)

			// 把见证作为推送脚本与验证脚本拼接后结果相同
			witnessScript, err := d.WitnessScript()
			require.NoError(t, err)
			err = in.Run(script.Concat(witnessScript, d.Verifier), nil)
			require.Equal(t, test.satisfiable, err == nil, "compact=%v %s: %v", compact, test.name, err)

			require.Equal(t, txscript.NewBaseTapLeaf(d.Verifier).TapHash(), d.LeafHash())
		}
	}
}

// TestBuildWithSeed 测试确定性构造
func TestBuildWithSeed(t *testing.T) {
	g, _, in := newTestGenerator(t, split.DefaultConfig(), DefaultConfig())

	shard := doublingProgram(1)
	from := script.StateFromNumbers([]int64{4}, nil)
	to, err := in.Execute(shard, from)
	require.NoError(t, err)

	seed := []byte("deterministic seed")
	first, err := g.BuildWithSeed(from, to, shard, seed)
	require.NoError(t, err)
	second, err := g.BuildWithSeed(from, to, shard, seed)
	require.NoError(t, err)
	require.Equal(t, first.WitnessElements(), second.WitnessElements())
	require.True(t, first.Verifier.Equal(second.Verifier))

	other, err := g.BuildWithSeed(from, to, shard, []byte("another seed"))
	require.NoError(t, err)
	require.NotEqual(t, first.WitnessElements(), other.WitnessElements())

	// 系统随机源每次不同，但都不可满足
	a, err := g.Build(from, to, shard)
	require.NoError(t, err)
	b, err := g.Build(from, to, shard)
	require.NoError(t, err)
	require.NotEqual(t, a.WitnessElements(), b.WitnessElements())
	for _, d := range []*DisproveScript{first, second, other, a, b} {
		require.False(t, g.Satisfiable(d))
	}

	_, err = g.BuildWithSeed(from, to, shard, nil)
	require.ErrorIs(t, err, ErrEmptySeed)
}

// TestSeedEntropy 测试确定性随机源
func TestSeedEntropy(t *testing.T) {
	read := func(e Entropy, i int) []byte {
		reader, err := e.ForState(i)
		require.NoError(t, err)
		buf := make([]byte, 64)
		_, err = io.ReadFull(reader, buf)
		require.NoError(t, err)
		return buf
	}

	e1, err := NewSeedEntropy([]byte{1, 2, 3})
	require.NoError(t, err)
	e2, err := NewSeedEntropy([]byte{1, 2, 3})
	require.NoError(t, err)

	require.Equal(t, read(e1, 0), read(e2, 0))
	require.Equal(t, read(e1, 7), read(e2, 7))
	require.NotEqual(t, read(e1, 0), read(e1, 1))

	// 同一个读取器的输出是连续的密钥流
	reader, err := e1.ForState(3)
	require.NoError(t, err)
	head := make([]byte, 32)
	tail := make([]byte, 32)
	_, err = io.ReadFull(reader, head)
	require.NoError(t, err)
	_, err = io.ReadFull(reader, tail)
	require.NoError(t, err)
	require.Equal(t, read(e1, 3), append(head, tail...))

	_, err = e1.ForState(-1)
	require.Error(t, err)

	_, err = NewSeedEntropy(nil)
	require.ErrorIs(t, err, ErrEmptySeed)
}

// TestFormDisproveScripts 测试批量构造：正确的拆分不可被反驳，相邻脚本共享承诺
func TestFormDisproveScripts(t *testing.T) {
	splitCfg := split.DefaultConfig()
	splitCfg.DefaultChunkSize = 3
	g, splitter, in := newTestGenerator(t, splitCfg, DefaultConfig())

	ctx := context.Background()
	input := script.NewBuilder().AddInt64(1).MustScript()
	program := doublingProgram(6)

	scripts, err := g.FormDisproveScriptsWithSeed(ctx, input, program, []byte("seed"))
	require.NoError(t, err)

	result, err := splitter.DefaultSplit(input, program, split.ByInstructions)
	require.NoError(t, err)
	require.Len(t, scripts, result.Len())

	start, err := in.Inject(input)
	require.NoError(t, err)
	states := append([]script.IntermediateState{start}, result.IntermediateStates...)

	for i, d := range scripts {
		require.False(t, g.Satisfiable(d), "script %d", i)

		// 第 i 个脚本的 to 部分就是第 i+1 个脚本的 from 部分
		if i+1 < len(scripts) {
			shared := 2 * winternitz.N * states[i+1].Size()
			tail := d.Witness[len(d.Witness)-shared:]
			head := scripts[i+1].Witness[:shared]
			for j := range tail {
				require.True(t, bytes.Equal(tail[j], head[j]), "script %d element %d", i, j)
			}
		}
	}

	again, err := g.FormDisproveScriptsWithSeed(ctx, input, program, []byte("seed"))
	require.NoError(t, err)
	for i := range scripts {
		require.Equal(t, scripts[i].WitnessElements(), again[i].WitnessElements())
		require.Equal(t, scripts[i].LeafHash(), again[i].LeafHash())
	}

	fresh, err := g.FormDisproveScripts(ctx, input, program)
	require.NoError(t, err)
	require.Len(t, fresh, len(scripts))
	for i := range fresh {
		require.True(t, fresh[i].Verifier.Len() > 0)
		require.False(t, g.Satisfiable(fresh[i]))
	}

	_, err = g.FormDisproveScripts(ctx, input, nil)
	require.ErrorIs(t, err, split.ErrEmptyProgram)

	_, err = g.FromSplit(ctx, start, nil, SystemEntropy{})
	require.ErrorIs(t, err, ErrNilSplitResult)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = g.FromSplit(cancelled, start, result, SystemEntropy{})
	require.ErrorIs(t, err, context.Canceled)
}

// TestFormDisproveScriptsDistorted 测试篡改后只有被篡改的转换可以被反驳
func TestFormDisproveScriptsDistorted(t *testing.T) {
	splitCfg := split.DefaultConfig()
	splitCfg.DefaultChunkSize = 5
	g, _, _ := newTestGenerator(t, splitCfg, DefaultConfig())

	ctx := context.Background()
	input := script.NewBuilder().AddInt64(1).MustScript()
	program := doublingProgram(8)

	for seed := int64(0); seed < 4; seed++ {
		scripts, idx, err := g.FormDisproveScriptsDistorted(ctx, input, program, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		requireOnlyDistortedSatisfiable(t, g, scripts, idx)
	}

	first, idx1, err := g.FormDisproveScriptsDistortedWithSeed(ctx, input, program, []byte("seed"), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	second, idx2, err := g.FormDisproveScriptsDistortedWithSeed(ctx, input, program, []byte("seed"), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Equal(t, idx1, idx2)
	for i := range first {
		require.Equal(t, first[i].WitnessElements(), second[i].WitnessElements())
	}
}

// TestU31MulEndToEnd 以乘法程序测试拆分、拼接校验与反驳
func TestU31MulEndToEnd(t *testing.T) {
	for _, compact := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Compact = compact
		g, splitter, in := newTestGenerator(t, split.DefaultConfig(), cfg)

		mul := testscripts.U31Mul{}
		pair := mul.IO(7, 6, 42)

		result, err := splitter.SplitScript(pair.Input, mul, split.ByInstructions)
		require.NoError(t, err)
		require.Greater(t, result.Len(), 1)

		// 拼接全部分片、输入与期望输出
		combined := script.Concat(
			pair.Input,
			script.Concat(result.Shards...),
			pair.Output,
			script.LongEqualVerify(mul.OutputSize()),
			script.Script{txscript.OP_TRUE},
		)
		require.NoError(t, in.Run(combined, nil))

		start, err := in.Inject(pair.Input)
		require.NoError(t, err)

		honest, err := g.FromSplit(context.Background(), start, result, SystemEntropy{})
		require.NoError(t, err)
		for i, d := range honest {
			require.False(t, g.Satisfiable(d), "compact=%v script %d", compact, i)
		}

		distorted, idx, err := result.Distort(rand.New(rand.NewSource(7)))
		require.NoError(t, err)

		entropy, err := NewSeedEntropy([]byte("u31mul"))
		require.NoError(t, err)
		scripts, err := g.FromSplit(context.Background(), start, distorted, entropy)
		require.NoError(t, err)
		requireOnlyDistortedSatisfiable(t, g, scripts, idx)
	}
}

// requireOnlyDistortedSatisfiable 要求被篡改的转换可以被反驳，其他转换（紧随其后的一个除外）不可被反驳
func requireOnlyDistortedSatisfiable(t *testing.T, g *Generator, scripts []*DisproveScript, idx int) {
	t.Helper()

	require.True(t, g.Satisfiable(scripts[idx]), "distorted script %d", idx)
	for j, d := range scripts {
		if j == idx || j == idx+1 {
			continue
		}
		require.False(t, g.Satisfiable(d), "script %d (distorted %d)", j, idx)
	}
}
