package disprove

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Interpreter 是生成与检查反驳脚本所需的解释器能力
type Interpreter interface {
	split.Executor
	split.Runner
}

// Config 是反驳脚本生成器的参数
type Config struct {
	// Compact 为真时省略签名中高位为零的数位，以缩小见证
	Compact bool
	// Parallelism 是并行组装验证脚本的最大协程数
	Parallelism int
}

// DefaultConfig 返回默认参数
func DefaultConfig() Config {
	return Config{
		Compact:     false,
		Parallelism: runtime.NumCPU(),
	}
}

// Generator 是反驳脚本生成器
type Generator struct {
	in       Interpreter
	splitter *split.Splitter
	cfg      Config
}

// NewGenerator 返回反驳脚本生成器
func NewGenerator(in Interpreter, splitter *split.Splitter, cfg Config) *Generator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Generator{in: in, splitter: splitter, cfg: cfg}
}

// Build 使用系统随机源为单个状态转换构造反驳脚本
func (g *Generator) Build(from, to script.IntermediateState, shard script.Script) (*DisproveScript, error) {
	return g.BuildWithEntropy(from, to, shard, SystemEntropy{})
}

// BuildWithSeed 使用由种子派生的确定性随机源构造反驳脚本。
// 相同的种子与状态总是得到完全相同的见证与验证脚本。
func (g *Generator) BuildWithSeed(from, to script.IntermediateState, shard script.Script, seed []byte) (*DisproveScript, error) {
	entropy, err := NewSeedEntropy(seed)
	if err != nil {
		return nil, err
	}
	return g.BuildWithEntropy(from, to, shard, entropy)
}

// BuildWithEntropy 使用给定随机源构造反驳脚本，from 使用状态 0 的随机源，to 使用状态 1 的随机源
func (g *Generator) BuildWithEntropy(from, to script.IntermediateState, shard script.Script, entropy Entropy) (*DisproveScript, error) {
	signedFrom, err := signStateAt(from, 0, entropy)
	if err != nil {
		return nil, err
	}
	signedTo, err := signStateAt(to, 1, entropy)
	if err != nil {
		return nil, err
	}
	return newDisproveScript(signedFrom, signedTo, shard, g.cfg.Compact), nil
}

// FromSplit 为拆分结果中的每个分片构造反驳脚本，第 i 个脚本对应第 i 个分片。
// 每个状态只签名一次，相邻的两个脚本共享中间状态的承诺。
func (g *Generator) FromSplit(ctx context.Context, input script.IntermediateState, result *split.SplitResult, entropy Entropy) ([]*DisproveScript, error) {
	if result == nil {
		return nil, ErrNilSplitResult
	}
	if result.IsEmpty() {
		return nil, split.ErrEmptySplitResult
	}

	// 1. 依次签名：状态 0 是输入，状态 i 是第 i 个分片之后的状态
	signed := make([]*SignedIntermediateState, 0, result.Len()+1)
	states := append([]script.IntermediateState{input}, result.IntermediateStates...)
	for i, state := range states {
		s, err := signStateAt(state, i, entropy)
		if err != nil {
			logrus.Errorf("[FromSplit] 签名第 %d 个状态失败:\t%v", i, err)
			return nil, err
		}
		signed = append(signed, s)
	}

	// 2. 并行组装验证脚本
	scripts := make([]*DisproveScript, result.Len())
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Parallelism)
	for i := range result.Shards {
		i := i
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scripts[i] = newDisproveScript(signed[i], signed[i+1], result.Shards[i], g.cfg.Compact)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("组装反驳脚本失败: %w", err)
	}

	logrus.Debugf("[FromSplit] 生成 %d 个反驳脚本", len(scripts))
	return scripts, nil
}

// FormDisproveScripts 使用默认参数拆分程序，并使用系统随机源为每个分片构造反驳脚本
func (g *Generator) FormDisproveScripts(ctx context.Context, input, program script.Script) ([]*DisproveScript, error) {
	return g.formDisproveScripts(ctx, input, program, SystemEntropy{})
}

// FormDisproveScriptsWithSeed 与 FormDisproveScripts 相同，但使用由种子派生的随机源
func (g *Generator) FormDisproveScriptsWithSeed(ctx context.Context, input, program script.Script, seed []byte) ([]*DisproveScript, error) {
	entropy, err := NewSeedEntropy(seed)
	if err != nil {
		return nil, err
	}
	return g.formDisproveScripts(ctx, input, program, entropy)
}

// FormDisproveScriptsDistorted 在构造反驳脚本之前篡改一个中间状态，返回脚本与被篡改的分片序号。
// 只用于测试。
func (g *Generator) FormDisproveScriptsDistorted(ctx context.Context, input, program script.Script, rng *rand.Rand) ([]*DisproveScript, int, error) {
	return g.formDisproveScriptsDistorted(ctx, input, program, rng, SystemEntropy{})
}

// FormDisproveScriptsDistortedWithSeed 与 FormDisproveScriptsDistorted 相同，但使用由种子派生的随机源
func (g *Generator) FormDisproveScriptsDistortedWithSeed(ctx context.Context, input, program script.Script, seed []byte, rng *rand.Rand) ([]*DisproveScript, int, error) {
	entropy, err := NewSeedEntropy(seed)
	if err != nil {
		return nil, 0, err
	}
	return g.formDisproveScriptsDistorted(ctx, input, program, rng, entropy)
}

func (g *Generator) formDisproveScripts(ctx context.Context, input, program script.Script, entropy Entropy) ([]*DisproveScript, error) {
	start, result, err := g.splitDefault(input, program)
	if err != nil {
		return nil, err
	}
	return g.FromSplit(ctx, start, result, entropy)
}

func (g *Generator) formDisproveScriptsDistorted(ctx context.Context, input, program script.Script, rng *rand.Rand, entropy Entropy) ([]*DisproveScript, int, error) {
	start, result, err := g.splitDefault(input, program)
	if err != nil {
		return nil, 0, err
	}

	distorted, idx, err := result.Distort(rng)
	if err != nil {
		logrus.Errorf("[FormDisproveScriptsDistorted] 篡改失败:\t%v", err)
		return nil, 0, err
	}

	scripts, err := g.FromSplit(ctx, start, distorted, entropy)
	if err != nil {
		return nil, 0, err
	}
	return scripts, idx, nil
}

// splitDefault 注入输入并使用默认参数拆分程序
func (g *Generator) splitDefault(input, program script.Script) (script.IntermediateState, *split.SplitResult, error) {
	result, err := g.splitter.DefaultSplit(input, program, split.ByInstructions)
	if err != nil {
		logrus.Errorf("[FormDisproveScripts] 拆分失败:\t%v", err)
		return script.IntermediateState{}, nil, err
	}

	start, err := g.in.Inject(input)
	if err != nil {
		return script.IntermediateState{}, nil, fmt.Errorf("注入输入失败: %w", err)
	}
	return start, result, nil
}

// Satisfiable 判断见证能否满足验证脚本，即该分片声称的转换是否可以被反驳
func (g *Generator) Satisfiable(d *DisproveScript) bool {
	return g.in.Run(d.Verifier, d.Witness) == nil
}

// signStateAt 使用第 i 个状态的随机源签名
func signStateAt(state script.IntermediateState, i int, entropy Entropy) (*SignedIntermediateState, error) {
	reader, err := entropy.ForState(i)
	if err != nil {
		return nil, err
	}
	signed, err := SignState(state, reader)
	if err != nil {
		return nil, fmt.Errorf("签名第 %d 个状态失败: %w", i, err)
	}
	return signed, nil
}
