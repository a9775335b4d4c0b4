package split

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"

	"github.com/distributed-lab/nero/script"
)

// distortionSentinel 是篡改中间状态时写入栈顶的数值
const distortionSentinel = 0x0badf00d

// SplitResult 是拆分的结果：有序的分片以及每个分片执行后的中间状态。
// 两个切片长度始终相等。
type SplitResult struct {
	Shards             []script.Script            // 分片
	IntermediateStates []script.IntermediateState // 第 i 个分片执行后的状态
}

// Len 返回分片数量
func (r *SplitResult) Len() int {
	return len(r.Shards)
}

// IsEmpty 判断拆分结果是否为空
func (r *SplitResult) IsEmpty() bool {
	return r.Len() == 0
}

// LastState 返回最后一个中间状态，即整个程序执行后的状态
func (r *SplitResult) LastState() (script.IntermediateState, error) {
	if len(r.IntermediateStates) == 0 {
		return script.IntermediateState{}, ErrEmptySplitResult
	}
	return r.IntermediateStates[len(r.IntermediateStates)-1], nil
}

// MustLastState 与 LastState 相同，结果为空时 panic
func (r *SplitResult) MustLastState() script.IntermediateState {
	state, err := r.LastState()
	if err != nil {
		panic(err)
	}
	return state
}

// TotalStatesSize 返回所有中间状态的元素总数
func (r *SplitResult) TotalStatesSize() int {
	total := 0
	for _, state := range r.IntermediateStates {
		total += state.Size()
	}
	return total
}

// MaxStatesSize 返回单个中间状态的最大元素数
func (r *SplitResult) MaxStatesSize() int {
	largest := 0
	for _, state := range r.IntermediateStates {
		if state.Size() > largest {
			largest = state.Size()
		}
	}
	return largest
}

// MaxAdjacentStatesSize 返回任意相邻两个中间状态元素数之和的最大值
func (r *SplitResult) MaxAdjacentStatesSize() int {
	if len(r.IntermediateStates) == 1 {
		return r.IntermediateStates[0].Size()
	}

	largest := 0
	for i := 1; i < len(r.IntermediateStates); i++ {
		sum := r.IntermediateStates[i-1].Size() + r.IntermediateStates[i].Size()
		if sum > largest {
			largest = sum
		}
	}
	return largest
}

// ShardComplexity 返回第 i 个分片的复杂度：
// 分片字节数 + (第 i 个与第 i-1 个中间状态的元素数) * stackSizeIndex
func (r *SplitResult) ShardComplexity(i, stackSizeIndex int) int {
	prev := 0
	if i > 0 {
		prev = r.IntermediateStates[i-1].Size()
	}
	return r.Shards[i].Len() + (r.IntermediateStates[i].Size()+prev)*stackSizeIndex
}

// ComplexityIndex 返回所有分片复杂度的最大值，用来估计最坏情况下单个反驳脚本的大小
func (r *SplitResult) ComplexityIndex(stackSizeIndex int) int {
	largest := 0
	for i := range r.Shards {
		if c := r.ShardComplexity(i, stackSizeIndex); c > largest {
			largest = c
		}
	}
	return largest
}

// Clone 返回拆分结果的深拷贝
func (r *SplitResult) Clone() *SplitResult {
	clone := &SplitResult{
		Shards:             make([]script.Script, len(r.Shards)),
		IntermediateStates: make([]script.IntermediateState, len(r.IntermediateStates)),
	}
	for i, shard := range r.Shards {
		clone.Shards[i] = append(script.Script{}, shard...)
	}
	for i, state := range r.IntermediateStates {
		clone.IntermediateStates[i] = state.Clone()
	}
	return clone
}

// Distort 随机选择一个中间状态并替换其主栈栈顶元素，返回篡改后的副本与被篡改的分片序号。
// 状态的元素数量保持不变，但第 i 个分片声称的输出与实际执行结果不再一致。
// rng 为空时使用全局随机源。只用于测试。
func (r *SplitResult) Distort(rng *rand.Rand) (*SplitResult, int, error) {
	if r.IsEmpty() {
		return nil, 0, ErrEmptySplitResult
	}

	// 1. 选择分片
	var idx int
	if rng != nil {
		idx = rng.Intn(r.Len())
	} else {
		idx = rand.Intn(r.Len())
	}

	// 2. 主栈不能为空
	stack := r.IntermediateStates[idx].Stack
	if len(stack) == 0 {
		return nil, 0, fmt.Errorf("%w: 分片 %d", ErrEmptyStack, idx)
	}

	// 3. 在副本上替换栈顶
	distorted := r.Clone()
	replacement := script.EncodeNum(distortionSentinel)
	if bytes.Equal(stack[len(stack)-1], replacement) {
		replacement = script.EncodeNum(distortionSentinel + 1)
	}
	distortedStack := distorted.IntermediateStates[idx].Stack
	distortedStack[len(distortedStack)-1] = replacement

	return distorted, idx, nil
}

// String 返回拆分结果的摘要：分片数、每个分片的字节数与状态大小以及截断的反汇编
func (r *SplitResult) String() string {
	const maxCharacters = 100

	var sb strings.Builder
	fmt.Fprintf(&sb, "Number of intermediate states: %d\n", len(r.IntermediateStates))
	for i, shard := range r.Shards {
		asm := shard.String()
		if len(asm) > 2*maxCharacters {
			asm = asm[:maxCharacters] + "..." + asm[len(asm)-maxCharacters:]
		}
		fmt.Fprintf(&sb, "Shard %d (%d bytes, state size %d): %s\n", i, shard.Len(), r.IntermediateStates[i].Size(), asm)
	}
	return sb.String()
}
