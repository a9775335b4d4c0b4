// 打印

package nero

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/distributed-lab/nero/disprove"
	"github.com/distributed-lab/nero/split"
)

// maxDisasmLen 是打印反汇编时保留的最大字符数
const maxDisasmLen = 120

// FprintSplitResult 打印拆分结果：每个分片的反汇编与之后的中间状态
func FprintSplitResult(w io.Writer, result *split.SplitResult, stackSizeIndex int) error {
	fmt.Fprintf(w, "Shards:\t\t%d\n", result.Len())
	fmt.Fprintf(w, "Complexity:\t%d\n", result.ComplexityIndex(stackSizeIndex))
	fmt.Fprintf(w, "MaxStates:\t%d\n", result.MaxStatesSize())

	for i, shard := range result.Shards {
		disasm, err := truncatedDisasm(shard)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\t第【%d】个分片\n", i)
		fmt.Fprintf(w, "\tSize\t\t%d\n", len(shard))
		fmt.Fprintf(w, "\tScript\t\t%s\n", disasm)
		if i < len(result.IntermediateStates) {
			fmt.Fprintf(w, "\tState\t\t%s\n", result.IntermediateStates[i])
		}
	}
	return nil
}

// FprintDisproveScripts 打印反驳脚本的大小、叶子哈希与验证脚本反汇编
func FprintDisproveScripts(w io.Writer, scripts []*disprove.DisproveScript) error {
	for i, d := range scripts {
		disasm, err := truncatedDisasm(d.Verifier)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\t第【%d】个反驳脚本\n", i)
		fmt.Fprintf(w, "\tLeafHash\t%s\n", d.LeafHash())
		fmt.Fprintf(w, "\tVerifier\t%d 字节\n", len(d.Verifier))
		fmt.Fprintf(w, "\tWitness\t\t%d 个元素\n", len(d.Witness))
		fmt.Fprintf(w, "\tScript\t\t%s\n", disasm)
	}
	return nil
}

// dumpConfig 不调用 String 方法，直接展开字段
var dumpConfig = &spew.ConfigState{Indent: " ", DisableMethods: true}

// FdumpSplitResult 以 spew 格式输出拆分结果的全部字段，用于调试
func FdumpSplitResult(w io.Writer, result *split.SplitResult) {
	dumpConfig.Fdump(w, result)
}

// truncatedDisasm 返回截断后的反汇编
func truncatedDisasm(program []byte) (string, error) {
	disasm, err := txscript.DisasmString(program)
	if err != nil {
		return "", fmt.Errorf("反汇编失败: %w", err)
	}
	if len(disasm) > maxDisasmLen {
		disasm = disasm[:maxDisasmLen] + "..."
	}
	return disasm, nil
}
