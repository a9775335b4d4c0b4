package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
)

// executionFlags 是 tapscript 叶子执行时使用的验证标志
const executionFlags = txscript.ScriptBip16 |
	txscript.ScriptVerifyWitness |
	txscript.ScriptVerifyTaproot |
	txscript.ScriptVerifyDiscourageOpSuccess

// Interpreter 通过花费一个只含单个 tapscript 叶子的 taproot 输出来执行程序，
// 因此执行语义与共识规则完全一致。
type Interpreter struct {
	internalKey *btcec.PublicKey // 不可花费的内部公钥
	flags       txscript.ScriptFlags
}

// NewInterpreter 返回使用给定内部公钥的解释器
func NewInterpreter(internalKey *btcec.PublicKey) *Interpreter {
	return &Interpreter{
		internalKey: internalKey,
		flags:       executionFlags,
	}
}

// spend 是一次叶子花费所需的全部材料
type spend struct {
	engine *txscript.Engine
	// pkScriptSteps 是输出脚本的指令数，执行完这些指令后引擎进入叶子脚本
	pkScriptSteps int
}

// newSpend 为 leaf 构造 taproot 输出与花费交易，并创建脚本引擎
func (in *Interpreter) newSpend(leaf Script, witness [][]byte) (*spend, error) {
	// 1. 构建只有一个叶子的脚本树并计算输出公钥
	tree := txscript.AssembleTaprootScriptTree(txscript.NewBaseTapLeaf(leaf))
	rootHash := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(in.internalKey, rootHash[:])

	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("构建输出脚本失败: %w", err)
	}

	// 2. 控制块
	ctrlBlock := tree.LeafMerkleProofs[0].ToControlBlock(in.internalKey)
	ctrlBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("序列化控制块失败: %w", err)
	}

	// 3. 见证 = 初始栈元素 + 叶子脚本 + 控制块
	fullWitness := make(wire.TxWitness, 0, len(witness)+2)
	fullWitness = append(fullWitness, witness...)
	fullWitness = append(fullWitness, leaf, ctrlBytes)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{},
		Witness:          fullWitness,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_TRUE}))

	// 4. 创建引擎
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, 0)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	engine, err := txscript.NewEngine(pkScript, tx, 0, in.flags, nil, sigHashes, 0, fetcher)
	if err != nil {
		return nil, fmt.Errorf("创建脚本引擎失败: %w", err)
	}

	pkScriptSteps, err := Script(pkScript).InstructionCount()
	if err != nil {
		return nil, err
	}

	return &spend{engine: engine, pkScriptSteps: pkScriptSteps}, nil
}

// Execute 从 state 出发执行 program，返回执行结束时的主栈与备用栈。
// 与完整花费不同，这里不要求干净栈或栈顶为真。
func (in *Interpreter) Execute(program Script, state IntermediateState) (IntermediateState, error) {
	// 1. 程序必须可解析且条件块平衡
	instructions, err := program.Instructions()
	if err != nil {
		return IntermediateState{}, err
	}
	if len(instructions) == 0 {
		return IntermediateState{}, ErrEmptyProgram
	}
	if err := checkConditionals(instructions); err != nil {
		return IntermediateState{}, err
	}

	// 2. 备用栈通过前缀程序恢复，主栈通过见证提供
	prefix, prefixSteps, err := state.altStackPrefix()
	if err != nil {
		return IntermediateState{}, fmt.Errorf("构建备用栈前缀失败: %w", err)
	}

	// 末尾的 OP_NOP 不会被执行：引擎在脚本结束时会清空备用栈，
	// 因此必须在执行到最后一条程序指令时停下读取状态
	leaf := Concat(prefix, program, Script{txscript.OP_NOP})

	sp, err := in.newSpend(leaf, state.Stack)
	if err != nil {
		return IntermediateState{}, err
	}

	// 3. 逐条执行
	total := sp.pkScriptSteps + prefixSteps + len(instructions)
	for i := 0; i < total; i++ {
		done, err := sp.engine.Step()
		if err != nil {
			step := i - sp.pkScriptSteps - prefixSteps
			logrus.Debugf("[Execute] 失败:\t%v", err)
			return IntermediateState{}, &ExecutionError{Step: step, Err: err}
		}
		if done {
			return IntermediateState{}, &ExecutionError{
				Step: i - sp.pkScriptSteps - prefixSteps,
				Err:  fmt.Errorf("脚本提前结束"),
			}
		}
	}

	// 4. 读取两个栈
	return IntermediateState{
		Stack:    sp.engine.GetStack(),
		AltStack: sp.engine.GetAltStack(),
	}, nil
}

// Inject 在空状态上执行仅含推送的输入程序，得到初始状态
func (in *Interpreter) Inject(input Script) (IntermediateState, error) {
	if input.IsEmpty() {
		return IntermediateState{}, nil
	}
	return in.Execute(input, IntermediateState{})
}

// Run 以 witness 作为初始栈完整地花费 program：
// 要求执行成功、最终只剩一个元素且其值为真。
func (in *Interpreter) Run(program Script, witness [][]byte) error {
	sp, err := in.newSpend(program, witness)
	if err != nil {
		return err
	}
	if err := sp.engine.Execute(); err != nil {
		return &ExecutionError{Step: -1, Err: err}
	}
	return nil
}
