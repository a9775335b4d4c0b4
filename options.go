package nero

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/distributed-lab/nero/disprove"
	"github.com/distributed-lab/nero/split"
)

// UnspendableKey 是 BIP341 建议的 NUMS 点（x-only），没有人知道其私钥
const UnspendableKey = "50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

// Options 是用于创建拆分与反驳服务的参数
type Options struct {
	IsOpen bool `optional:"false"  default:"false"` // 服务实例是否已打开

	InstanceId string // 实例标识符，用于区分日志与数据库文件
	RootPath   string // 数据、日志与导出文件的根目录
	InMemory   bool   // 只在内存中保存数据，不写入磁盘

	// InternalKey 是叶子花费时使用的不可花费内部公钥（十六进制 x-only）
	InternalKey string

	// MaxScriptSize 是单个反驳脚本允许的最大复杂度
	MaxScriptSize int
	// StackSizeIndex 是承诺一个栈元素相对于一个程序字节的代价
	StackSizeIndex int

	DefaultChunkSize     int // 按指令拆分的默认分片大小
	DefaultByteChunkSize int // 按字节拆分的默认分片大小

	FuzzyCandidates  int           // 模糊拆分尝试的分片大小个数
	FuzzyStepPercent int           // 模糊拆分候选之间的步长（百分比）
	FuzzyTimeout     time.Duration // 模糊拆分的时间上限，0 表示不限制

	CompactCommitments bool // 签名时省略高位为零的数位
	Parallelism        int  // 并行组装反驳脚本的协程数

	internalKey *btcec.PublicKey // 解析后的内部公钥
}

// DefaultOptions 设置一个推荐选项列表
func DefaultOptions() *Options {
	splitCfg := split.DefaultConfig()

	return &Options{
		// 固定值
		InternalKey:          UnspendableKey,
		MaxScriptSize:        splitCfg.MaxScriptSize,
		StackSizeIndex:       splitCfg.StackSizeIndex,
		DefaultChunkSize:     splitCfg.DefaultChunkSize,
		DefaultByteChunkSize: splitCfg.DefaultByteChunkSize,
		FuzzyCandidates:      splitCfg.FuzzyCandidates,
		FuzzyStepPercent:     splitCfg.FuzzyStepPercent,
		FuzzyTimeout:         10 * time.Minute,
		Parallelism:          runtime.NumCPU(),
		// 初始化
		IsOpen:             false,
		InMemory:           false,
		CompactCommitments: false,
	}
}

// BuildInstanceId 设置实例ID，未指定时使用主网卡的 MAC 地址，失败时使用随机字符串
func (opt *Options) BuildInstanceId(instanceId ...string) {
	if opt.IsOpen { // 实例已打开
		return
	}

	var id string
	var err error
	if len(instanceId) > 0 {
		id = instanceId[0]
	} else {
		id, err = primaryMACAddress()
		if err != nil {
			// 生成随机字符串作为替代值
			id, _ = generateRandomString(12)
		}
	}
	opt.InstanceId = id
}

// BuildRootPath 设置文件根路径
func (opt *Options) BuildRootPath(path string) {
	// 检查路径是否为空
	if path == "" {
		return
	}

	// 检查路径是否是一个绝对路径
	if !filepath.IsAbs(path) {
		return
	}

	// 检查路径是否存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// 如果路径不存在，尝试创建它
		if err := os.MkdirAll(path, 0755); err != nil {
			return
		}
	}

	opt.RootPath = path
}

// BuildInMemory 设置为只在内存中保存数据
func (opt *Options) BuildInMemory() {
	if opt.IsOpen {
		return
	}
	opt.InMemory = true
}

// BuildInternalKey 设置不可花费的内部公钥
func (opt *Options) BuildInternalKey(key string) {
	if opt.IsOpen {
		return
	}
	opt.InternalKey = key
}

// BuildScriptLimits 设置脚本大小上限与栈元素权重
func (opt *Options) BuildScriptLimits(maxScriptSize, stackSizeIndex int) {
	opt.MaxScriptSize = maxScriptSize
	opt.StackSizeIndex = stackSizeIndex
}

// BuildChunkSize 设置两种拆分方式的默认分片大小
func (opt *Options) BuildChunkSize(instructions, bytes int) {
	opt.DefaultChunkSize = instructions
	opt.DefaultByteChunkSize = bytes
}

// BuildFuzzy 设置模糊拆分的候选个数、步长与时间上限
func (opt *Options) BuildFuzzy(candidates, stepPercent int, timeout time.Duration) {
	opt.FuzzyCandidates = candidates
	opt.FuzzyStepPercent = stepPercent
	opt.FuzzyTimeout = timeout
}

// BuildCompactCommitments 设置是否使用紧凑签名
func (opt *Options) BuildCompactCommitments(compact bool) {
	opt.CompactCommitments = compact
}

// BuildParallelism 设置并行度
func (opt *Options) BuildParallelism(n int) {
	opt.Parallelism = n
}

// CheckAndSetOptions 检查并设置选项
func (opt *Options) CheckAndSetOptions() error {
	if opt.IsOpen { // 实例已打开
		return fmt.Errorf("'%s' 实例已打开", opt.InstanceId)
	}

	// 1. 内部公钥必须是曲线上的点
	key, err := parseInternalKey(opt.InternalKey)
	if err != nil {
		return err
	}
	opt.internalKey = key

	// 2. 拆分参数
	if opt.MaxScriptSize <= 0 {
		return fmt.Errorf("脚本大小上限必须大于零: %d", opt.MaxScriptSize)
	}
	if opt.StackSizeIndex < 0 {
		return fmt.Errorf("栈元素权重不能为负数: %d", opt.StackSizeIndex)
	}
	if opt.DefaultChunkSize <= 0 || opt.DefaultByteChunkSize <= 0 {
		return split.ErrZeroChunkSize
	}
	if opt.FuzzyCandidates <= 0 {
		opt.FuzzyCandidates = 1
	}
	if opt.FuzzyStepPercent <= 0 {
		opt.FuzzyStepPercent = split.DefaultConfig().FuzzyStepPercent
	}

	// 3. 并行度
	if opt.Parallelism <= 0 {
		opt.Parallelism = runtime.NumCPU()
	}

	// 4. 实例ID与根路径
	if opt.InstanceId == "" {
		opt.BuildInstanceId()
	}
	if opt.RootPath == "" && !opt.InMemory {
		path, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("获取工作目录失败: %w", err)
		}
		opt.RootPath = filepath.Join(path, "nero")
	}

	return nil
}

// parseInternalKey 解析 32 字节的 x-only 公钥，并校验其位于 secp256k1 曲线上
func parseInternalKey(key string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("内部公钥不是十六进制: %w", err)
	}
	if len(raw) != schnorr.PubKeyBytesLen {
		return nil, fmt.Errorf("内部公钥长度必须为 %d 字节: %d", schnorr.PubKeyBytesLen, len(raw))
	}

	// 以偶数 y 的压缩格式解析，曲线外的点会被拒绝
	compressed := append([]byte{secp256k1.PubKeyFormatCompressedEven}, raw...)
	if _, err := secp256k1.ParsePubKey(compressed); err != nil {
		return nil, fmt.Errorf("内部公钥不在曲线上: %w", err)
	}

	return schnorr.ParsePubKey(raw)
}

// splitConfig 返回拆分引擎的参数
func (opt *Options) splitConfig() split.Config {
	return split.Config{
		DefaultChunkSize:     opt.DefaultChunkSize,
		DefaultByteChunkSize: opt.DefaultByteChunkSize,
		StackSizeIndex:       opt.StackSizeIndex,
		MaxScriptSize:        opt.MaxScriptSize,
		FuzzyCandidates:      opt.FuzzyCandidates,
		FuzzyStepPercent:     opt.FuzzyStepPercent,
	}
}

// disproveConfig 返回反驳脚本生成器的参数
func (opt *Options) disproveConfig() disprove.Config {
	return disprove.Config{
		Compact:     opt.CompactCommitments,
		Parallelism: opt.Parallelism,
	}
}

// 目录布局
func (opt *Options) dbPath() string     { return filepath.Join(opt.RootPath, "db") }
func (opt *Options) logsPath() string   { return filepath.Join(opt.RootPath, "logs") }
func (opt *Options) exportPath() string { return filepath.Join(opt.RootPath, "export") }

// storePath 返回实例的 badger 数据库目录
func (opt *Options) storePath() string {
	if opt.InstanceId == "" {
		return filepath.Join(opt.dbPath(), "artifacts")
	}
	return filepath.Join(opt.dbPath(), fmt.Sprintf("artifacts_%s", opt.InstanceId))
}
