package nero

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/distributed-lab/nero/disprove"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

// programTag 是计算程序ID时使用的标签
var programTag = []byte("nero/program")

// ProgramID 唯一标识一对（输入，程序）
type ProgramID [chainhash.HashSize]byte

// NewProgramID 计算 (input, program) 的标签哈希
func NewProgramID(input, program script.Script) ProgramID {
	hash := chainhash.TaggedHash(programTag, Flatten([][]byte{input, program}))
	return ProgramID(*hash)
}

// String 返回十六进制的程序ID
func (id ProgramID) String() string {
	return hex.EncodeToString(id[:])
}

// Nero 提供程序拆分、反驳脚本生成以及结果持久化所需的各种函数
type Nero struct {
	ctx      context.Context     // 全局上下文
	opt      *Options            // 选项配置
	in       *script.Interpreter // 脚本解释器
	splitter *split.Splitter     // 拆分引擎
	gen      *disprove.Generator // 反驳脚本生成器
	store    *ArtifactStore      // 拆分结果与反驳脚本存储
	db       *SqliteDB           // 反驳脚本索引
	files    *FileStore          // 导出文件存储
	app      *fx.App             // 依赖注入容器
}

// Open 返回一个新的服务实例
func Open(opt *Options) (*Nero, error) {
	// 1. 检查并设置选项
	if err := opt.CheckAndSetOptions(); err != nil {
		return nil, err
	}

	// 2. 本地文件夹与日志
	if !opt.InMemory {
		if err := initDirectories(opt); err != nil {
			return nil, err
		}
		if err := SetLog(opt.logsPath(), opt.InstanceId); err != nil {
			return nil, err
		}
	}

	n := &Nero{
		ctx: context.Background(),
		opt: opt,
	}

	// fx 配置项
	opts := []fx.Option{
		fx.NopLogger,
		n.globalInit(),
		fx.Provide(
			NewEngine,     // 解释器、拆分引擎与生成器
			NewStore,      // 拆分结果与反驳脚本存储
			NewIndex,      // 反驳脚本索引
			NewExportFile, // 导出文件存储
		),
	}
	opts = append(opts, fx.Populate(
		&n.in,
		&n.splitter,
		&n.gen,
		&n.store,
		&n.db,
		&n.files,
	))
	n.app = fx.New(opts...)
	if err := n.app.Err(); err != nil {
		logrus.Errorf("[Open] 初始化失败:\t%v", err)
		return nil, err
	}

	if err := n.app.Start(n.ctx); err != nil {
		return nil, err
	}

	opt.IsOpen = true // 实例已打开
	return n, nil
}

// Close 关闭存储与索引，之后实例不可再用
func (n *Nero) Close() error {
	if !n.opt.IsOpen {
		return nil
	}
	n.opt.IsOpen = false
	return n.app.Stop(n.ctx)
}

// 全局初始化
func (n *Nero) globalInit() fx.Option {
	return fx.Provide(
		// 获取上下文
		func() context.Context {
			return n.ctx
		},
		func() *Options {
			return n.opt
		},
	)
}

// initDirectories 确保所有预定义的文件夹都存在
func initDirectories(opt *Options) error {
	// 所有需要检查的目录
	directories := []string{
		opt.dbPath(),     // 数据库目录
		opt.logsPath(),   // 日志目录
		opt.exportPath(), // 导出目录
	}

	// 遍历每个目录并确保它存在
	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

type NewEngineInput struct {
	fx.In

	Opt *Options // 选项配置
}

type NewEngineOutput struct {
	fx.Out

	In       *script.Interpreter // 脚本解释器
	Splitter *split.Splitter     // 拆分引擎
	Gen      *disprove.Generator // 反驳脚本生成器
}

// NewEngine 创建解释器、拆分引擎与反驳脚本生成器
func NewEngine(input NewEngineInput) NewEngineOutput {
	in := script.NewInterpreter(input.Opt.internalKey)
	splitter := split.NewSplitter(in, input.Opt.splitConfig())

	return NewEngineOutput{
		In:       in,
		Splitter: splitter,
		Gen:      disprove.NewGenerator(in, splitter, input.Opt.disproveConfig()),
	}
}

type NewStoreInput struct {
	fx.In

	Opt *Options // 选项配置
}

type NewStoreOutput struct {
	fx.Out

	Store *ArtifactStore // 拆分结果与反驳脚本存储
}

// NewStore 打开存储，并在服务停止时关闭
func NewStore(lc fx.Lifecycle, input NewStoreInput) (out NewStoreOutput, err error) {
	store, err := NewArtifactStore(input.Opt.storePath(), input.Opt.InMemory)
	if err != nil {
		logrus.Errorf("[NewStore] 打开存储失败:\t%v", err)
		return out, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return store.Close()
		},
	})

	out.Store = store
	return out, nil
}

type NewIndexInput struct {
	fx.In

	Opt *Options // 选项配置
}

type NewIndexOutput struct {
	fx.Out

	DB *SqliteDB // 反驳脚本索引
}

// NewIndex 打开索引数据库并创建数据表，在服务停止时关闭
func NewIndex(lc fx.Lifecycle, input NewIndexInput) (out NewIndexOutput, err error) {
	db, err := NewSqliteDB(input.Opt.dbPath(), indexFile(input.Opt))
	if err != nil {
		logrus.Errorf("[NewIndex] 打开数据库失败:\t%v", err)
		return out, err
	}
	if err := db.InitDBTable(); err != nil {
		db.Close()
		return out, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})

	out.DB = db
	return out, nil
}

type NewExportFileInput struct {
	fx.In

	Opt *Options // 选项配置
}

type NewExportFileOutput struct {
	fx.Out

	Files *FileStore // 导出文件存储
}

// NewExportFile 创建导出文件存储
func NewExportFile(input NewExportFileInput) (out NewExportFileOutput, err error) {
	files, err := NewFileStore(input.Opt.exportPath(), input.Opt.InMemory)
	if err != nil {
		logrus.Errorf("[NewExportFile] 创建文件存储失败:\t%v", err)
		return out, err
	}
	out.Files = files
	return out, nil
}

// Split 使用默认分片大小拆分程序，并保存拆分结果
func (n *Nero) Split(input, program script.Script, splitType split.SplitType) (ProgramID, *split.SplitResult, error) {
	return n.splitWith(input, program, n.defaultSplitMethod(splitType), func() (*split.SplitResult, error) {
		return n.splitter.DefaultSplit(input, program, splitType)
	})
}

// NaiveSplit 使用指定的分片大小拆分程序，并保存拆分结果
func (n *Nero) NaiveSplit(input, program script.Script, splitType split.SplitType, chunkSize int) (ProgramID, *split.SplitResult, error) {
	method := SplitMethod(fmt.Sprintf("naive/%s/%d", splitType, chunkSize))
	return n.splitWith(input, program, method, func() (*split.SplitResult, error) {
		return n.splitter.NaiveSplit(input, program, splitType, chunkSize)
	})
}

// FuzzySplit 在多个分片大小中选择复杂度最低的拆分，耗时受 FuzzyTimeout 限制
func (n *Nero) FuzzySplit(ctx context.Context, input, program script.Script, splitType split.SplitType) (ProgramID, *split.SplitResult, error) {
	if n.opt.FuzzyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opt.FuzzyTimeout)
		defer cancel()
	}

	return n.splitWith(input, program, SplitMethod("fuzzy/"+splitType.String()), func() (*split.SplitResult, error) {
		return n.splitter.FuzzySplit(ctx, input, program, splitType)
	})
}

// SplitScript 拆分一个可拆分程序，输入需由调用方提供
func (n *Nero) SplitScript(input script.Script, sc split.Splittable, splitType split.SplitType) (ProgramID, *split.SplitResult, error) {
	return n.splitWith(input, sc.Script(), SplitMethod("script/"+splitType.String()), func() (*split.SplitResult, error) {
		return n.splitter.SplitScript(input, sc, splitType)
	})
}

// splitWith 检查程序、执行拆分并保存结果
func (n *Nero) splitWith(input, program script.Script, method SplitMethod, splitFn func() (*split.SplitResult, error)) (ProgramID, *split.SplitResult, error) {
	id := NewProgramID(input, program)

	// 1. 检查程序
	if err := checkInputPushOnly(input); err != nil {
		return id, nil, err
	}
	if err := checkProgramStandard(program); err != nil {
		return id, nil, err
	}

	// 2. 拆分
	result, err := splitFn()
	if err != nil {
		logrus.Errorf("[Split] 拆分失败:\t%v", err)
		return id, nil, err
	}

	// 3. 保存
	if err := n.store.PutSplitResult(id, result, method); err != nil {
		logrus.Errorf("[Split] 保存拆分结果失败:\t%v", err)
		return id, nil, err
	}

	logrus.Infof("[Split] 程序 %s 拆分为 %d 个分片", id, result.Len())
	return id, result, nil
}

func (n *Nero) defaultSplitMethod(splitType split.SplitType) SplitMethod {
	return DefaultSplitMethod(splitType, n.splitter.DefaultChunkSize(splitType))
}

// FormDisproveScripts 为程序的每个分片构造反驳脚本并保存。
// 已保存的默认指令拆分结果会被复用，其他方式产生的结果会被默认指令拆分覆盖。
func (n *Nero) FormDisproveScripts(ctx context.Context, input, program script.Script) (ProgramID, []*disprove.DisproveScript, error) {
	return n.formDisproveScripts(ctx, input, program, disprove.SystemEntropy{})
}

// FormDisproveScriptsWithSeed 与 FormDisproveScripts 相同，但承诺由种子确定性地派生
func (n *Nero) FormDisproveScriptsWithSeed(ctx context.Context, input, program script.Script, seed []byte) (ProgramID, []*disprove.DisproveScript, error) {
	entropy, err := disprove.NewSeedEntropy(seed)
	if err != nil {
		return NewProgramID(input, program), nil, err
	}
	return n.formDisproveScripts(ctx, input, program, entropy)
}

func (n *Nero) formDisproveScripts(ctx context.Context, input, program script.Script, entropy disprove.Entropy) (ProgramID, []*disprove.DisproveScript, error) {
	id := NewProgramID(input, program)

	// 1. 取得拆分结果，只复用按默认分片大小按指令拆分的结果
	result, method, err := n.store.GetSplitResultWithMethod(id)
	if errors.Is(err, ErrNotFound) || (err == nil && method != n.defaultSplitMethod(split.ByInstructions)) {
		id, result, err = n.Split(input, program, split.ByInstructions)
	}
	if err != nil {
		return id, nil, err
	}

	// 2. 注入输入
	start, err := n.in.Inject(input)
	if err != nil {
		return id, nil, fmt.Errorf("注入输入失败: %w", err)
	}

	// 3. 构造反驳脚本
	scripts, err := n.gen.FromSplit(ctx, start, result, entropy)
	if err != nil {
		logrus.Errorf("[FormDisproveScripts] 构造失败:\t%v", err)
		return id, nil, err
	}

	// 4. 保存脚本并写入索引
	if err := n.store.PutDisproveScripts(id, scripts); err != nil {
		logrus.Errorf("[FormDisproveScripts] 保存失败:\t%v", err)
		return id, nil, err
	}
	if err := n.indexDisproveScripts(id, scripts); err != nil {
		logrus.Errorf("[FormDisproveScripts] 写入索引失败:\t%v", err)
		return id, nil, err
	}

	return id, scripts, nil
}

// indexDisproveScripts 为每个反驳脚本写入一条索引记录，已存在的记录会被替换
func (n *Nero) indexDisproveScripts(id ProgramID, scripts []*disprove.DisproveScript) error {
	return n.db.WithTx(func(tx *SqliteDB) error {
		if err := DeleteDisproveRecords(tx, id.String()); err != nil {
			return err
		}
		for i, d := range scripts {
			record := NewDisproveRecord(id, i, d)
			if err := record.Create(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// FormDisproveScriptsDistorted 篡改默认拆分中的一个状态后构造反驳脚本，结果不会保存。
// 只用于测试。
func (n *Nero) FormDisproveScriptsDistorted(ctx context.Context, input, program script.Script, rng *rand.Rand) ([]*disprove.DisproveScript, int, error) {
	if err := checkProgramStandard(program); err != nil {
		return nil, 0, err
	}
	return n.gen.FormDisproveScriptsDistorted(ctx, input, program, rng)
}

// FormDisproveScriptsDistortedWithSeed 与 FormDisproveScriptsDistorted 相同，但承诺由种子派生
func (n *Nero) FormDisproveScriptsDistortedWithSeed(ctx context.Context, input, program script.Script, seed []byte, rng *rand.Rand) ([]*disprove.DisproveScript, int, error) {
	if err := checkProgramStandard(program); err != nil {
		return nil, 0, err
	}
	return n.gen.FormDisproveScriptsDistortedWithSeed(ctx, input, program, seed, rng)
}

// SplitResult 返回已保存的拆分结果
func (n *Nero) SplitResult(id ProgramID) (*split.SplitResult, error) {
	return n.store.GetSplitResult(id)
}

// DisproveScripts 返回已保存的反驳脚本
func (n *Nero) DisproveScripts(id ProgramID) ([]*disprove.DisproveScript, error) {
	return n.store.GetDisproveScripts(id)
}

// Records 返回程序的反驳脚本索引记录，按分片序号排列
func (n *Nero) Records(id ProgramID) ([]DisproveRecord, error) {
	return QueryDisproveRecords(n.db, id.String())
}

// Programs 返回所有保存过拆分结果的程序ID
func (n *Nero) Programs() ([]ProgramID, error) {
	var ids []ProgramID
	iter := n.store.Iterator(splitPrefix)
	defer iter.Close()

	for iter.Next() {
		ids = append(ids, iter.ID())
	}
	return ids, iter.Err()
}

// Export 把程序的反驳脚本以十六进制写入导出目录，返回写入的文件路径
func (n *Nero) Export(id ProgramID) ([]string, error) {
	scripts, err := n.store.GetDisproveScripts(id)
	if err != nil {
		return nil, err
	}
	return n.files.ExportDisproveScripts(id.String(), scripts)
}

// Satisfiable 判断反驳脚本能否被满足
func (n *Nero) Satisfiable(d *disprove.DisproveScript) bool {
	return n.gen.Satisfiable(d)
}

// Options 返回实例的选项
func (n *Nero) Options() *Options {
	return n.opt
}
