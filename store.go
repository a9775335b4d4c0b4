package nero

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/dgraph-io/badger/v4"
	"github.com/distributed-lab/nero/disprove"
	"github.com/distributed-lab/nero/script"
	"github.com/distributed-lab/nero/split"
	"github.com/sirupsen/logrus"
)

// ErrNotFound 表示存储中没有对应的数据
var ErrNotFound = errors.New("数据不存在")

var (
	splitPrefix    = []byte("split/")    // 拆分结果
	disprovePrefix = []byte("disprove/") // 反驳脚本列表
	versionKey     = []byte("version")   // 数据格式版本
)

// ArtifactStore 以程序ID为键保存拆分结果与反驳脚本，值经 gob 编码后以 zstd 压缩
type ArtifactStore struct {
	mu       sync.Mutex
	Database *badger.DB // 数据库句柄
}

// storedState 是持久化的中间状态，每个栈使用 Flatten 编码
type storedState struct {
	Stack    []byte
	AltStack []byte
}

// SplitMethod 记录拆分结果的产生方式，例如 "default/instructions/1000" 或 "naive/bytes/20"
type SplitMethod string

// DefaultSplitMethod 返回按默认分片大小 chunkSize 拆分的方式
func DefaultSplitMethod(splitType split.SplitType, chunkSize int) SplitMethod {
	return SplitMethod(fmt.Sprintf("default/%s/%d", splitType, chunkSize))
}

// storedSplitResult 是持久化的拆分结果，旧数据的 Method 为空
type storedSplitResult struct {
	Shards []byte
	States []storedState
	Method SplitMethod
}

// storedDisproveScript 是持久化的反驳脚本
type storedDisproveScript struct {
	Witness  []byte
	Verifier []byte
}

// NewArtifactStore 打开（或创建）位于 path 的存储，inMemory 为真时不写入磁盘
func NewArtifactStore(path string, inMemory bool) (*ArtifactStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
		opts = badger.DefaultOptions(path) // 设置 Badger 数据库选项
		opts.ValueDir = path
	}
	opts = opts.WithLogger(logrus.StandardLogger())

	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}

	store := &ArtifactStore{Database: db}
	if err := store.checkVersion(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// checkVersion 写入或校验数据格式版本
func (s *ArtifactStore) checkVersion() error {
	return s.Database.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(versionKey, []byte(storeFormatVersion))
		}
		if err != nil {
			return err
		}

		stored, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return checkStoreVersion(string(stored))
	})
}

// Close 关闭数据库
func (s *ArtifactStore) Close() error {
	return s.Database.Close()
}

// PutSplitResult 保存拆分结果及其产生方式
func (s *ArtifactStore) PutSplitResult(id ProgramID, result *split.SplitResult, method SplitMethod) error {
	stored := storedSplitResult{
		Shards: Flatten(scriptsToBytes(result.Shards)),
		States: make([]storedState, len(result.IntermediateStates)),
		Method: method,
	}
	for i, state := range result.IntermediateStates {
		stored.States[i] = storedState{
			Stack:    Flatten(state.Stack),
			AltStack: Flatten(state.AltStack),
		}
	}

	return s.put(artifactKey(splitPrefix, id), stored)
}

// GetSplitResult 读取拆分结果，不存在时返回 ErrNotFound
func (s *ArtifactStore) GetSplitResult(id ProgramID) (*split.SplitResult, error) {
	result, _, err := s.GetSplitResultWithMethod(id)
	return result, err
}

// GetSplitResultWithMethod 读取拆分结果及其产生方式
func (s *ArtifactStore) GetSplitResultWithMethod(id ProgramID) (*split.SplitResult, SplitMethod, error) {
	var stored storedSplitResult
	if err := s.get(artifactKey(splitPrefix, id), &stored); err != nil {
		return nil, "", err
	}

	shards, err := Unflatten(stored.Shards)
	if err != nil {
		return nil, "", err
	}

	result := &split.SplitResult{
		Shards:             make([]script.Script, len(shards)),
		IntermediateStates: make([]script.IntermediateState, len(stored.States)),
	}
	for i, shard := range shards {
		result.Shards[i] = shard
	}
	for i, state := range stored.States {
		stack, err := Unflatten(state.Stack)
		if err != nil {
			return nil, "", err
		}
		altStack, err := Unflatten(state.AltStack)
		if err != nil {
			return nil, "", err
		}
		result.IntermediateStates[i] = script.IntermediateState{Stack: stack, AltStack: altStack}
	}

	return result, stored.Method, nil
}

// PutDisproveScripts 保存程序的全部反驳脚本
func (s *ArtifactStore) PutDisproveScripts(id ProgramID, scripts []*disprove.DisproveScript) error {
	stored := make([]storedDisproveScript, len(scripts))
	for i, d := range scripts {
		stored[i] = storedDisproveScript{
			Witness:  Flatten(d.Witness),
			Verifier: d.Verifier,
		}
	}
	return s.put(artifactKey(disprovePrefix, id), stored)
}

// GetDisproveScripts 读取程序的全部反驳脚本，不存在时返回 ErrNotFound
func (s *ArtifactStore) GetDisproveScripts(id ProgramID) ([]*disprove.DisproveScript, error) {
	var stored []storedDisproveScript
	if err := s.get(artifactKey(disprovePrefix, id), &stored); err != nil {
		return nil, err
	}

	scripts := make([]*disprove.DisproveScript, len(stored))
	for i, d := range stored {
		witness, err := Unflatten(d.Witness)
		if err != nil {
			return nil, err
		}
		scripts[i] = &disprove.DisproveScript{
			Witness:  wire.TxWitness(witness),
			Verifier: d.Verifier,
		}
	}
	return scripts, nil
}

// put 编码、压缩并写入
func (s *ArtifactStore) put(key []byte, value interface{}) error {
	s.mu.Lock() // 锁定数据库
	defer s.mu.Unlock()

	data, err := EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("编码失败: %w", err)
	}
	compressed, err := compressZstd(data)
	if err != nil {
		return fmt.Errorf("压缩失败: %w", err)
	}

	return s.Database.Update(func(txn *badger.Txn) error {
		return txn.Set(key, compressed)
	})
}

// get 读取、解压并解码
func (s *ArtifactStore) get(key []byte, result interface{}) error {
	var compressed []byte

	// 使用 View 方法来读取数据库，因为我们只需要获取数据，不需要写入
	err := s.Database.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	data, err := decompressZstd(compressed)
	if err != nil {
		return fmt.Errorf("解压失败: %w", err)
	}
	return DecodeFromBytes(data, result)
}

// artifactKey 返回 prefix + 程序ID
func artifactKey(prefix []byte, id ProgramID) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id[:]...)
}

func scriptsToBytes(scripts []script.Script) [][]byte {
	result := make([][]byte, len(scripts))
	for i, s := range scripts {
		result[i] = s
	}
	return result
}

// openDB 打开数据库，如果因为存在 LOCK 文件打开失败，执行 retry 确保打开
func openDB(path string, opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "LOCK") {
		db, err = retry(path, opts)
		if err != nil {
			return nil, fmt.Errorf("无法解锁数据库: %w", err)
		}
		return db, nil
	} else if err != nil {
		return nil, err
	}
	return db, nil
}

// retry 删除 lock 文件，并再次尝试打开数据库
func retry(path string, opts badger.Options) (*badger.DB, error) {
	lockPath := filepath.Join(path, "LOCK")

	// 检查锁文件是否可以安全删除
	if err := checkLock(lockPath); err != nil {
		return nil, err
	}

	if err := os.Remove(lockPath); err != nil {
		return nil, fmt.Errorf("移除 LOCK: %w", err)
	}

	// 使用退避算法重试打开数据库
	var db *badger.DB
	var err error
	for i := 0; i < 3; i++ {
		db, err = badger.Open(opts)
		if err == nil {
			return db, nil
		}
		logrus.Errorf("[retry] 打开数据库失败，%d 秒后重试:\t%v", i+1, err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}

	return nil, fmt.Errorf("打开数据库失败: %w", err)
}

// checkLock 检查锁文件是否可以安全删除
func checkLock(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开 LOCK 文件失败: %w", err)
	}
	defer file.Close()

	// 尝试获取文件锁
	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return fmt.Errorf("数据库正被其他进程使用: %w", err)
	}

	// 释放文件锁
	defer syscall.Flock(int(file.Fd()), syscall.LOCK_UN)

	return nil
}
