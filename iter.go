package nero

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ArtifactIterator 按键顺序遍历某一前缀下的程序ID
type ArtifactIterator struct {
	prefix []byte
	txn    *badger.Txn
	iter   *badger.Iterator
	id     ProgramID
	err    error
	start  bool
}

// Iterator 创建一个新的只读迭代器，使用完毕后必须调用 Close
func (s *ArtifactStore) Iterator(prefix []byte) *ArtifactIterator {
	txn := s.Database.NewTransaction(false)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false // 只需要键
	opts.Prefix = prefix

	return &ArtifactIterator{
		prefix: prefix,
		txn:    txn,
		iter:   txn.NewIterator(opts),
	}
}

// Next 移动到下一个程序ID，没有更多数据时返回 false
func (it *ArtifactIterator) Next() bool {
	if it.err != nil {
		return false
	}

	if !it.start {
		it.iter.Seek(it.prefix)
		it.start = true
	} else {
		it.iter.Next()
	}
	if !it.iter.ValidForPrefix(it.prefix) {
		return false
	}

	// 键为 prefix + 程序ID
	key := it.iter.Item().Key()
	if len(key) != len(it.prefix)+len(it.id) {
		logrus.Errorf("[ArtifactIterator] 键长度错误:\t%x", key)
		it.err = ErrNotFound
		return false
	}
	copy(it.id[:], key[len(it.prefix):])
	return true
}

// ID 返回当前的程序ID
func (it *ArtifactIterator) ID() ProgramID {
	return it.id
}

// Err 返回遍历过程中的错误
func (it *ArtifactIterator) Err() error {
	return it.err
}

// Close 释放迭代器与事务
func (it *ArtifactIterator) Close() {
	it.iter.Close()
	it.txn.Discard()
}
