package nero

import (
	"fmt"

	"github.com/distributed-lab/nero/disprove"
)

const (
	disproveTable = "disprove"
	indexFileName = "index.db"
)

// indexFile 返回实例的索引数据库文件名
func indexFile(opt *Options) string {
	if opt.InMemory {
		return memoryDB
	}
	if opt.InstanceId == "" {
		return indexFileName
	}
	return fmt.Sprintf("index_%s.db", opt.InstanceId)
}

// InitDBTable 数据库表
func (s *SqliteDB) InitDBTable() error {
	// 创建反驳脚本索引表
	if err := s.createDisproveTable(); err != nil {
		return err
	}

	return nil
}

// createDisproveTable 创建反驳脚本索引表
func (s *SqliteDB) createDisproveTable() error {
	table := []string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT", // 自增长主键
		"programID VARCHAR(64)",                // 程序ID
		"shard INTEGER",                        // 分片序号
		"leafHash VARCHAR(64)",                 // 验证脚本的叶子哈希
		"verifierSize INTEGER",                 // 验证脚本的字节数
		"witnessSize INTEGER",                  // 见证元素个数
	}

	// 创建表
	if err := s.CreateTable(disproveTable, table); err != nil {
		return fmt.Errorf("创建反驳脚本索引表失败: %w", err)
	}

	return nil
}

// DisproveRecord 是反驳脚本在索引中的记录
type DisproveRecord struct {
	ProgramID    string // 程序ID
	Shard        int    // 分片序号
	LeafHash     string // 验证脚本的叶子哈希
	VerifierSize int    // 验证脚本的字节数
	WitnessSize  int    // 见证元素个数
}

// NewDisproveRecord 为第 shard 个反驳脚本创建索引记录
func NewDisproveRecord(id ProgramID, shard int, d *disprove.DisproveScript) *DisproveRecord {
	return &DisproveRecord{
		ProgramID:    id.String(),
		Shard:        shard,
		LeafHash:     d.LeafHash().String(),
		VerifierSize: len(d.Verifier),
		WitnessSize:  len(d.Witness),
	}
}

// ExistsDisproveRecord 判断某个分片的记录是否存在
func ExistsDisproveRecord(s *SqliteDB, programID string, shard int) (bool, error) {
	conditions := []string{"programID=?", "shard=?"} // 查询条件
	args := []interface{}{programID, shard}          // 查询条件对应的值
	exists, err := s.Exists(disproveTable, conditions, args)
	if err != nil {
		return exists, fmt.Errorf("查询反驳脚本记录失败: %w", err)
	}

	return exists, nil
}

// Create 保存记录到数据库
func (r *DisproveRecord) Create(s *SqliteDB) error {
	data := map[string]interface{}{
		"programID":    r.ProgramID,
		"shard":        r.Shard,
		"leafHash":     r.LeafHash,
		"verifierSize": r.VerifierSize,
		"witnessSize":  r.WitnessSize,
	}

	if err := s.Insert(disproveTable, data); err != nil {
		return fmt.Errorf("保存反驳脚本记录失败: %w", err)
	}

	return nil
}

// DeleteDisproveRecords 删除程序的全部记录
func DeleteDisproveRecords(s *SqliteDB, programID string) error {
	if err := s.Delete(disproveTable, []string{"programID=?"}, []interface{}{programID}); err != nil {
		return fmt.Errorf("删除反驳脚本记录失败: %w", err)
	}
	return nil
}

// QueryDisproveRecords 按分片序号返回程序的全部记录
func QueryDisproveRecords(s *SqliteDB, programID string) ([]DisproveRecord, error) {
	columns := []string{"programID", "shard", "leafHash", "verifierSize", "witnessSize"}
	rows, err := s.Select(disproveTable, columns, []string{"programID=?"}, []interface{}{programID}, "shard")
	if err != nil {
		return nil, fmt.Errorf("查询反驳脚本记录失败: %w", err)
	}
	defer rows.Close()

	var records []DisproveRecord
	for rows.Next() {
		var r DisproveRecord
		if err := rows.Scan(&r.ProgramID, &r.Shard, &r.LeafHash, &r.VerifierSize, &r.WitnessSize); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
