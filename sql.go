package nero

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const memoryDB = ":memory:"

// SqliteDB 封装了索引数据库的基本操作
type SqliteDB struct {
	DB *sql.DB
	tx *sql.Tx // 非空时所有操作都在该事务中执行
}

// execer 是 *sql.DB 与 *sql.Tx 共有的操作
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (s *SqliteDB) conn() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.DB
}

// NewSqliteDB 打开位于 dir/file 的数据库，file 为 ":memory:" 时使用内存数据库
func NewSqliteDB(dir, file string) (*SqliteDB, error) {
	dsn := memoryDB
	if file != memoryDB {
		dsn = filepath.Join(dir, file)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if dsn == memoryDB {
		// 每个连接都有独立的内存数据库
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	return &SqliteDB{DB: db}, nil
}

// Close 关闭数据库
func (s *SqliteDB) Close() error {
	return s.DB.Close()
}

// WithTx 在一个事务中执行 fn，fn 返回错误时回滚，否则提交。已在事务中时直接执行 fn。
func (s *SqliteDB) WithTx(fn func(tx *SqliteDB) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(&SqliteDB{DB: s.DB, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.Errorf("[WithTx] 回滚失败:\t%v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// CreateTable 创建数据表（如果不存在）
func (s *SqliteDB) CreateTable(name string, columns []string) error {
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(columns, ", "))
	_, err := s.conn().Exec(query)
	return err
}

// Insert 插入一行数据
func (s *SqliteDB) Insert(table string, data map[string]interface{}) error {
	columns := make([]string, 0, len(data))
	marks := make([]string, 0, len(data))
	args := make([]interface{}, 0, len(data))
	for column, value := range data {
		columns = append(columns, column)
		marks = append(marks, "?")
		args = append(args, value)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(marks, ", "))
	_, err := s.conn().Exec(query, args...)
	return err
}

// Delete 删除满足全部条件的行
func (s *SqliteDB) Delete(table string, conditions []string, args []interface{}) error {
	query := fmt.Sprintf("DELETE FROM %s%s", table, where(conditions))
	_, err := s.conn().Exec(query, args...)
	return err
}

// Exists 判断是否存在满足全部条件的行
func (s *SqliteDB) Exists(table string, conditions []string, args []interface{}) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s%s)", table, where(conditions))

	var exists bool
	if err := s.conn().QueryRow(query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Select 查询满足全部条件的行，order 为空时不排序
func (s *SqliteDB) Select(table string, columns, conditions []string, args []interface{}, order string) (*sql.Rows, error) {
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(columns, ", "), table, where(conditions))
	if order != "" {
		query += " ORDER BY " + order
	}
	return s.conn().Query(query, args...)
}

// where 把条件拼接为 WHERE 子句
func where(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
