// 导出文件

package nero

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/distributed-lab/nero/disprove"
	"github.com/spf13/afero"
)

// FileStore 封装了文件存储的操作
type FileStore struct {
	Fs       afero.Fs
	BasePath string
}

// NewFileStore 创建一个新的FileStore实例，inMemory 为真时文件只保存在内存中
func NewFileStore(basePath string, inMemory bool) (*FileStore, error) {
	var fs afero.Fs = afero.NewOsFs()
	if inMemory {
		fs = afero.NewMemMapFs()
	}
	if err := fs.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("创建导出目录失败: %w", err)
	}
	return &FileStore{Fs: fs, BasePath: basePath}, nil
}

// WriteFile 在指定子目录写入一个文件
func (fs *FileStore) WriteFile(subDir, fileName string, data []byte) (string, error) {
	dir := filepath.Join(fs.BasePath, subDir)
	if err := fs.Fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	filePath := filepath.Join(dir, fileName)
	if err := afero.WriteFile(fs.Fs, filePath, data, 0644); err != nil {
		return "", fmt.Errorf("写入文件失败: %w", err)
	}
	return filePath, nil
}

// ReadFile 读取指定子目录中的文件
func (fs *FileStore) ReadFile(subDir, fileName string) ([]byte, error) {
	return afero.ReadFile(fs.Fs, filepath.Join(fs.BasePath, subDir, fileName))
}

// ExportDisproveScripts 把每个反驳脚本写成两个文件：
// shard_<i>.verifier 保存十六进制的验证脚本，shard_<i>.witness 每行保存一个十六进制的见证元素
func (fs *FileStore) ExportDisproveScripts(subDir string, scripts []*disprove.DisproveScript) ([]string, error) {
	paths := make([]string, 0, 2*len(scripts))
	for i, d := range scripts {
		verifier := []byte(hex.EncodeToString(d.Verifier) + "\n")
		path, err := fs.WriteFile(subDir, fmt.Sprintf("shard_%d.verifier", i), verifier)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)

		var witness []byte
		for _, element := range d.Witness {
			witness = append(witness, hex.EncodeToString(element)...)
			witness = append(witness, '\n')
		}
		path, err = fs.WriteFile(subDir, fmt.Sprintf("shard_%d.witness", i), witness)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
