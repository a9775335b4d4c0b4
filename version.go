package nero

import (
	"fmt"
	"strconv"
	"strings"
)

// storeFormatVersion 是持久化数据的格式版本，格式不兼容时递增主版本号
const storeFormatVersion = "1.0"

// CompareVersions 比较两个版本号，如果v1 < v2返回-1，如果v1 == v2返回0，如果v1 > v2返回1
func CompareVersions(v1, v2 string) (int, error) {
	v1Parts := strings.Split(v1, ".")
	v2Parts := strings.Split(v2, ".")

	for i := 0; i < len(v1Parts) || i < len(v2Parts); i++ {
		v1Part, err := versionPart(v1Parts, i)
		if err != nil {
			return 0, fmt.Errorf("版本解析错误 %q: %w", v1, err)
		}
		v2Part, err := versionPart(v2Parts, i)
		if err != nil {
			return 0, fmt.Errorf("版本解析错误 %q: %w", v2, err)
		}

		if v1Part < v2Part {
			return -1, nil
		}
		if v1Part > v2Part {
			return 1, nil
		}
	}

	return 0, nil
}

// versionPart 返回第 i 段版本号，缺失的段视为 0
func versionPart(parts []string, i int) (int, error) {
	if i >= len(parts) {
		return 0, nil
	}
	return strconv.Atoi(parts[i])
}

// checkStoreVersion 检查已存储数据的格式版本能否被当前程序读取
func checkStoreVersion(stored string) error {
	cmp, err := CompareVersions(stored, storeFormatVersion)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return fmt.Errorf("数据格式版本 %s 高于当前支持的 %s", stored, storeFormatVersion)
	}
	return nil
}
