package script

import (
	"fmt"
	"math"
)

// MaxNumLen 是共识规则下算术操作数允许的最大字节数
const MaxNumLen = 4

// EncodeNum 将整数编码为脚本数字：小端、最小长度、最高位为符号位
func EncodeNum(n int64) []byte {
	if n == 0 {
		return nil
	}

	negative := n < 0
	var abs uint64
	if negative {
		abs = uint64(-n)
	} else {
		abs = uint64(n)
	}

	result := make([]byte, 0, 9)
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}

	// 最高字节的符号位已被占用时需要额外的一个字节
	if result[len(result)-1]&0x80 != 0 {
		extra := byte(0x00)
		if negative {
			extra = 0x80
		}
		result = append(result, extra)
	} else if negative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// DecodeNum 将脚本数字解码为整数，不要求最小编码
func DecodeNum(b []byte, maxLen int) (int64, error) {
	if len(b) > maxLen {
		return 0, fmt.Errorf("%w: 长度 %d 超过 %d 字节", ErrNumberTooLarge, len(b), maxLen)
	}
	if len(b) == 0 {
		return 0, nil
	}

	var result int64
	for i, v := range b {
		result |= int64(v) << uint8(8*i)
	}

	// 最高字节的符号位表示负数
	if b[len(b)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(b)-1)))
		return -result, nil
	}

	return result, nil
}

// DecodeUint32 将栈元素解码为非负的 32 位无符号整数
func DecodeUint32(b []byte) (uint32, error) {
	n, err := DecodeNum(b, MaxNumLen)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrNumberOutOfRange, n)
	}
	return uint32(n), nil
}
