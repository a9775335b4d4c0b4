package nero

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// EncodeToBytes 函数接受任意数据类型并返回其 gob 编码的 []byte 表示。
// DecodeFromBytes 函数接受一个 gob 编码的 []byte 和一个指向要解码到的数据结构的指针，然后将数据解码到该结构中。
func TestCodeAndByte(t *testing.T) {
	stored := storedSplitResult{
		Shards: Flatten([][]byte{{0x76}, {0x93, 0x87}}),
		States: []storedState{{Stack: Flatten([][]byte{{1}}), AltStack: nil}},
	}

	encodedData, err := EncodeToBytes(stored)
	require.NoError(t, err)

	var decoded storedSplitResult
	require.NoError(t, DecodeFromBytes(encodedData, &decoded))
	require.Equal(t, stored.Shards, decoded.Shards)
	require.Len(t, decoded.States, 1)
	require.Equal(t, stored.States[0].Stack, decoded.States[0].Stack)
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		data [][]byte
	}{
		{name: "empty", data: nil},
		{name: "single", data: [][]byte{{1, 2, 3}}},
		{name: "empty elements", data: [][]byte{{}, {0x81}, {}}},
		{name: "large", data: [][]byte{bytes.Repeat([]byte{0xab}, 1000), {7}}},
	}

	for _, test := range tests {
		flat := Flatten(test.data)
		got, err := Unflatten(flat)
		if err != nil {
			t.Fatalf("%s: Unflatten 失败: %v", test.name, err)
		}
		if len(got) != len(test.data) {
			t.Fatalf("%s: 元素个数 %d, 期望 %d", test.name, len(got), len(test.data))
		}
		for i := range got {
			if !bytes.Equal(got[i], test.data[i]) {
				t.Fatalf("%s: 第 %d 个元素 %x, 期望 %x", test.name, i, got[i], test.data[i])
			}
		}
	}

	// 截断的数据
	flat := Flatten([][]byte{{1, 2, 3}})
	_, err := Unflatten(flat[:len(flat)-1])
	require.Error(t, err)
	_, err = Unflatten(flat[:2])
	require.Error(t, err)
}

func TestZstd(t *testing.T) {
	data := bytes.Repeat([]byte("OP_DUP OP_ADD "), 500)

	compressed, err := compressZstd(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))

	decompressed, err := decompressZstd(compressed)
	require.NoError(t, err)
	require.Equal(t, data, decompressed)

	_, err = decompressZstd([]byte("not zstd"))
	require.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1", 0},
		{"1.2", "1.10", -1},
		{"2.0", "1.9.9", 1},
		{"0.9", "1.0", -1},
	}

	for _, test := range tests {
		got, err := CompareVersions(test.v1, test.v2)
		require.NoError(t, err)
		require.Equal(t, test.want, got, "%s vs %s", test.v1, test.v2)
	}

	_, err := CompareVersions("1.x", "1.0")
	require.Error(t, err)

	require.NoError(t, checkStoreVersion(storeFormatVersion))
	require.Error(t, checkStoreVersion("2.0"))
}

func TestGenerateRandomString(t *testing.T) {
	s, err := generateRandomString(12)
	require.NoError(t, err)
	require.Len(t, s, 12)
}
