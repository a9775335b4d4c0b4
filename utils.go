package nero

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btclog"
	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/snowzach/rotatefilehook"
	"github.com/vrecan/death/v3"
)

// EncodeToBytes 使用 gob 编码将任意数据转换为 []byte
func EncodeToBytes(data interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := gob.NewEncoder(&buffer)

	err := encoder.Encode(data)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// DecodeFromBytes 使用 gob 解码将 []byte 转换为指定的数据结构
func DecodeFromBytes(data []byte, result interface{}) error {
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)

	return decoder.Decode(result)
}

// Flatten 将 [][]byte 转换为 []byte，每个元素之前写入 4 字节长度
func Flatten(data [][]byte) []byte {
	var buffer bytes.Buffer
	var length [4]byte
	for _, d := range data {
		binary.LittleEndian.PutUint32(length[:], uint32(len(d)))
		buffer.Write(length[:])
		buffer.Write(d)
	}
	return buffer.Bytes()
}

// Unflatten 将 Flatten 的结果还原为 [][]byte
func Unflatten(data []byte) ([][]byte, error) {
	reader := bytes.NewReader(data)
	result := make([][]byte, 0)

	for reader.Len() > 0 {
		var length uint32
		if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("读取元素长度失败: %w", err)
		}
		if int64(length) > int64(reader.Len()) {
			return nil, fmt.Errorf("元素长度 %d 超出剩余数据 %d", length, reader.Len())
		}

		d := make([]byte, length)
		if _, err := io.ReadFull(reader, d); err != nil {
			return nil, fmt.Errorf("读取元素失败: %w", err)
		}
		result = append(result, d)
	}
	return result, nil
}

// compressZstd 使用 zstd 压缩数据
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd 解压 zstd 压缩的数据
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// CloseOnSignal 阻塞直到收到 SIGINT/SIGTERM，关闭服务后退出程序
func (n *Nero) CloseOnSignal() {
	//syscall.SIGINT ctr+c触发
	//syscall.SIGTERM 当前进程被kill(即收到SIGTERM)
	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	d.WaitForDeathWithFunc(func() {
		defer os.Exit(1)
		if err := n.Close(); err != nil {
			logrus.Errorf("[CloseOnSignal] 关闭失败:\t%v", err)
		}
	})
}

const (
	logName = "console"
	// txscriptSubsystem 是 btcd 脚本引擎日志的子系统标签
	txscriptSubsystem = "TXSC"
)

// SetLog 为每一个实例创建一个log文件，记录日志信息，并把脚本引擎的日志转发到 logrus
func SetLog(dir, instanceId string) error {
	var logLevel = logrus.InfoLevel
	filename := filepath.Join(dir, fmt.Sprintf("%s.log", logName))
	if instanceId != "" {
		filename = filepath.Join(dir, fmt.Sprintf("%s_%s.log", logName, instanceId))
	}
	// logrus 的回调钩子
	rotateFileHook, err := rotatefilehook.NewRotateFileHook(rotatefilehook.RotateFileConfig{
		Filename:   filename,
		MaxSize:    50, // 文件最大50M
		MaxBackups: 3,
		MaxAge:     28, // 存储28天
		Level:      logLevel,
		Formatter: &logrus.JSONFormatter{ // 默认为ASCII formatter，转为JSON formatter
			TimestampFormat: "2006-01-02 15:04:05", // 时间戳字符串格式
		},
	})
	if err != nil {
		return fmt.Errorf("初始化文件回调钩子失败: %w", err)
	}

	logrus.SetLevel(logLevel)
	logrus.SetOutput(colorable.NewColorableStdout())
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC822,
	})
	logrus.AddHook(rotateFileHook)

	useScriptLogger(btclog.LevelWarn)
	return nil
}

// useScriptLogger 把 txscript 的日志写入 logrus
func useScriptLogger(level btclog.Level) {
	backend := btclog.NewBackend(logrus.StandardLogger().WriterLevel(logrus.DebugLevel))
	logger := backend.Logger(txscriptSubsystem)
	logger.SetLevel(level)
	txscript.UseLogger(logger)
}

// generateRandomString 生成一个指定长度的随机字符串
func generateRandomString(length int) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var result strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		result.WriteByte(letters[num.Int64()])
	}
	return result.String(), nil
}
