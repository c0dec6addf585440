package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 文件日志参数，零值字段使用默认值
type Options struct {
	Dir        string
	Level      string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
}

type Logger struct {
	*logrus.Logger
	fileLogger *logrus.Logger
	rotator    *lumberjack.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

func init() {
	l, err := newLogger(Options{})
	if err != nil {
		// 日志目录不可用时只输出到控制台
		l.Logger.Errorf("无法创建日志目录: %v", err)
	}
	defaultLogger = l
}

func newLogger(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30
	}
	fileLevel := logrus.InfoLevel
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("无效的日志级别 %q: %w", opts.Level, err)
		}
		fileLevel = lvl
	}

	// 控制台日志配置
	consoleLogger := logrus.New()
	consoleLogger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	consoleLogger.SetOutput(os.Stdout)
	consoleLogger.SetLevel(logrus.DebugLevel)

	// 文件日志配置
	fileLogger := logrus.New()
	fileLogger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint:     false,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	fileLogger.SetLevel(fileLevel)

	l := &Logger{Logger: consoleLogger, fileLogger: fileLogger}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		fileLogger.SetOutput(os.Stderr)
		return l, err
	}

	// 使用lumberjack进行日志轮转
	l.rotator = &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "topic-bot.log"),
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   true,
	}
	fileLogger.SetOutput(l.rotator)
	return l, nil
}

// Setup 按配置重建默认日志器，旧的日志文件会被关闭
func Setup(opts Options) error {
	l, err := newLogger(opts)
	if l == nil {
		return err
	}

	mu.Lock()
	old := defaultLogger
	defaultLogger = l
	mu.Unlock()

	if old != nil && old.rotator != nil {
		_ = old.rotator.Close()
	}
	return err
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func Infof(format string, args ...any) {
	l := current()
	l.Logger.Infof(format, args...)
	l.fileLogger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	l := current()
	l.Logger.Warnf(format, args...)
	l.fileLogger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	l := current()
	l.Logger.Errorf(format, args...)
	l.fileLogger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	l := current()
	l.fileLogger.Errorf(format, args...)
	l.Logger.Fatalf(format, args...)
}

func Debugf(format string, args ...any) {
	l := current()
	l.Logger.Debugf(format, args...)
	l.fileLogger.Debugf(format, args...)
}
