package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"acquisition-service/pkg/config"
)

// Logger 日志服务，封装 logrus
type Logger struct {
	entry *logrus.Logger
	file  *os.File
}

var (
	mu     sync.RWMutex
	global = &Logger{entry: logrus.StandardLogger()}
)

// NewLogger 根据配置创建日志服务
func NewLogger(cfg *config.Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Log.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	svc := &Logger{entry: l}
	switch strings.ToLower(cfg.Log.Output) {
	case "file":
		if f := openLogFile(cfg.Log.Filename); f != nil {
			svc.file = f
			l.SetOutput(f)
		}
	case "both":
		if f := openLogFile(cfg.Log.Filename); f != nil {
			svc.file = f
			l.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	default:
		l.SetOutput(os.Stdout)
	}
	return svc
}

func openLogFile(name string) *os.File {
	if name == "" {
		name = "logs/acquisition-service.log"
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// Close 关闭日志文件
func (l *Logger) Close() {
	if l != nil && l.file != nil {
		_ = l.file.Close()
	}
}

// SetGlobalLogger 设置全局日志器
func SetGlobalLogger(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

func current() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.entry
}

func withFields(fields []map[string]interface{}) *logrus.Entry {
	e := logrus.NewEntry(current())
	for _, f := range fields {
		if len(f) > 0 {
			e = e.WithFields(logrus.Fields(f))
		}
	}
	return e
}

// WithFields 返回带字段的 entry
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return current().WithFields(logrus.Fields(fields))
}

func Debug(msg string, fields ...map[string]interface{}) { withFields(fields).Debug(msg) }
func Info(msg string, fields ...map[string]interface{})  { withFields(fields).Info(msg) }
func Warn(msg string, fields ...map[string]interface{})  { withFields(fields).Warn(msg) }
func Error(msg string, fields ...map[string]interface{}) { withFields(fields).Error(msg) }
func Fatal(msg string, fields ...map[string]interface{}) { withFields(fields).Fatal(msg) }

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }
