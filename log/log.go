package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Error(v ...interface{})
	Warn(v ...interface{})
	Info(v ...interface{})
	Debug(v ...interface{})
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	// With 返回附带结构化字段的 Logger
	With(keysAndValues ...interface{}) Logger
}

var (
	mux           sync.RWMutex
	defaultLogger Logger
)

func init() {
	defaultLogger = NewSugarLogger(NewOptions())
}

// Options 选项配置
type Options struct {
	LogName    string // 日志名称
	LogLevel   string // 日志级别
	FileName   string // 文件名称
	MaxAge     int    // 日志保留时间，以天为单位
	MaxSize    int    // 日志保留大小，以 M 为单位
	MaxBackups int    // 保留文件个数
	Compress   bool   // 是否压缩
	Console    bool   // 是否同时输出到标准输出
}

// Option 选项方法
type Option func(*Options)

// NewOptions 初始化
func NewOptions(opts ...Option) Options {
	options := Options{
		LogName:    "gotxn",
		LogLevel:   "info",
		FileName:   "gotxn.log",
		MaxAge:     10,
		MaxSize:    100,
		MaxBackups: 3,
		Compress:   true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithLogLevel 日志级别
func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

// WithFileName 日志文件
func WithFileName(filename string) Option {
	return func(o *Options) {
		o.FileName = filename
	}
}

// WithConsole 同时输出到标准输出
func WithConsole(console bool) Option {
	return func(o *Options) {
		o.Console = console
	}
}

// Levels zapcore level
var Levels = map[string]zapcore.Level{
	"":      zapcore.DebugLevel,
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"fatal": zapcore.FatalLevel,
}

type zapLoggerWrapper struct {
	*zap.SugaredLogger
	options Options
}

// NewSugarLogger 基于 zap 构造 Logger，日志文件由 lumberjack 滚动
func NewSugarLogger(options Options) Logger {
	w := &zapLoggerWrapper{options: options}
	core := zapcore.NewCore(w.getEncoder(), w.getLogWriter(), Levels[options.LogLevel])
	w.SugaredLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(options.LogName).Sugar()
	return w
}

func (w *zapLoggerWrapper) With(keysAndValues ...interface{}) Logger {
	return &zapLoggerWrapper{
		SugaredLogger: w.SugaredLogger.With(keysAndValues...),
		options:       w.options,
	}
}

func (w *zapLoggerWrapper) getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 在日志文件中使用大写字母记录日志级别
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	// NewConsoleEncoder 打印更符合人们观察的方式
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func (w *zapLoggerWrapper) getLogWriter() zapcore.WriteSyncer {
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   w.options.FileName,
		MaxAge:     w.options.MaxAge,
		MaxSize:    w.options.MaxSize,
		MaxBackups: w.options.MaxBackups,
		Compress:   w.options.Compress,
	})
	if !w.options.Console {
		return fileWriter
	}
	return zapcore.NewMultiWriteSyncer(fileWriter, zapcore.Lock(os.Stdout))
}

// GetDefaultLogger 获取默认日志实现
func GetDefaultLogger() Logger {
	mux.RLock()
	defer mux.RUnlock()
	return defaultLogger
}

// SetDefaultLogger 替换默认日志实现，传入 nil 时忽略
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		return
	}
	mux.Lock()
	defer mux.Unlock()
	defaultLogger = logger
}

type fieldsCtxKey struct{}

// WithFields 将结构化字段挂载到 ctx 上，Context 系列方法打印日志时会带上这些字段
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues) == 0 {
		return ctx
	}
	existing := Fields(ctx)
	fields := make([]interface{}, 0, len(existing)+len(keysAndValues))
	fields = append(fields, existing...)
	fields = append(fields, keysAndValues...)
	return context.WithValue(ctx, fieldsCtxKey{}, fields)
}

// Fields 获取 ctx 上挂载的结构化字段
func Fields(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsCtxKey{}).([]interface{})
	return fields
}

func contextLogger(ctx context.Context) Logger {
	logger := GetDefaultLogger()
	if fields := Fields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}

// Debugf 打印 Debug 日志
func Debugf(format string, args ...interface{}) {
	GetDefaultLogger().Debugf(format, args...)
}

// Infof 打印 Info 日志
func Infof(format string, args ...interface{}) {
	GetDefaultLogger().Infof(format, args...)
}

// Warnf 打印 Warn 日志
func Warnf(format string, args ...interface{}) {
	GetDefaultLogger().Warnf(format, args...)
}

// Errorf 打印 Error 日志
func Errorf(format string, args ...interface{}) {
	GetDefaultLogger().Errorf(format, args...)
}

// DebugContext 打印 Debug 日志
func DebugContext(ctx context.Context, args ...interface{}) {
	contextLogger(ctx).Debug(args...)
}

// DebugContextf 打印 Debug 日志
func DebugContextf(ctx context.Context, format string, args ...interface{}) {
	contextLogger(ctx).Debugf(format, args...)
}

// InfoContext 打印 Info 日志
func InfoContext(ctx context.Context, args ...interface{}) {
	contextLogger(ctx).Info(args...)
}

// InfoContextf 打印 Info 日志
func InfoContextf(ctx context.Context, format string, args ...interface{}) {
	contextLogger(ctx).Infof(format, args...)
}

// WarnContext 打印 Warn 日志
func WarnContext(ctx context.Context, args ...interface{}) {
	contextLogger(ctx).Warn(args...)
}

// WarnContextf 打印 Warn 日志
func WarnContextf(ctx context.Context, format string, args ...interface{}) {
	contextLogger(ctx).Warnf(format, args...)
}

// ErrorContext 打印 Error 日志
func ErrorContext(ctx context.Context, args ...interface{}) {
	contextLogger(ctx).Error(args...)
}

func ErrorContextf(ctx context.Context, format string, args ...interface{}) {
	contextLogger(ctx).Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Errorf(format, args...)
}
