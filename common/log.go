package common

import (
	"os"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log level, used by the config layer
type LOG_LEVEL int

const (
	LEVEL_DEBUG LOG_LEVEL = iota
	LEVEL_INFO
	LEVEL_WARN
	LEVEL_ERROR
)

var (
	LOG_LEVEL_Name = map[LOG_LEVEL]string{
		0: "DEBUG",
		1: "INFO",
		2: "WARN",
		3: "ERROR",
	}
	LOG_LEVEL_Value = map[string]LOG_LEVEL{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}
)

func ParseLogLevel(s string) (LOG_LEVEL, error) {
	lvl, ok := LOG_LEVEL_Value[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return LEVEL_INFO, errors.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// brief modes replace the whole config with a preset
const (
	LOG_MODE_DEV  = "DEV"
	LOG_MODE_PROD = "PROD"
)

type LogConfig struct {
	BriefMode          string
	ModuleSpecialLevel map[string]LOG_LEVEL // per-module level override

	LogPath        string // empty path logs to the console only
	LogLevel       LOG_LEVEL
	RotationMaxAge int // days
	RotationTime   int // hours
	RotationSize   int // MB
	ShowLine       bool
	LogInConsole   bool
}

func DefaultLogConfig(isDEV bool) *LogConfig {
	if isDEV {
		return defaultBriefLogConfigForDEV()
	}

	return defaultBriefLogConfigForPROD()
}

func defaultBriefLogConfigForDEV() *LogConfig {
	return &LogConfig{
		LogPath:        "./dsphmm.dev.log",
		LogLevel:       LEVEL_DEBUG,
		RotationMaxAge: 1,
		RotationTime:   1,
		RotationSize:   10,
		ShowLine:       true,
		LogInConsole:   true,
	}
}

func defaultBriefLogConfigForPROD() *LogConfig {
	return &LogConfig{
		LogPath:        "./dsphmm.log",
		LogLevel:       LEVEL_INFO,
		RotationMaxAge: 7,
		RotationTime:   24,
		RotationSize:   30,
		ShowLine:       true,
		LogInConsole:   false,
	}
}

func adjustLogConfig(name string, lc *LogConfig) *LogConfig {
	if lc.BriefMode != "" {
		return DefaultLogConfig(lc.BriefMode != LOG_MODE_PROD)
	}

	newC := *lc
	newC.ModuleSpecialLevel = nil
	if lvl, ok := lc.ModuleSpecialLevel[name]; ok {
		newC.LogLevel = lvl
	}
	return &newC
}

func zapLevelOf(lvl LOG_LEVEL) zapcore.Level {
	switch lvl {
	case LEVEL_DEBUG:
		return zap.DebugLevel
	case LEVEL_INFO:
		return zap.InfoLevel
	case LEVEL_WARN:
		return zap.WarnLevel
	case LEVEL_ERROR:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func newWriteSyncer(lcc *LogConfig) (zapcore.WriteSyncer, error) {
	var syncers []zapcore.WriteSyncer
	if lcc.LogPath != "" {
		rotationWriter, err := rotatelogs.New(
			lcc.LogPath+".%Y%m%d%H",
			rotatelogs.WithRotationTime(time.Duration(lcc.RotationTime)*time.Hour),
			rotatelogs.WithRotationSize(int64(lcc.RotationSize)*1024*1024),
			rotatelogs.WithMaxAge(time.Hour*24*time.Duration(lcc.RotationMaxAge)),
		)
		if err != nil {
			return nil, errors.Wrap(err, "new rotation log failed")
		}
		syncers = append(syncers, zapcore.AddSync(rotationWriter))
	}
	// logs go to stderr so that stdout stays free for command output
	if lcc.LogInConsole || len(syncers) == 0 {
		syncers = append(syncers, zapcore.AddSync(os.Stderr))
	}
	return zapcore.NewMultiWriteSyncer(syncers...), nil
}

func NewSugaredLogger(name string, lc *LogConfig) (*zap.SugaredLogger, error) {
	lcc := adjustLogConfig(name, lc)
	//1.level
	zapLevel := zapLevelOf(lcc.LogLevel)
	priorityLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapLevel
	})

	//2.syncer
	syncer, err := newWriteSyncer(lcc)
	if err != nil {
		return nil, err
	}

	//3.encoder
	customLevelEncoder := func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + level.CapitalString() + "]")
	}
	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "line",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    customLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	//4.core and logger
	core := zapcore.NewCore(encoder, syncer, priorityLevel)
	logger := zap.New(core).Named(name)

	var opts []zap.Option
	if lcc.ShowLine {
		opts = append(opts, zap.AddCaller())
	}
	// HMMLogger wraps the zap logger, skip that frame
	opts = append(opts, zap.AddCallerSkip(1))
	logger = logger.WithOptions(opts...)

	return logger.Sugar(), nil
}

const (
	MODULE_TRAIN    = "[Train]"
	MODULE_CLASSIFY = "[Classify]"
	MODULE_MODEL    = "[Model]"
	MODULE_SERVER   = "[Server]"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

// HMMLogger is a module logger whose backend can be swapped by SetLogConfig.
type HMMLogger struct {
	zlog  *zap.SugaredLogger
	name  string
	runID string
	mutex sync.RWMutex
}

func (l *HMMLogger) Logger() *zap.SugaredLogger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.zlog
}

func (l *HMMLogger) Debug(args ...interface{}) {
	l.Logger().Debug(args...)
}

func (l *HMMLogger) Debugf(format string, args ...interface{}) {
	l.Logger().Debugf(format, args...)
}

func (l *HMMLogger) Info(args ...interface{}) {
	l.Logger().Info(args...)
}

func (l *HMMLogger) Infof(format string, args ...interface{}) {
	l.Logger().Infof(format, args...)
}

func (l *HMMLogger) Warn(args ...interface{}) {
	l.Logger().Warn(args...)
}

func (l *HMMLogger) Warnf(format string, args ...interface{}) {
	l.Logger().Warnf(format, args...)
}

func (l *HMMLogger) Error(args ...interface{}) {
	l.Logger().Error(args...)
}

func (l *HMMLogger) Errorf(format string, args ...interface{}) {
	l.Logger().Errorf(format, args...)
}

func (l *HMMLogger) Fatalf(format string, args ...interface{}) {
	l.Logger().Fatalf(format, args...)
}

func (l *HMMLogger) Sync() error {
	return l.Logger().Sync()
}

func (l *HMMLogger) SetLogger(logger *zap.SugaredLogger) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.zlog = logger
}

func (l *HMMLogger) build(lc *LogConfig) (*zap.SugaredLogger, error) {
	zlog, err := NewSugaredLogger(l.name, lc)
	if err != nil {
		return nil, err
	}
	if l.runID != "" {
		zlog = zlog.With("run", l.runID)
	}
	return zlog, nil
}

var (
	hmmLoggersMap = make(map[string]*HMMLogger)
	loggerMutex   sync.RWMutex
	hmmLogConfig  *LogConfig
)

func GetLogger(name string) *HMMLogger {
	return GetLoggerWithRunID(name, "")
}

// GetLoggerWithRunID returns the logger of a module tagged with a run id, e.g. one
// training run. Loggers are cached per (name, runID).
func GetLoggerWithRunID(name, runID string) *HMMLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	loggerKey := name + runID
	if logger, ok := hmmLoggersMap[loggerKey]; ok {
		return logger
	}

	if hmmLogConfig == nil {
		hmmLogConfig = DefaultLogConfig(true)
	}

	logger := &HMMLogger{name: name, runID: runID}
	zlog, err := logger.build(hmmLogConfig)
	if err != nil {
		// fall back to stderr rather than losing the module's logs
		zlog = zap.NewExample().Named(name).Sugar()
		zlog.Errorf("build logger failed, %s", err)
	}
	logger.zlog = zlog
	hmmLoggersMap[loggerKey] = logger

	return logger
}

// SetLogConfig installs config and rebuilds every logger created so far.
func SetLogConfig(config *LogConfig) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	hmmLogConfig = config
	for _, logger := range hmmLoggersMap {
		zlog, err := logger.build(hmmLogConfig)
		if err != nil {
			return errors.WithMessagef(err, "logger %s", logger.name)
		}
		logger.SetLogger(zlog)
	}
	return nil
}
