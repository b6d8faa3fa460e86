package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the shared logrus instance. It is valid after Init/InitDefault;
// the package-level helpers below are nil-safe before that.
var (
	Logger *logrus.Logger
	mu     sync.Mutex
)

// Config controls log level, console output and optional rotating file output.
type Config struct {
	Level         string // debug, info, warn, error
	OutputFile    string // empty = console only
	MaxFileSizeMB int
	MaxBackups    int
	MaxAgeDays    int
	Compress      bool
	ConsoleOutput bool
}

// Init sets up the shared logger. Safe to call more than once; the last call wins.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
	log.SetFormatter(formatter)

	var writers []io.Writer
	if cfg.ConsoleOutput {
		writers = append(writers, os.Stdout)
	}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxFileSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	out := io.MultiWriter(writers...)
	log.SetOutput(out)

	// Keep the global logrus in sync so that logrus.WithField entries created
	// anywhere in the codebase land in the same file.
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	Logger = log
	return nil
}

// InitDefault is used by tools that run before configuration is loaded.
func InitDefault() error {
	return Init(Config{
		Level:         "info",
		ConsoleOutput: true,
	})
}

// M returns an entry tagged with the originating module.
func M(module string) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField("module", module)
	}
	return logrus.WithField("module", module)
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}
