package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Packages depend on this interface rather than a concrete logger so tests
// can pass nil or a recording logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var (
	rootInstance *rootLogger
	rootOnce     sync.Once
)

// rootLogger owns the shared log sink. Component loggers share its file
// handle and level but carry their own component tag.
type rootLogger struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	level Level
}

func getRoot() *rootLogger {
	rootOnce.Do(func() {
		rootInstance = &rootLogger{out: os.Stdout, level: LevelInfo}

		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("logging: cannot resolve home directory: %v", err)
			return
		}
		path := filepath.Join(home, "briefer-debug.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("logging: cannot open log file %s: %v", path, err)
			return
		}
		rootInstance.file = file
		rootInstance.out = io.MultiWriter(os.Stdout, file)
	})
	return rootInstance
}

// SetLevel sets the minimum level for all component loggers.
func SetLevel(level Level) {
	root := getRoot()
	root.mu.Lock()
	root.level = level
	root.mu.Unlock()
}

// componentLogger emits leveled, timestamped lines tagged with a component
// name through the shared root sink.
type componentLogger struct {
	root      *rootLogger
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{root: getRoot(), component: component}
}

func (l *componentLogger) emit(level Level, format string, args ...any) {
	l.root.mu.Lock()
	defer l.root.mu.Unlock()
	if level < l.root.level {
		return
	}
	component := l.component
	if component == "" {
		component = "briefer"
	}
	// Format: 2026-01-02 15:04:05 [INFO] [Component] message
	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, component,
		fmt.Sprintf(format, args...))
	_, _ = io.WriteString(l.root.out, line)
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.emit(LevelDebug, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.emit(LevelInfo, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.emit(LevelWarn, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.emit(LevelError, format, args...)
}
