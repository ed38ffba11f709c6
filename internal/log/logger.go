// Package log writes engine output to the console and a daemon log file.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger mirrors console output into a persistent log file so sync
// activity can be inspected after the daemon exits.
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	out   io.Writer
	debug bool
}

// New opens (or creates) the daemon log file under logDir.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "wearsync.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		file: file,
		out:  os.Stdout,
	}, nil
}

// SetDebug toggles Debugf output.
func (l *Logger) SetDebug(on bool) {
	l.mu.Lock()
	l.debug = on
	l.mu.Unlock()
}

func (l *Logger) emit(console io.Writer, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprint(console, msg)
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), msg)
	_, _ = fmt.Fprint(l.file, stamped)
}

// Printf writes a formatted message to the console and the log file.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.emit(l.out, fmt.Sprintf(format, args...))
}

// Println writes a message with a trailing newline.
func (l *Logger) Println(args ...interface{}) {
	l.emit(l.out, fmt.Sprintln(args...))
}

// Errorf writes a formatted error message to stderr and the log file.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(os.Stderr, fmt.Sprintf(format+"\n", args...))
}

// Debugf writes only when debug logging is enabled. Debug lines always
// reach the log file.
func (l *Logger) Debugf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format+"\n", args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	stamped := fmt.Sprintf("[%s] DEBUG %s", time.Now().Format("2006-01-02 15:04:05"), msg)
	_, _ = fmt.Fprint(l.file, stamped)
	if l.debug {
		_, _ = fmt.Fprint(l.out, msg)
	}
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var globalLogger *Logger

// Init initializes the global logger and redirects the standard log
// package into the daemon log file, keeping third-party log output off
// the console.
func Init(logDir string) error {
	logger, err := New(logDir)
	if err != nil {
		return err
	}
	globalLogger = logger

	stdlog.SetOutput(logger.file)
	stdlog.SetFlags(stdlog.Ldate | stdlog.Ltime)

	return nil
}

// SetDebug toggles debug output on the global logger.
func SetDebug(on bool) {
	if globalLogger != nil {
		globalLogger.SetDebug(on)
	}
}

// Printf uses the global logger when initialized, stdout otherwise.
func Printf(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.Printf(format, args...)
	} else {
		fmt.Printf(format, args...)
	}
}

// Println uses the global logger when initialized, stdout otherwise.
func Println(args ...interface{}) {
	if globalLogger != nil {
		globalLogger.Println(args...)
	} else {
		fmt.Println(args...)
	}
}

// Errorf uses the global logger when initialized, stderr otherwise.
func Errorf(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.Errorf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// Debugf uses the global logger when initialized, discards otherwise.
func Debugf(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.Debugf(format, args...)
	}
}

// Close closes the global logger.
func Close() error {
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}
