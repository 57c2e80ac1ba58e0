// Package logging writes per-session debug logs for merlin components.
//
// Every component logger of one process shares a session ID and appends to
// <dir>/<session-id>-merlin.log. The directory defaults to ~/.merlin/logs and
// can be moved with SetDirectory before the first logger is created.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level orders log severities.
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
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelDebug, fmt.Errorf("unknown log level %q", s)
}

// Logger is a component-scoped writer into the session log file.
// A nil *Logger discards everything.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	logger    *log.Logger
	minLevel  Level
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	sessionID     string
	sessionIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	// defaultLevel applies to loggers created after SetLevel.
	defaultLevel = LevelDebug
	levelMu      sync.RWMutex
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			logDir = filepath.Join(homeDir, ".merlin", "logs")
		}
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return initErr
}

// SetDirectory overrides the log directory. It only has an effect before the
// first logger is created.
func SetDirectory(dir string) {
	if dir != "" {
		logDir = dir
	}
}

// SetLevel sets the minimum level for loggers created afterwards.
func SetLevel(l Level) {
	levelMu.Lock()
	defaultLevel = l
	levelMu.Unlock()
}

func currentLevel() Level {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return defaultLevel
}

// NewLogger creates a logger for one component.
//
// If the log directory or file cannot be opened, it returns a logger writing
// to stderr together with the error, so callers can warn and carry on.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-merlin.log", sessID))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		sessionID: sessID,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		minLevel:  currentLevel(),
		logPath:   logPath,
	}, nil
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: file logging unavailable: %v", err)

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		logger:    logger,
		minLevel:  currentLevel(),
	}
}

// New returns a logger writing to w. Useful for tests and for mirroring to a
// terminal.
func New(component string, w io.Writer) *Logger {
	return &Logger{
		sessionID: getSessionID(),
		component: component,
		logger:    log.New(w, "", 0),
		minLevel:  currentLevel(),
	}
}

// Nop returns a logger that discards output.
func Nop() *Logger {
	return nil
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l == nil || level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warnf logs a warning.
func (l *Logger) Warnf(format string, v ...interface{}) { l.logf(LevelWarn, format, v...) }

// Errorf logs an error.
func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

// With returns a logger for a sub-component sharing the same destination.
func (l *Logger) With(sub string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		sessionID: l.sessionID,
		component: l.component + "." + sub,
		logger:    l.logger,
		minLevel:  l.minLevel,
		logPath:   l.logPath,
	}
}

// SessionID returns the session ID, or "" for a nil logger.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// LogPath returns the log file path, empty when not logging to a file.
func (l *Logger) LogPath() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the process-wide session ID.
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored, creating it.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}

// Interface is the logging surface library packages depend on. *Logger
// satisfies it, including a nil *Logger from Nop.
type Interface interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var _ Interface = (*Logger)(nil)
