package logger

import (
	"fmt"
	"log"
	"strings"
)

// Global logger instance
var defaultLogger *Logger

func init() {
	logger, err := New(DefaultConfig())
	if err != nil {
		log.Printf("Failed to initialize default logger: %v, using standard log", err)
		return
	}

	defaultLogger = logger
}

// InitFromConfig replaces the default logger with one built from configuration values
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger, err := New(LoggerConfig{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	if defaultLogger != nil {
		defaultLogger.Close()
	}
	defaultLogger = logger
	return nil
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

// DebugEnabled reports whether the default logger writes DEBUG lines.
func DebugEnabled() bool {
	if defaultLogger == nil {
		return false
	}
	return defaultLogger.Enabled(DEBUG)
}

// WithFields returns an Entry bound to the default logger.
func WithFields(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.log(2, DEBUG, nil, format, args...)
	} else {
		fallback(DEBUG, nil, format, args...)
	}
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.log(2, INFO, nil, format, args...)
	} else {
		fallback(INFO, nil, format, args...)
	}
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.log(2, WARN, nil, format, args...)
	} else {
		fallback(WARN, nil, format, args...)
	}
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.log(2, ERROR, nil, format, args...)
	} else {
		fallback(ERROR, nil, format, args...)
	}
}

func fallback(level LogLevel, fields Fields, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if suffix := formatFields(fields); suffix != "" {
		msg += " " + suffix
	}
	log.Printf("[%s] %s", levelNames[level], msg)
}

// Close closes the logger
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}
