package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" (default) or "json"
	File   string `yaml:"file"`
}

// Global logging configuration. Until Init runs, messages at info level and
// above go to stdout so startup failures are never dropped.
var GlobalLogging = defaultLogging()

func defaultLogging() *LoggingConfig {
	return &LoggingConfig{Level: LogLevelInfo, Format: FormatConsole}
}

var (
	backendMu sync.RWMutex
	backend   = newBackend(os.Stdout, FormatConsole)
	logFile   *os.File
)

// Init installs the logging configuration and the zerolog backend.
// Messages go to the configured file when one is set, stdout otherwise.
func Init(config *LoggingConfig) error {
	if config.Level == "" {
		config.Level = LogLevelInfo
	}
	config.Level = strings.ToLower(config.Level)
	if !validLevel(config.Level) {
		return fmt.Errorf("unknown log level %q", config.Level)
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if config.File != "" {
		// Use 0600 permissions (owner read/write only) for security
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.File, err)
		}
		file = f
		out = f
	}

	backendMu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	backend = newBackend(out, config.Format)
	backendMu.Unlock()

	GlobalLogging = config
	return nil
}

// Close releases the log file, if any
func Close() {
	backendMu.Lock()
	defer backendMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	backend = newBackend(os.Stdout, FormatConsole)
}

func newBackend(out io.Writer, format string) zerolog.Logger {
	if format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	}
	return zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

func validLevel(level string) bool {
	switch level {
	case LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace:
		return true
	}
	return false
}

// shouldLog checks if a message should be logged based on current level
func shouldLog(currentLevel, messageLevel string) bool {
	levels := []string{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace}

	currentIndex := -1
	messageIndex := -1

	for i, level := range levels {
		if level == currentLevel {
			currentIndex = i
		}
		if level == messageLevel {
			messageIndex = i
		}
	}

	// If either level is not found, default to allowing the message
	if currentIndex == -1 || messageIndex == -1 {
		return true
	}

	return messageIndex <= currentIndex
}

func enabled(messageLevel string) bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), messageLevel)
}

func write(level zerolog.Level, prefix, format string, args ...interface{}) {
	backendMu.RLock()
	l := backend
	backendMu.RUnlock()
	l.WithLevel(level).Msgf(prefix+format, args...)
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	write(zerolog.NoLevel, "🔧 ", format, args...)
}

// Helper functions for global logging
func LogError(format string, args ...interface{}) {
	if enabled(LogLevelError) {
		write(zerolog.ErrorLevel, "❌ ", format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if enabled(LogLevelWarn) {
		write(zerolog.WarnLevel, "⚠️ ", format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if enabled(LogLevelInfo) {
		write(zerolog.InfoLevel, "ℹ️ ", format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if enabled(LogLevelDebug) {
		write(zerolog.DebugLevel, "🔧 ", format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if enabled(LogLevelTrace) {
		write(zerolog.TraceLevel, "🔍 ", format, args...)
	}
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return enabled(LogLevelDebug)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return enabled(LogLevelTrace)
}
