package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger represents a file logger for execution activities
type Logger struct {
	label   string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
	LogLevelHalt    LogLevel = "HALT"
)

// NewLogger creates a new file logger labelled with the run identity (mode + account)
func NewLogger(label string) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", label, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		label:   label,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
	}

	l.writeSessionHeader()

	return l, nil
}

// NewWriterLogger creates a logger writing to an arbitrary writer (tests, console-only runs)
func NewWriterLogger(label string, w io.Writer) *Logger {
	return &Logger{
		label:  label,
		logger: log.New(w, "", 0),
	}
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 EXECUTION SESSION STARTED
================================================================================
Run: %s
Started: %s
================================================================================
`, l.label, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs an execution action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs account status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogFill logs a confirmed fill
func (l *Logger) LogFill(kind, symbol, side string, qty, price float64, orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	fillLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s FILL ====================
✅ Order ID: %s
📦 %s %s qty %.6f
💰 Price: $%.4f
========================================================`,
		timestamp, kind, orderID, side, symbol, qty, price)

	l.logger.Println(fillLog)
}

// LogRejection logs a rejected intent with its reason code
func (l *Logger) LogRejection(symbol, reason, detail string) {
	l.Info("Intent rejected - %s: %s (%s)", symbol, reason, detail)
}

// LogHaltTransition logs a kill switch transition
func (l *Logger) LogHaltTransition(from, to, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	haltLog := fmt.Sprintf(`
[%s] [HALT] ==================== KILL SWITCH ====================
🔁 %s -> %s
📋 Reason: %s
==========================================================`,
		timestamp, from, to, reason)

	l.logger.Println(haltLog)
}

// LogAccountStatus logs a compact account snapshot line
func (l *Logger) LogAccountStatus(equity, usedMargin float64, openPositions int, haltState string) {
	l.Status("Equity: $%.2f | Used margin: $%.2f | Open positions: %d | State: %s",
		equity, usedMargin, openPositions, haltState)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s", fmt.Sprintf(context+": "+message, args...))
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		footer := fmt.Sprintf(`
================================================================================
🛑 EXECUTION SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"))
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}
