// Package common holds console output helpers shared by the command-line
// entry points.
package common

import (
	"fmt"
	"strings"
)

// Console provides formatted terminal output for CLI applications
type Console struct {
	ShowEmojis bool
	SilentMode bool
}

// NewConsole creates a console with default settings
func NewConsole() *Console {
	return &Console{ShowEmojis: true}
}

// SetSilentMode enables or disables silent mode
func (c *Console) SetSilentMode(silent bool) {
	c.SilentMode = silent
}

// Header prints a formatted header
func (c *Console) Header(title string) {
	if c.SilentMode {
		return
	}

	emoji := "🎯"
	if !c.ShowEmojis {
		emoji = "***"
	}

	fmt.Printf("\n%s %s\n", emoji, strings.ToUpper(title))
	fmt.Printf("%s\n", strings.Repeat("=", len(title)+5))
}

// Section prints a formatted section header
func (c *Console) Section(title string) {
	if c.SilentMode {
		return
	}

	emoji := "📋"
	if !c.ShowEmojis {
		emoji = "---"
	}

	fmt.Printf("\n%s %s\n", emoji, title)
	fmt.Printf("%s\n", strings.Repeat("-", len(title)+5))
}

// Info prints an info message
func (c *Console) Info(format string, args ...interface{}) {
	if c.SilentMode {
		return
	}

	emoji := "ℹ️"
	if !c.ShowEmojis {
		emoji = "[INFO]"
	}

	fmt.Printf("%s  %s\n", emoji, fmt.Sprintf(format, args...))
}

// Error prints an error message
func (c *Console) Error(format string, args ...interface{}) {
	emoji := "❌"
	if !c.ShowEmojis {
		emoji = "[ERROR]"
	}

	fmt.Printf("%s %s\n", emoji, fmt.Sprintf(format, args...))
}

// Success prints a success message
func (c *Console) Success(format string, args ...interface{}) {
	if c.SilentMode {
		return
	}

	emoji := "✅"
	if !c.ShowEmojis {
		emoji = "[SUCCESS]"
	}

	fmt.Printf("%s %s\n", emoji, fmt.Sprintf(format, args...))
}

// Warn prints a warning message
func (c *Console) Warn(format string, args ...interface{}) {
	emoji := "⚠️"
	if !c.ShowEmojis {
		emoji = "[WARN]"
	}

	fmt.Printf("%s  %s\n", emoji, fmt.Sprintf(format, args...))
}

// DefaultConsole is the package-level console used by the entry points
var DefaultConsole = NewConsole()

func Header(title string)                        { DefaultConsole.Header(title) }
func Section(title string)                       { DefaultConsole.Section(title) }
func Info(format string, args ...interface{})    { DefaultConsole.Info(format, args...) }
func Error(format string, args ...interface{})   { DefaultConsole.Error(format, args...) }
func Success(format string, args ...interface{}) { DefaultConsole.Success(format, args...) }
func Warn(format string, args ...interface{})    { DefaultConsole.Warn(format, args...) }
func SetSilentMode(silent bool)                  { DefaultConsole.SetSilentMode(silent) }
