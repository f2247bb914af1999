// Package logging provides leveled log helpers for the mail core.
// Output goes through the standard logger with the same INFO:/WARN:/ERROR:/DEBUG:
// prefixes the rest of the system greps for.
package logging

import (
	"log"
	"os"
	"strings"
)

// DebugEnabled controls whether Debug() produces output.
// Set via --debug flag or MAILCORE_DEBUG=1 environment variable.
var DebugEnabled bool

// InitFromEnv enables debug output when MAILCORE_DEBUG is set to a true value.
func InitFromEnv() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MAILCORE_DEBUG"))) {
	case "1", "true", "yes", "on":
		DebugEnabled = true
	}
}

// Debug logs a message only when DebugEnabled is true.
func Debug(format string, args ...any) {
	if DebugEnabled {
		log.Printf("DEBUG: "+format, args...)
	}
}

func Info(format string, args ...any) {
	log.Printf("INFO: "+format, args...)
}

func Warn(format string, args ...any) {
	log.Printf("WARN: "+format, args...)
}

func Error(format string, args ...any) {
	log.Printf("ERROR: "+format, args...)
}
