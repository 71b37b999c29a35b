package cli

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevelFromString converts a string to a logrus level with better defaults
func LogLevelFromString(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.ErrorLevel // Fatal is treated as Error level for filtering
	default:
		// Default to WARN level if not specified or invalid
		return logrus.WarnLevel
	}
}

// NewLogger creates the process logger writing to output.
// JSON output mode logs JSON so stderr stays machine readable.
func NewLogger(level string, output io.Writer, jsonFormat bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(LogLevelFromString(level))
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
