// Package logging builds the launcher's hclog loggers.
package logging

import (
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// New creates an hclog logger with the launcher's standard settings.
// The level string may carry a "json:" prefix (e.g. "json:debug") to
// switch the logger to JSON output.
func New(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	jsonFormat := false
	actualLevel := level
	if strings.HasPrefix(level, "json") {
		jsonFormat = true
		parts := strings.SplitN(level, ":", 2)
		if len(parts) > 1 && parts[1] != "" {
			actualLevel = parts[1]
		} else {
			actualLevel = "info"
		}
	}

	// Support log file output
	if logPath := os.Getenv("ENCAP_LOG_PATH"); logPath != "" {
		if file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			output = file
		}
	}

	// Add prefix to non-JSON output (ASCII on Windows, emoji on Unix)
	if !jsonFormat {
		prefix := "[encap] "
		if runtime.GOOS != "windows" {
			prefix = "🧩 "
		}
		output = NewPrefixWriter(prefix, output)
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(actualLevel),
		JSONFormat: jsonFormat,
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z", // UTC ISO format without timezone
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Level resolves the log level: explicit CLI value first, then
// ENCAP_LOG_LEVEL, then the quiet default. The returned source names
// where the level came from for startup diagnostics.
func Level(cliLevel string) (level string, source string) {
	if cliLevel != "" {
		return cliLevel, "flag"
	}
	if envLevel := os.Getenv("ENCAP_LOG_LEVEL"); envLevel != "" {
		return envLevel, "ENCAP_LOG_LEVEL"
	}
	// Default to warn for production safety; fatal errors hint at this.
	return "warn", "default"
}
