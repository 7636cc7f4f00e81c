/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatter for the greybox fuzzer. Prints a compact line with an
event tag derived from the message (CRASH, TIMEOUT, COVERAGE, PROGRESS), optional colours,
and fields sorted by key so output is stable between runs.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter provides compact, tagged logging output
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var out strings.Builder

	if f.Timestamp {
		out.WriteString(f.paint(36, entry.Time.Format("2006-01-02 15:04:05.000")))
		out.WriteByte(' ')
	}

	out.WriteString(f.paint(levelColor(entry.Level), strings.ToUpper(entry.Level.String())))
	out.WriteByte(' ')

	if tag := eventTag(entry.Message); tag != "" {
		out.WriteString(f.paint(35, "["+tag+"]"))
		out.WriteByte(' ')
	}

	if f.Caller && entry.HasCaller() {
		out.WriteString(f.paint(33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line)))
		out.WriteByte(' ')
	}

	out.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		out.WriteByte(' ')
		out.WriteString(f.formatFields(entry.Data))
	}

	out.WriteByte('\n')
	return []byte(out.String()), nil
}

func (f *CustomFormatter) paint(color int, s string) string {
	if !f.Colors {
		return s
	}
	return fmt.Sprintf("\033[%dm%s\033[0m", color, s)
}

// levelColor returns the ANSI color code for a log level
func levelColor(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return 37
	case logrus.InfoLevel:
		return 32
	case logrus.WarnLevel:
		return 33
	case logrus.ErrorLevel:
		return 31
	default:
		return 35
	}
}

// eventTag picks a short tag for well-known fuzzer messages
func eventTag(message string) string {
	switch {
	case strings.HasPrefix(message, "Crash"):
		return "CRASH"
	case strings.HasPrefix(message, "Timeout"):
		return "TIMEOUT"
	case strings.Contains(message, "coverage"):
		return "COVERAGE"
	case strings.HasPrefix(message, "Progress"), strings.HasPrefix(message, "Statistics"):
		return "PROGRESS"
	default:
		return ""
	}
}

// formatFields renders fields as key=value pairs in key order
func (f *CustomFormatter) formatFields(fields logrus.Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := formatValue(k, fields[k])
		if f.Colors {
			parts = append(parts, fmt.Sprintf("\033[34m%s\033[0m=\033[32m%s\033[0m", k, v))
		} else {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// formatValue formats a field value appropriately
func formatValue(key string, value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.Round(time.Millisecond).String()
	case time.Time:
		return v.Format("15:04:05.000")
	case float64:
		if key == "execs_per_sec" {
			return fmt.Sprintf("%.2f/sec", v)
		}
		return fmt.Sprintf("%.2f", v)
	case string:
		if len(v) > 60 {
			return v[:60] + "..."
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
