// package shared defines shared helpers
package shared

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewConfiguredLogger builds a [log.Logger] from [LoggingConfig].
//
// When a file is configured, entries are written to stderr and to a [lumberjack.Logger] rotating sink.
// The returned closer releases the file sink and is never nil.
func NewConfiguredLogger(cfg LoggingConfig) (*log.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = io.MultiWriter(os.Stderr, sink)
		closer = sink
	}

	logger := NewLogger(w)
	if cfg.Level != "" {
		if level, err := log.ParseLevel(cfg.Level); err == nil {
			SetLogLevel(logger, level)
		} else {
			logger.Warn("unknown log level, keeping default", "level", cfg.Level)
		}
	}

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// MarshalJSON encodes v as JSON, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

var monthsOfTheYear = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// DateString renders t as "Jan 2nd, 2006 at 15:04" in t's location.
func DateString(t time.Time) string {
	day := t.Day()
	return fmt.Sprintf("%s %d%s, %d at %02d:%02d", monthsOfTheYear[t.Month()-1], day, daySuffix(day), t.Year(), t.Hour(), t.Minute())
}

func daySuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// LastUpdatedMessage builds the playlist status string for a watermark.
func LastUpdatedMessage(t time.Time) string {
	return MessageLastUpdatedPrefix + " " + DateString(t)
}

// Playlist status messages
const (
	MessageLastUpdatedPrefix = "Last Updated:"
	MessageNeverUpdated      = "Never Updated"
)

// EqualFoldTrim reports whether a and b match case-insensitively, ignoring surrounding whitespace.
func EqualFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Epoch is the zero point used for "never refreshed" timestamps.
var Epoch = time.Unix(0, 0).UTC()
