// Package logger provides component-tagged structured logging.
package logger

import (
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu   sync.RWMutex
	base = newBase()
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a LogLevel.
// Unknown values fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(toLogrus(level))
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	switch base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DEBUG
	case logrus.WarnLevel:
		return WARN
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return ERROR
	default:
		return INFO
	}
}

func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// SetJSON switches between JSON and human-readable text output.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

func entry(component string, fields map[string]any) *logrus.Entry {
	mu.RLock()
	l := base
	mu.RUnlock()

	f := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	if component != "" {
		f["component"] = component
	}
	return l.WithFields(f)
}

func DebugC(component, message string) {
	entry(component, nil).Debug(message)
}

func DebugCF(component, message string, fields map[string]any) {
	entry(component, fields).Debug(message)
}

func InfoC(component, message string) {
	entry(component, nil).Info(message)
}

func InfoCF(component, message string, fields map[string]any) {
	entry(component, fields).Info(message)
}

func WarnC(component, message string) {
	entry(component, nil).Warn(message)
}

func WarnCF(component, message string, fields map[string]any) {
	entry(component, fields).Warn(message)
}

func ErrorC(component, message string) {
	entry(component, nil).Error(message)
}

func ErrorCF(component, message string, fields map[string]any) {
	entry(component, fields).Error(message)
}
