// Package logx provides structured logging with per-component loggers and
// env-controlled debug output.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes structured log lines for one named component.
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// debugConfig controls debug logging behavior, initialized from the
// environment at startup.
type debugState struct {
	enabled bool
	domains map[string]bool // nil = all domains
}

//nolint:gochecknoglobals // Process-wide debug switches, set once from env
var (
	debugConfig debugState
	debugMutex  sync.RWMutex
)

//nolint:gochecknoinits // Env var initialization
func init() {
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.enabled = true
	}

	// DEBUG_DOMAINS=chat,circuit,session restricts debug output to the
	// listed components.
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.domains[strings.TrimSpace(domain)] = true
		}
	}
}

// SetDebug configures debug logging globally, overriding the environment.
func SetDebug(enabled bool, domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugConfig.enabled = enabled
	if len(domains) == 0 {
		debugConfig.domains = nil
	} else {
		debugConfig.domains = make(map[string]bool)
		for _, domain := range domains {
			debugConfig.domains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabledFor returns whether debug logging is enabled for a component.
func IsDebugEnabledFor(component string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.enabled {
		return false
	}
	if debugConfig.domains == nil {
		return true
	}
	return debugConfig.domains[component]
}

// NewLogger creates a logger for the named component. Output goes to stderr
// so stdout stays clean for streamed responses.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// Component returns the component name this logger was created with.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
}

// Debug logs only when debug output is enabled for this component.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Errorf logs an error and returns it as an error value for convenient
// log-and-return call sites.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	NewLogger("global").Error("%s", err.Error())
	return err
}
