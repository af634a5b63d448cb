package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the orchestrator timings
type Config interface {
	GetBootstrapTimeout() time.Duration
	GetBootstrapRetries() int
	GetBootstrapBackoff() time.Duration
	GetSafetyTimeout() time.Duration
	GetProfileRetries() int
	GetProfileBackoff() time.Duration
	GetRootPath() string
}

// Clock abstracts time so retry loops can be fast-forwarded in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in
	// the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Navigator performs a full navigation to path, dropping any in-memory
// application state. It is not a soft client-side route change.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string) {
	if f != nil {
		f(path)
	}
}

// Settings is the default Config implementation.
type Settings struct {
	BootstrapTimeout time.Duration
	BootstrapRetries int
	BootstrapBackoff time.Duration
	SafetyTimeout    time.Duration
	ProfileRetries   int
	ProfileBackoff   time.Duration
	RootPath         string
}

// DefaultSettings returns the production timings: 5s session check,
// 3 bootstrap retries starting at 1s, an 8s safety timeout and 3
// profile retries stepping by 1s.
func DefaultSettings() Settings {
	return Settings{
		BootstrapTimeout: 5 * time.Second,
		BootstrapRetries: 3,
		BootstrapBackoff: time.Second,
		SafetyTimeout:    8 * time.Second,
		ProfileRetries:   3,
		ProfileBackoff:   time.Second,
		RootPath:         "/",
	}
}

func (s Settings) GetBootstrapTimeout() time.Duration { return s.BootstrapTimeout }
func (s Settings) GetBootstrapRetries() int           { return s.BootstrapRetries }
func (s Settings) GetBootstrapBackoff() time.Duration { return s.BootstrapBackoff }
func (s Settings) GetSafetyTimeout() time.Duration    { return s.SafetyTimeout }
func (s Settings) GetProfileRetries() int             { return s.ProfileRetries }
func (s Settings) GetProfileBackoff() time.Duration   { return s.ProfileBackoff }
func (s Settings) GetRootPath() string                { return s.RootPath }

var _ Config = Settings{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
