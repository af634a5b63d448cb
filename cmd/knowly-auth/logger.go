package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"golang.org/x/term"
)

// cliLogger adapts a glog logger to the printf style auth.Logger. Debug and
// info lines are dropped unless verbose is set.
type cliLogger struct {
	root    *glog.BaseLogger
	base    glog.Logger
	verbose bool
}

func newCLILogger(verbose bool) *cliLogger {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("knowly-auth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	return &cliLogger{root: lgr, base: lgr.GetLogger("cli"), verbose: verbose}
}

// named returns a logger scoped to one component.
func (l *cliLogger) named(name string) *cliLogger {
	return &cliLogger{root: l.root, base: l.root.GetLogger(name), verbose: l.verbose}
}

func (l *cliLogger) Debug(format string, args ...any) {
	if l.verbose {
		l.base.Debug(message(format, args...))
	}
}

func (l *cliLogger) Info(format string, args ...any) {
	if l.verbose {
		l.base.Info(message(format, args...))
	}
}

func (l *cliLogger) Warn(format string, args ...any) {
	l.base.Warn(message(format, args...))
}

func (l *cliLogger) Error(format string, args ...any) {
	l.base.Error(message(format, args...))
}

func message(format string, args ...any) string {
	if len(args) == 0 {
		return strings.TrimRight(format, "\n")
	}
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func readTerminalPassword(fd int) ([]byte, error) {
	if term.IsTerminal(fd) {
		return term.ReadPassword(fd)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
