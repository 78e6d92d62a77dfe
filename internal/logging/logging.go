// Package logging provides a small severity-coloured wrapper around the
// standard logger, in the spirit of the plain log.Println/log.Fatal call
// sites scattered through the golaborate command-line tools, but with
// fatih/color severity tags so a terminal session can tell INFO from
// FAULT at a glance.
package logging

import (
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	infoTag  = color.New(color.FgCyan).Sprint("INFO")
	warnTag  = color.New(color.FgYellow).Sprint("WARN")
	errTag   = color.New(color.FgRed).Sprint("ERROR")
	faultTag = color.New(color.FgRed, color.Bold).Sprint("FAULT")
)

// Logger wraps a *log.Logger with leveled, coloured helpers.
type Logger struct {
	l *log.Logger
}

// New returns a Logger writing to stderr with a timestamp prefix.
func New() *Logger {
	return &Logger{l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (lg *Logger) Info(format string, args ...interface{}) {
	lg.l.Printf(infoTag+" "+format, args...)
}

func (lg *Logger) Warn(format string, args ...interface{}) {
	lg.l.Printf(warnTag+" "+format, args...)
}

func (lg *Logger) Error(format string, args ...interface{}) {
	lg.l.Printf(errTag+" "+format, args...)
}

// Fault logs at the highest severity. It does not exit the process;
// callers that consider a fault unrecoverable call os.Exit themselves
// after logging, so the log line is never lost to a deferred flush.
func (lg *Logger) Fault(format string, args ...interface{}) {
	lg.l.Printf(faultTag+" "+format, args...)
}
