// Package rlog provides the small leveled logger every relidp package logs
// through, mirroring the shape of the teacher project's device.Logger: a
// struct of level-gated format functions rather than a structured-logging
// dependency, so call sites read as `log.Verbosef("...", args...)`.
package rlog

import (
	"fmt"
	"log"
	"os"
)

type LogFunc func(format string, args ...any)

// Logger groups the two log levels the engine cares about: Verbosef for
// routine protocol chatter (retries, wire-drops, teardown) and Errorf for
// conditions that indicate a bug or a misbehaving peer.
type Logger struct {
	Verbosef LogFunc
	Errorf   LogFunc
}

// Level selects which of NewLogger's levels are active.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelVerbose
)

// NewLogger builds a Logger that writes to stderr through the standard log
// package, prefixing every line with prepend.
func NewLogger(level Level, prepend string) *Logger {
	logger := log.New(os.Stderr, prepend, log.LstdFlags)
	nop := func(string, ...any) {}

	l := &Logger{Verbosef: nop, Errorf: nop}
	if level >= LevelError {
		l.Errorf = func(format string, args ...any) {
			logger.Output(2, fmt.Sprintf("ERROR: "+format, args...))
		}
	}
	if level >= LevelVerbose {
		l.Verbosef = func(format string, args ...any) {
			logger.Output(2, fmt.Sprintf("VERBOSE: "+format, args...))
		}
	}
	return l
}
