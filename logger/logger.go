// Package logger contains the logging interface used by the projector and its
// subpackages.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

var defaultLogger = &std{
	log: log.New(os.Stderr, "", log.LstdFlags),
}

// Logger is the interface the projector and its subpackages use for logging.
type Logger interface {
	// Printf will be used for informational messages. These can be thought of
	// having an 'Info'-level in a structured logger.
	Printf(string, ...interface{})

	// Debugf is used for debugging messages, mostly for debugging the projector
	// itself. It is turned off unless enabled with Debug.
	Debugf(string, ...interface{})

	// Prefix returns a logger that prefixes all messages with passed prefix,
	// appended to the prefix of the current logger.
	Prefix(string) Logger

	// CurrentPrefix returns the formatted prefix of the logger.
	CurrentPrefix() string
}

// Printer is the minimal interface of a log sink, e.g. *log.Logger.
type Printer interface {
	Printf(string, ...interface{})
}

// std bridges the logger calls to a Printer.
type std struct {
	log        Printer
	debug      bool
	prefixPath []string
	prefix     string
}

func (s *std) Printf(msg string, args ...interface{}) {
	s.log.Printf(fmt.Sprintf("%s%s", s.prefix, msg), args...)
}

func (s *std) Debugf(msg string, args ...interface{}) {
	if s.debug {
		s.log.Printf(fmt.Sprintf("%s%s", s.prefix, msg), args...)
	}
}

func (s *std) CurrentPrefix() string {
	return s.prefix
}

func (s *std) Prefix(prefix string) Logger {
	var prefPath []string
	// append existing path
	prefPath = append(prefPath, s.prefixPath...)

	// if new is not empty, append to path
	if prefix != "" {
		prefPath = append(prefPath, prefix)
	}

	// make new prefix
	newPrefix := strings.Join(prefPath, " > ")
	if newPrefix != "" {
		newPrefix = "[" + newPrefix + "] "
	}

	return &std{
		log:        s.log,
		prefixPath: prefPath,
		prefix:     newPrefix,
		debug:      s.debug,
	}
}

// Default returns the standard library logger
func Default() Logger {
	return defaultLogger
}

// Debug enables or disables debug logging of the default logger.
func Debug(debug bool) {
	defaultLogger.debug = debug
}

// Wrap creates a Logger writing to p.
func Wrap(p Printer, debug bool) Logger {
	return &std{
		log:   p,
		debug: debug,
	}
}

// Discard returns a logger dropping all messages.
func Discard() Logger {
	return &std{log: nop{}}
}

type nop struct{}

func (nop) Printf(string, ...interface{}) {}
