// Package logger owns the process-wide logrus instance. Every entry carries
// the service name and subsystems add a component tag on top.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName = "rampart"
	logFileName = "rampart.log"
)

var (
	_log = logrus.New()

	// component name -> *logrus.Entry
	components sync.Map
)

// Options selects the level and destinations used by Setup.
type Options struct {
	Debug bool
	// Dir adds a rotated rampart.log under it when set.
	Dir string
	// Console defaults to os.Stdout.
	Console io.Writer
}

// Setup points the logger at the console and, when opts.Dir is set, a
// rotated file. It returns the writer in use so the standard log package
// can share it. A Dir that cannot be created leaves console-only logging in
// place and is reported as an error.
func Setup(opts Options) (io.Writer, error) {
	out := opts.Console
	if out == nil {
		out = os.Stdout
	}

	var err error
	if opts.Dir != "" {
		if mkErr := os.MkdirAll(opts.Dir, 0o755); mkErr != nil {
			err = fmt.Errorf("create log dir %s: %w", opts.Dir, mkErr)
		} else {
			out = io.MultiWriter(out, &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, logFileName),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	Init(opts.Debug, out)
	return out, err
}

// Init sets output and level. Debug switches to human readable text; the
// default is one JSON object per line.
func Init(debug bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)
	if debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	_log.SetLevel(logrus.InfoLevel)
	_log.SetFormatter(&logrus.JSONFormatter{})
}

// Log returns the base entry.
func Log() *logrus.Entry {
	return _log.WithField("service", serviceName)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}

// Component returns the shared entry for a subsystem. Entries are built once
// per name and stay valid across Init calls.
func Component(name string) *logrus.Entry {
	if e, ok := components.Load(name); ok {
		return e.(*logrus.Entry)
	}
	e, _ := components.LoadOrStore(name, Log().WithField("component", name))
	return e.(*logrus.Entry)
}
