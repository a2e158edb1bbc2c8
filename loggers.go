package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/qdl-go/qdl/internal/logs"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	shortLogLines = 2000
	longLogLines  = 90000
	keptLogLines  = 200 // enumeration and staging always survive rotation
)

// loggers are the log sinks of one run.
type loggers struct {
	stderr io.Writer   // stderr, or the rotating --log file
	user   *log.Logger // short progress lines for the user
	short  *logs.MemoryWriter
	long   *logs.MemoryWriter
	log    *logs.Logger // component log into both memory writers
}

// initLoggers builds the sinks for a run. With debug set, debug lines are
// written and the long log is mirrored to stderr (or the log file).
func initLoggers(logfile string, debug bool) (*loggers, error) {
	l := &loggers{stderr: os.Stderr}
	if logfile != "" {
		l.stderr = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		}
	}
	l.user = log.New(l.stderr, "", log.LstdFlags)

	var err error
	l.short, err = logs.NewMemoryWriter(shortLogLines, keptLogLines, false, nil)
	if err != nil {
		return nil, fmt.Errorf("short log: %w", err)
	}

	var mirror io.Writer
	if debug {
		mirror = l.stderr
	}
	l.long, err = logs.NewMemoryWriter(longLogLines, keptLogLines, true, mirror)
	if err != nil {
		return nil, fmt.Errorf("long log: %w", err)
	}

	l.log = &logs.Logger{
		Writer:  io.MultiWriter(l.short, l.long),
		Verbose: debug,
	}
	return l, nil
}
