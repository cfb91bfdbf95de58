// Package log sends daemon messages to syslog through platinasystems/log,
// which falls back to /dev/kmsg or an early buffer when /dev/log is absent.
package log

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	plog "github.com/platinasystems/log"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var priorities = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "err",
}

var level = int32(LevelInfo)

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return priorities[l]
}

// ParseLevel accepts the syslog priority names used in config files.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "err", "error":
		return LevelError, true
	}
	return LevelInfo, false
}

func SetLevel(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

func Enabled(l Level) bool {
	return int32(l) >= atomic.LoadInt32(&level)
}

// SetWriter copies every logged line to w, e.g. stderr when running in the
// foreground. Call it before any goroutine logs.
func SetWriter(w io.Writer) {
	plog.Tee(w)
}

func Print(l Level, msg string) {
	if !Enabled(l) {
		return
	}
	plog.Print("daemon", l.String(), msg)
}

func Debug(args ...interface{}) {
	Print(LevelDebug, fmt.Sprint(args...))
}

func Debugf(format string, args ...interface{}) {
	Print(LevelDebug, fmt.Sprintf(format, args...))
}

func Info(args ...interface{}) {
	Print(LevelInfo, fmt.Sprint(args...))
}

func Infof(format string, args ...interface{}) {
	Print(LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	Print(LevelWarn, fmt.Sprintf(format, args...))
}

func Error(args ...interface{}) {
	Print(LevelError, fmt.Sprint(args...))
}

func Errorf(format string, args ...interface{}) {
	Print(LevelError, fmt.Sprintf(format, args...))
}
