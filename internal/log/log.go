// Package log is a minimal level-gated logger. Time/date are left out on
// purpose: a supervising process (systemd, a container runtime) timestamps
// its own records. Prefixes follow systemd's sd-daemon convention.
package log

import (
	"fmt"
	"io"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrorWriter io.Writer = os.Stderr
)

var (
	DebugPrefix = "<7>[DEBUG]"
	InfoPrefix  = "<6>[INFO]"
	WarnPrefix  = "<4>[WARN]"
	ErrPrefix   = "<3>[ERROR]"
	FatalPrefix = "<3>[FATAL]"
)

// SetLevel gates which writers are active, from most to least verbose:
// "debug", "info", "warn", "err"/"fatal". Unknown levels are a no-op.
func SetLevel(level string) {
	switch level {
	case "debug":
		DebugWriter, InfoWriter, WarnWriter, ErrorWriter = os.Stderr, os.Stderr, os.Stderr, os.Stderr
	case "info":
		DebugWriter = io.Discard
		InfoWriter, WarnWriter, ErrorWriter = os.Stderr, os.Stderr, os.Stderr
	case "warn":
		DebugWriter, InfoWriter = io.Discard, io.Discard
		WarnWriter, ErrorWriter = os.Stderr, os.Stderr
	case "err", "fatal":
		DebugWriter, InfoWriter, WarnWriter = io.Discard, io.Discard, io.Discard
		ErrorWriter = os.Stderr
	}
}

func Debug(v ...interface{}) {
	if DebugWriter != io.Discard {
		fmt.Fprintln(DebugWriter, append([]interface{}{DebugPrefix}, v...)...)
	}
}

func Info(v ...interface{}) {
	if InfoWriter != io.Discard {
		fmt.Fprintln(InfoWriter, append([]interface{}{InfoPrefix}, v...)...)
	}
}

func Warn(v ...interface{}) {
	if WarnWriter != io.Discard {
		fmt.Fprintln(WarnWriter, append([]interface{}{WarnPrefix}, v...)...)
	}
}

func Error(v ...interface{}) {
	if ErrorWriter != io.Discard {
		fmt.Fprintln(ErrorWriter, append([]interface{}{ErrPrefix}, v...)...)
	}
}

func Fatal(v ...interface{}) {
	fmt.Fprintln(ErrorWriter, append([]interface{}{FatalPrefix}, v...)...)
	os.Exit(1)
}

func Debugf(format string, v ...interface{}) {
	if DebugWriter != io.Discard {
		fmt.Fprintf(DebugWriter, DebugPrefix+" "+format+"\n", v...)
	}
}

func Infof(format string, v ...interface{}) {
	if InfoWriter != io.Discard {
		fmt.Fprintf(InfoWriter, InfoPrefix+" "+format+"\n", v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if WarnWriter != io.Discard {
		fmt.Fprintf(WarnWriter, WarnPrefix+" "+format+"\n", v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if ErrorWriter != io.Discard {
		fmt.Fprintf(ErrorWriter, ErrPrefix+" "+format+"\n", v...)
	}
}
