// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is sentineld's leveled logger. Lines carry the
// sd-daemon <N> prefixes so journald picks up the right priority;
// timestamps are left to whatever supervises the process.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	NoteWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	DebugLog = log.New(DebugWriter, "<7>[DEBUG]    ", 0)
	InfoLog  = log.New(InfoWriter, "<6>[INFO]     ", 0)
	NoteLog  = log.New(NoteWriter, "<5>[NOTICE]   ", log.Lshortfile)
	WarnLog  = log.New(WarnWriter, "<4>[WARNING]  ", log.Lshortfile)
	ErrLog   = log.New(ErrWriter, "<3>[ERROR]    ", log.Llongfile)
	CritLog  = log.New(CritWriter, "<2>[CRITICAL] ", log.Llongfile)
)

// SetLogLevel silences every level below lvl by pointing its writer at
// io.Discard. Levels, most to least severe: crit, err, warn, notice,
// info, debug. An unknown value keeps everything on (debug).
func SetLogLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		NoteWriter = io.Discard
		fallthrough
	case "notice":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: invalid loglevel %#v, falling back to 'debug'\n", lvl)
		return
	}
	DebugLog.SetOutput(DebugWriter)
	InfoLog.SetOutput(InfoWriter)
	NoteLog.SetOutput(NoteWriter)
	WarnLog.SetOutput(WarnWriter)
	ErrLog.SetOutput(ErrWriter)
}

func Print(v ...any) {
	Info(v...)
}

func Debug(v ...any) {
	if DebugWriter != io.Discard {
		DebugLog.Output(2, fmt.Sprint(v...))
	}
}

func Info(v ...any) {
	if InfoWriter != io.Discard {
		InfoLog.Output(2, fmt.Sprint(v...))
	}
}

func Note(v ...any) {
	if NoteWriter != io.Discard {
		NoteLog.Output(2, fmt.Sprint(v...))
	}
}

func Warn(v ...any) {
	if WarnWriter != io.Discard {
		WarnLog.Output(2, fmt.Sprint(v...))
	}
}

func Error(v ...any) {
	if ErrWriter != io.Discard {
		ErrLog.Output(2, fmt.Sprint(v...))
	}
}

func Crit(v ...any) {
	if CritWriter != io.Discard {
		CritLog.Output(2, fmt.Sprint(v...))
	}
}

// Fatal logs at the error level and stops the process.
func Fatal(v ...any) {
	Error(v...)
	os.Exit(1)
}

func Printf(format string, v ...any) {
	Infof(format, v...)
}

func Debugf(format string, v ...any) {
	if DebugWriter != io.Discard {
		DebugLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...any) {
	if InfoWriter != io.Discard {
		InfoLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Notef(format string, v ...any) {
	if NoteWriter != io.Discard {
		NoteLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warnf(format string, v ...any) {
	if WarnWriter != io.Discard {
		WarnLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...any) {
	if ErrWriter != io.Discard {
		ErrLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Critf(format string, v ...any) {
	if CritWriter != io.Discard {
		CritLog.Output(2, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs at the error level and stops the process.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}
