package prefs

import (
	"fmt"
	"log"
	"os"
)

// Logging convention in the `prefs` package:
// Info:
//     abnormal events. Silent on normal operation, except for one time session setup.
//     this includes:
//     - schema mismatches and rejected messages
//     - transport connect/disconnect errors
// Error:
//     unrecoverable crash details, e.g. a panicking settings callback
// Debug (glog.V(1), glog.V(2)):
//     every send, receive and apply, tagged with the component:
//     [sc] coordinator, [rc] replication channel, [hub] memory transport,
//     [wsh] websocket host, [wsp] websocket peer, [store] preference store

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

func Logger() *log.Logger {
	return logger
}

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			Logger().Printf("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
