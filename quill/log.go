package quill

import (
	"fmt"
	"log"
	"os"
)

// Logging convention in the `quill` package:
// Urgent:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation
//     - write failures, subscription failures, callback panics
// Info:
//     key lifecycle events with ids that can be used to filter
//     - subscription setup and teardown, session transitions
// Debug:
//     frequent events - e.g. every snapshot, every store mutation

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

func Logger() *log.Logger {
	return logger
}

type LogFunction func(format string, a ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			logger.Printf("%s: %s\n", tag, m)
		}
	}
}

var logError = LogFn(LogLevelUrgent, "quill")
