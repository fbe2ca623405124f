package oml

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `oml` package:
// Info:
//     abnormal but expected events. Silent on normal operation, except one time
//     initialization data that is useful when something goes wrong later.
//     this includes:
//     - transport and file errors
//     - messages discarded while waiting for the root element
// Warning:
//     recovered panics (see `HandleError`)
// V(1):
//     one line per key event, with ids that can be used to filter
//     - edits sent, acked, superseded
//     - buffer rerenders
// V(2):
//     per message and per packet detail, timing traces

const LogLevelEvent glog.Level = 1
const LogLevelDebug glog.Level = 2

type LogFunction func(string, ...any)

// LogFn returns a tagged logger. A level of 0 logs at Info unconditionally.
func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
