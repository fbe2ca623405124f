package oml

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// HandleError runs `do` and returns a recovered panic as an error, logged with its stack.
// Event handlers run through this so that one bad event is a no-op
// instead of a crash of the host process.
func HandleError(do func()) (returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				returnErr = err
			} else {
				returnErr = fmt.Errorf("%v", r)
			}
			glog.Warningf("Unexpected error: %s\n", panicJson(returnErr, debug.Stack()))
		}
	}()
	do()
	return nil
}

type panicRecord struct {
	Error string   `json:"error"`
	Stack []string `json:"stack"`
}

// one line of json, so that a panic stays one log entry
func panicJson(err error, stack []byte) string {
	record := &panicRecord{
		Error: err.Error(),
		Stack: []string{},
	}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			record.Stack = append(record.Stack, line)
		}
	}
	recordJson, _ := json.Marshal(record)
	return string(recordJson)
}

func Trace(tag string, do func()) {
	trace(tag, func() string {
		do()
		return ""
	})
}

func TraceWithReturn[R any](tag string, do func() R) (result R) {
	trace(tag, func() string {
		result = do()
		return fmt.Sprintf(" = %v", result)
	})
	return
}

func trace(tag string, do func() string) {
	if !glog.V(2) {
		do()
		return
	}
	start := time.Now()
	glog.Infof("[%-8s]%s (%d)\n", "start", tag, start.UnixMilli())
	doTag := do()
	end := time.Now()
	millis := float32(end.Sub(start)) / float32(time.Millisecond)
	glog.Infof("[%-8s]%s (%.2fms) (%d)%s\n", "end", tag, millis, end.UnixMilli(), doTag)
}
