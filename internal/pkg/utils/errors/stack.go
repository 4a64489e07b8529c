package errors

import (
	"runtime"
	"strings"
)

const stackDepth = 32

type StackTrace []runtime.Frame

type stackTracer interface {
	StackTrace() StackTrace
}

func callers() StackTrace {
	pcs := make([]uintptr, stackDepth)
	// Skip runtime.Callers, callers and the constructor.
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out StackTrace
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, frame)
		}
		if !more {
			break
		}
	}
	return out
}
