package log

import (
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 64

func isRuntimeFrame(fn string) bool { return strings.HasPrefix(fn, "runtime.") }

func isLoggingFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") || strings.Contains(fn, "/internal/log.")
}

// captureStack renders the current goroutine's stack, skip frames up
func captureStack(skip int) string {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return appFrames(pcs[:n])
}

func renderPCs(pcs []uintptr) string { return appFrames(pcs) }

// appFrames renders func/file:line pairs starting at the first frame
// outside the logging packages and stopping at the runtime
func appFrames(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if fr.PC == 0 || isRuntimeFrame(fr.Function) {
			break
		}
		if !started && !isLoggingFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// firstExtFrame is the first frame that belongs to neither the runtime,
// the logging packages nor xerrors
func firstExtFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	if len(pcs) == 0 {
		return "", "", 0, false
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		internal := isRuntimeFrame(fr.Function) || isLoggingFrame(fr.Function) ||
			strings.Contains(fr.Function, "/internal/xerrors.")
		if !internal && fr.Function != "" {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			return "", "", 0, false
		}
	}
}
