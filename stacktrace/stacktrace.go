package stacktrace

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

const maxFrames = 64

// Frame is a single resolved call site in a captured stack
type Frame struct {
	// Function is the fully-qualified function name, or empty if the frame could not be symbolized
	Function string
	// File is the full path of the source file for the frame
	File string
	// Line is the line number within File
	Line int
	// PC is the program counter for the frame. It can be used to identify the frame when Function
	// is empty.
	PC uintptr
}

func (f Frame) String() string {
	if f.Function == "" {
		return fmt.Sprintf("[0x%x]", f.PC)
	}

	file := f.File
	if lastSlash := strings.LastIndex(file, "/"); lastSlash >= 0 {
		file = file[lastSlash+1:]
	}
	return fmt.Sprintf("%s (%s:%d)", f.Function, file, f.Line)
}

// Capture records the calling goroutine's stack and resolves it into frames. skip is the number
// of callers to leave out of the capture, with 0 identifying the caller of Capture. Frames inside
// the runtime's startup and teardown machinery are not included.
func Capture(skip int) []Frame {
	pcs := make([]uintptr, maxFrames)
	numFrames := runtime.Callers(skip+2, pcs)
	if numFrames == 0 {
		return nil
	}

	frames := make([]Frame, 0, numFrames)
	callerFrames := runtime.CallersFrames(pcs[:numFrames])
	for {
		frame, more := callerFrames.Next()
		if frame.Function == "runtime.main" || frame.Function == "runtime.goexit" {
			break
		}

		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
			PC:       frame.PC,
		})

		if !more {
			break
		}
	}

	return frames
}

// Write prints the provided frames to w as a numbered listing, outermost call first. When the
// program's entry point is present in the capture, frames above it are omitted and numbering
// begins there.
func Write(w io.Writer, frames []Frame) {
	if len(frames) == 0 {
		fmt.Fprint(w, " ↳ <no stacktrace found>\n")
		return
	}

	start := len(frames) - 1
	for i, frame := range frames {
		if frame.Function == "main.main" {
			start = i
			break
		}
	}

	for i := start; i >= 0; i-- {
		number := start - i + 1
		fmt.Fprintf(w, "%s%d ↳ %s\n", strings.Repeat(" ", number), number, frames[i].String())
	}
}
