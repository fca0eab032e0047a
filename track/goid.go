package track

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID parses the goroutine id out of the first line of a
// runtime.Stack dump ("goroutine 123 [running]:"). Runtime internals offer
// faster paths to the same number but they pin the code to a specific Go
// release; this form is stable. ThreadTracker's push, change and pop do not
// call it, except for the test-only strict owner check in Push; the registry
// calls it on every tracker lookup and release, which includes each scoped
// builder's Begin.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	frame := buf[:n]
	frame = bytes.TrimPrefix(frame, []byte("goroutine "))
	if i := bytes.IndexByte(frame, ' '); i > 0 {
		frame = frame[:i]
	}
	id, err := strconv.ParseInt(string(frame), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
