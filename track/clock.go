package track

import "time"

// The region header records a (start_time, start_ticks) pair at birth:
// start_time is wall-clock nanoseconds, start_ticks the monotonic reading at
// the same instant. Activity records carry monotonic ticks only; readers
// translate with wall = start_time + (ticks - start_ticks), which works even
// when the reader is another process with a different monotonic base because
// only differences of this process's ticks are ever used.

var processStart = time.Now()

// nowTicks returns the monotonic tick count, in nanoseconds since an
// arbitrary process-local origin.
func nowTicks() int64 {
	return int64(time.Since(processStart))
}

// nowWall returns wall-clock nanoseconds.
func nowWall() int64 {
	return time.Now().UnixNano()
}
