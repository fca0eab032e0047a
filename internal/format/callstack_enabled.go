//go:build activitycallstack

package format

// CallStackSlots is the number of program-counter slots recorded per
// activity when call-stack capture is compiled in. The captured stack is
// zero-terminated when shorter than this.
const CallStackSlots = 8
