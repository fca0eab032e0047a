//go:build !activitycallstack

package format

// CallStackSlots is the number of program-counter slots recorded per
// activity. Zero in default builds; the record then carries no call-stack
// block at all. Builds with the activitycallstack tag record the pushing
// call stack at a fixed cost per push.
const CallStackSlots = 0
