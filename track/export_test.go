package track

// SetStrictOwnerChecks toggles the per-push writer-affinity check for tests.
func SetStrictOwnerChecks(on bool) (restore func()) {
	prev := strictOwnerChecks
	strictOwnerChecks = on
	return func() { strictOwnerChecks = prev }
}

// DataBits exposes the raw payload word for layout assertions.
func (d ActivityData) DataBits() uint64 { return d.bits }
