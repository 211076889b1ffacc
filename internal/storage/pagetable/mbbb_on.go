//go:build !pvnombbb

package pagetable

// makeBeforeBreak selects the crash-safe commit protocol. The pvnombbb
// build tag switches to in-place table updates: lower write
// amplification, but a corruption window while the table is rewritten.
// This is a deployment decision baked into the on-flash update
// behavior, not a runtime knob.
const makeBeforeBreak = true
