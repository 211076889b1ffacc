//go:build pvnombbb

package pagetable

// In-place root updates: the commit erases and reprograms the current
// anchor slot instead of alternating to the other one. Cheaper on
// anchor wear, but a power loss between the erase and the program
// leaves no authenticating root generation.
const makeBeforeBreak = false
