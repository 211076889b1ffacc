// Package flash abstracts the raw NOR flash medium beneath the storage
// engine: page reads, program-only page writes, block erases, and
// geometry discovery.
//
// Two implementations are provided:
//   - MemMedium: an in-memory simulation with NOR program semantics and
//     fault injection, used to exercise power-loss scenarios in tests.
//   - FileMedium: a file-backed medium for running the engine against a
//     disk image.
//
// The medium serializes program and erase internally; the hardware
// cannot execute them in parallel and neither do the simulations.
package flash
