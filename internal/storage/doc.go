// Package storage provides the PageVault engine.
//
// The engine combines the raw flash medium, the page cipher, the free
// space manager, the basis registry, and the per-basis dictionaries
// into one facade. All durable state lives on the medium; everything
// the engine caches in memory is either public (the plaintext header)
// or keyed (mounted tables), and keyed state is zeroized on unmount
// and on Close.
package storage
