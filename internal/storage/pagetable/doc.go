// Package pagetable implements the encrypted virtual-to-physical page
// map of a basis and its crash-safe update protocol.
//
// The table of a mounted basis is cached decrypted in memory. Mutations
// are batched into transactions committed make-before-break: new data
// and table pages are written to freshly allocated physical pages
// first, and only then is the basis root record advanced by programming
// the alternate anchor slot with a higher generation. Power loss at any
// byte before the root program leaves the previous generation fully
// intact; power loss during the root program leaves a slot that fails
// authentication, which load-time recovery skips in favor of the
// surviving one.
//
// Nonce discipline: every sealed data or table page consumes a write
// generation below a ceiling that was persisted in the root before the
// generation was ever used. An interrupted transaction can therefore
// burn generations but never cause one to be reused under the basis
// key. Anchor slots themselves carry random in-page nonces (see
// slotio).
package pagetable
