// Package layout defines the on-flash record formats of a PageVault
// medium: the plaintext medium header, the encrypted basis root record,
// the page table entry encoding, and the free-pool record.
//
// Everything on the medium except the header page is either ciphertext
// or random filler; the encoders here produce the plaintext record
// bodies that the storage layers seal before programming. Formats are
// fixed-stride so a record is always decrypted or encrypted as an
// atomic unit.
package layout
