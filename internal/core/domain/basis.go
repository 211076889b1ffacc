package domain

// BasisState is the lifecycle state of a basis slot.
type BasisState int32

const (
	// BasisUnmounted means no key or table is held for the slot.
	BasisUnmounted BasisState = iota
	// BasisMounting means key derivation and table authentication are
	// in progress.
	BasisMounting
	// BasisMounted means the basis key and decrypted table are cached
	// in volatile memory and the basis is visible to the dictionary.
	BasisMounted
	// BasisUnmounting means pending transactions are flushing and key
	// material is being zeroized.
	BasisUnmounting
)

// String returns the state name.
func (s BasisState) String() string {
	switch s {
	case BasisUnmounted:
		return "unmounted"
	case BasisMounting:
		return "mounting"
	case BasisMounted:
		return "mounted"
	case BasisUnmounting:
		return "unmounting"
	default:
		return "unknown"
	}
}

// MaxEntryName is the longest dictionary entry name, in bytes, that fits
// a fixed-stride key descriptor.
const MaxEntryName = 111
