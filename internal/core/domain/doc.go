// Package domain defines the core domain models for PageVault: physical
// and logical page addressing, basis lifecycle states, and the structured
// error taxonomy shared by every storage layer.
package domain
