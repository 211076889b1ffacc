package localserver

import "encoding/json"

// Operation names accepted on the management socket.
const (
	OpSystemStatus = "system.status"
	OpBasisCreate  = "basis.create"
	OpBasisMount   = "basis.mount"
	OpBasisUnmount = "basis.unmount"
	OpBasisList    = "basis.list"
	OpKVList       = "kv.list"
	OpKVGet        = "kv.get"
	OpKVPut        = "kv.put"
	OpKVDelete     = "kv.delete"
	OpKVSize       = "kv.size"
	OpFreeEstimate = "free.estimate"
)

// Request is one management request. ID is assigned by the server
// when the client omits it.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	ID     string     `json:"id"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable error code and a message.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// BasisCreateParams names a new basis and its password.
type BasisCreateParams struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// BasisMountParams carries only a password: the basis it unlocks, if
// any, is discovered by scanning the anchor area.
type BasisMountParams struct {
	Password string `json:"password"`
}

// BasisNameParams names a mounted basis.
type BasisNameParams struct {
	Name string `json:"name"`
}

// KVKeyParams addresses one entry in a mounted basis.
type KVKeyParams struct {
	Basis string `json:"basis"`
	Key   string `json:"key"`
}

// KVPutParams carries an entry write. Value is base64 in the JSON
// encoding.
type KVPutParams struct {
	Basis string `json:"basis"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// StatusResult reports daemon status.
type StatusResult struct {
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	MountedBases  []string `json:"mounted_bases"`
	FreePages     uint64   `json:"free_pages"`
}

// MountResult reports the basis a password unlocked.
type MountResult struct {
	Name string `json:"name"`
}

// ListResult carries a name listing.
type ListResult struct {
	Names []string `json:"names"`
}

// ValueResult carries an entry's contents.
type ValueResult struct {
	Value []byte `json:"value"`
}

// SizeResult carries an entry's length in bytes.
type SizeResult struct {
	Size uint64 `json:"size"`
}

// FreeResult carries the obfuscated free page estimate.
type FreeResult struct {
	Pages uint64 `json:"pages"`
}
