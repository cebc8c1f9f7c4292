package interfaces

import "context"

// KMSAdapter wraps and unwraps per-record data encryption keys (DEKs) under a
// master key held by the backend. Both directions operate on opaque byte
// buffers; the wrapped format is backend-specific.
//
// KeyID identifies the master key in use. Rows record the KeyID they were
// wrapped under so a reveal against a rotated or different master key can
// fail closed instead of producing garbage.
type KMSAdapter interface {
	KeyID() string
	Wrap(ctx context.Context, dek []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrappedDEK []byte) ([]byte, error)
}
