// Package payload defines the transient key/value hand-off contract between
// the pool and its workers. The pool writes a payload record under a
// content-derived key, transmits the key in the handshake, and removes the
// record once the consuming worker terminates. The core never reads back; the
// worker process does.
package payload

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

//go:generate mockgen -destination=../pool/mocks/mock_store.go -package=mocks github.com/mattjoyce/warmpool/internal/payload Store

// Record is one serialized job body plus its fresh identifier.
type Record struct {
	ID   string
	Body []byte
}

// NewRecord wraps body with a freshly generated identifier.
func NewRecord(body []byte) Record {
	return Record{
		ID:   uuid.NewString(),
		Body: body,
	}
}

// Key returns the store key for the record: the hex-encoded BLAKE3 hash of
// id+body. Deterministic for a given record, unique across records because
// the id is.
func (r Record) Key() string {
	data := make([]byte, 0, len(r.ID)+len(r.Body))
	data = append(data, r.ID...)
	data = append(data, r.Body...)
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Store is the external key/value store contract. Set must complete before
// the corresponding handshake key is transmitted; Remove is attempted after
// the consuming worker reaches its terminal state and must be idempotent when
// the key is already absent. No stronger consistency is assumed.
type Store interface {
	Set(ctx context.Context, key string, rec Record) error
	Remove(ctx context.Context, key string) error
}
