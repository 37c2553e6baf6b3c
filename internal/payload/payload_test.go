package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecordGeneratesFreshIDs(t *testing.T) {
	a := NewRecord([]byte("same body"))
	b := NewRecord([]byte("same body"))

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Key(), b.Key(), "distinct ids must yield distinct keys")
}

func TestKeyIsDeterministic(t *testing.T) {
	rec := Record{ID: "fixed-id", Body: []byte("payload bytes")}

	assert.Equal(t, rec.Key(), rec.Key())
	assert.Len(t, rec.Key(), 64, "hex-encoded 256-bit hash")
}

func TestKeyDependsOnBody(t *testing.T) {
	a := Record{ID: "fixed-id", Body: []byte("one")}
	b := Record{ID: "fixed-id", Body: []byte("two")}

	assert.NotEqual(t, a.Key(), b.Key())
}
