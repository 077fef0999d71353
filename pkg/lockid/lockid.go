package lockid

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ForFile derives the 64-bit advisory-lock key guarding allocation runs for
// one payment file. The key is stable across processes for the same file id.
func ForFile(fileID uuid.UUID) int64 {
	return int64(xxhash.Sum64String("payment-file:" + fileID.String()))
}
