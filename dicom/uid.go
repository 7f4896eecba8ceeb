package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// uuidRoot is the UID root for UUID derived identifiers (PS3.5 B.2).
const uuidRoot = "2.25."

// GenerateUID returns a new globally unique UID built from a random UUID.
func GenerateUID() string {
	id := uuid.New()
	return uuidRoot + new(big.Int).SetBytes(id[:]).String()
}
