package dispatch

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

const idempotencyPrefix = "idem_"

// IdempotencyKey derives a stable key from the destination and the logical event id
func IdempotencyKey(destination, eventID string) string {
	sum := sha256.Sum256([]byte(destination + "\n" + eventID))
	return idempotencyPrefix + hex.EncodeToString(sum[:])
}

func resolveKey(destination string, o options) string {
	switch {
	case o.idempotencyKey != "":
		return o.idempotencyKey
	case o.eventID != "":
		return IdempotencyKey(destination, o.eventID)
	default:
		return idempotencyPrefix + uuid.NewString()
	}
}
