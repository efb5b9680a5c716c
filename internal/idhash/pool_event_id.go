package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePoolEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(tx_signature|program|pair_index)
// Returns hex-encoded hash (64 characters).
func ComputePoolEventID(txSignature, program string, pairIndex int) string {
	data := fmt.Sprintf("%s|%s|%d", txSignature, program, pairIndex)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
