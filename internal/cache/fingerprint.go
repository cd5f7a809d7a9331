package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint hashes the canonical JSON encoding of payload and prefixes it
// with the model name. payload must encode deterministically: structs with
// fixed field order and maps (which encoding/json sorts by key).
func Fingerprint(model string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cache: failed to encode fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return model + "_" + hex.EncodeToString(sum[:]), nil
}
