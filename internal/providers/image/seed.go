package image

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// deterministicSeed derives a positive DashScope seed from the request.
func deterministicSeed(values ...any) int {
	sum := sha256.Sum256([]byte(joinParts(values)))
	n := binary.BigEndian.Uint32(sum[:4])
	value := int(n % 2147483647)
	if value <= 0 {
		fallback := binary.BigEndian.Uint32(sum[4:8]) % 2147483647
		if fallback == 0 {
			fallback = 1
		}
		value = int(fallback)
	}
	return value
}

// deterministicHex returns 16 hex characters identifying values.
func deterministicHex(values ...any) string {
	sum := sha256.Sum256([]byte(joinParts(values)))
	return hex.EncodeToString(sum[:])[:16]
}

func joinParts(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "|")
}
