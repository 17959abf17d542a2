package underwrite

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/propsignal/backend/internal/domain"
)

// CanonicalHash returns the SHA-1 of the canonical JSON encoding of the
// assumptions: keys sorted lexicographically, unset optional fields
// omitted. Identical assumption objects hash identically regardless of
// how the caller ordered their fields.
//
// encoding/json sorts map keys, so marshalling through a map is the
// canonical form; the struct's omitempty tags drop unset optionals
// before the round trip.
func CanonicalHash(a domain.Assumptions) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal assumptions: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("canonicalize assumptions: %w", err)
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal canonical assumptions: %w", err)
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}
