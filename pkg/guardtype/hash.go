// Package guardtype holds the data model shared by every component of the
// coordinator: chain-agnostic hashes, service-chain requests and bids, the
// per-request response aggregate, and the in-memory state shared between the
// Listener and the Challenge Engine.
package guardtype

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// Hash is an opaque 32-byte identifier used for transaction ids on either
// chain. It compares and orders by byte value and serializes as lowercase
// hex, matching how every hash is stored by the Store (see pkg/store).
type Hash [HashSize]byte

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so Hash round-trips through
// both YAML config and the JSON challenge-proof wire format without a
// bespoke marshaler at every call site.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Equals reports whether h and o identify the same hash.
func (h Hash) Equals(o Hash) bool {
	return h == o
}

// Compare orders hashes by byte value; it returns -1, 0 or 1.
func (h Hash) Compare(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("guardtype: hash must be %d hex chars, got %d", HashSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("guardtype: invalid hash hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}
