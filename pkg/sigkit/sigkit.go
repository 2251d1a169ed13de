// Package sigkit wraps the secp256k1 primitives used to verify guardnode
// challenge-proof signatures: a bid's registered public key signs the
// client-chain challenge hash with a DER-encoded ECDSA signature, exactly as
// a chain transaction signature would be constructed, so the verification
// path reuses the same curve and encoding the client/service chain adapters
// already depend on.
package sigkit

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// PublicKey is a compressed secp256k1 public key, the verification key
// registered for a bid's challenge responses.
type PublicKey struct {
	key *secp256k1.PublicKey
	raw [PublicKeySize]byte
}

// ParsePublicKey decodes a compressed secp256k1 public key from its 33-byte
// (66 hex char) wire form.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("sigkit: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return pk, fmt.Errorf("sigkit: invalid public key: %w", err)
	}
	pk.key = key
	copy(pk.raw[:], b)
	return pk, nil
}

// ParsePublicKeyHex decodes a 66-character hex string into a PublicKey.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("sigkit: invalid public key hex: %w", err)
	}
	return ParsePublicKey(b)
}

// Bytes returns the compressed wire form of the key.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, p.raw[:])
	return out
}

// String returns the lowercase hex encoding of the compressed key.
func (p PublicKey) String() string {
	return hex.EncodeToString(p.raw[:])
}

// Equals reports whether p and o are the same key.
func (p PublicKey) Equals(o PublicKey) bool {
	return bytes.Equal(p.raw[:], o.raw[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PublicKey) UnmarshalText(text []byte) error {
	decoded, err := ParsePublicKeyHex(string(text))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// VerifyDER verifies a DER-encoded ECDSA signature over hash, returning
// false (never an error) on any malformed input — callers treat a bad
// signature the same as a mismatched one, per the Listener's "drop on
// failure" policy.
func (p PublicKey) VerifyDER(sigDER, hash []byte) bool {
	if p.key == nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false
	}
	return sig.Verify(hash, p.key)
}
