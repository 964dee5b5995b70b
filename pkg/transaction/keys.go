// Package transaction defines the immutable transaction data of the
// go-nssa ledger: the signed Message, the WitnessSet authorizing it,
// the PublicTransaction combining the two, and the program-deployment
// wire codec.
package transaction

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/sha3"

	"github.com/nssa-protocol/go-nssa/internal/types"
)

// Size constants for signature material.
const (
	// PublicKeySize is the compressed SEC1 encoding of a secp256k1 point.
	PublicKeySize = 33

	// SignatureSize is a BIP-340 Schnorr signature.
	SignatureSize = 64

	// PrivateKeySize is a secp256k1 scalar.
	PrivateKeySize = 32
)

var (
	// ErrInvalidPublicKey is returned when a public key fails to parse.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature is returned when a signature has invalid length
	// or encoding.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPrivateKey is returned when a private key has invalid length.
	ErrInvalidPrivateKey = errors.New("invalid private key: must be 32 bytes")
)

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// GeneratePrivateKey creates a new random private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a private key from a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	if key.Key.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return &PrivateKey{key: key}, nil
}

// PublicKey returns the corresponding public key.
func (k *PrivateKey) PublicKey() PublicKey {
	var p PublicKey
	copy(p[:], k.key.PubKey().SerializeCompressed())
	return p
}

// Bytes returns the 32-byte scalar encoding.
func (k *PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

// signDigest produces a BIP-340 Schnorr signature over a 32-byte digest.
func (k *PrivateKey) signDigest(digest []byte) (Signature, error) {
	var s Signature
	sig, err := schnorr.Sign(k.key, digest)
	if err != nil {
		return s, fmt.Errorf("schnorr sign: %w", err)
	}
	copy(s[:], sig.Serialize())
	return s, nil
}

// PublicKey is a compressed SEC1-encoded secp256k1 public key.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes creates a PublicKey from a byte slice, validating
// that it encodes a point on the curve.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var p PublicKey
	if len(b) != PublicKeySize {
		return p, ErrInvalidPublicKey
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	copy(p[:], b)
	return p, nil
}

// Address derives the account address owned by this key: the Keccak-256
// digest of the key's uncompressed point encoding.
func (p PublicKey) Address() (types.Address, error) {
	key, err := btcec.ParsePubKey(p[:])
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return types.DeriveAddress(key.SerializeUncompressed()), nil
}

// Bytes returns the compressed encoding.
func (p PublicKey) Bytes() []byte {
	return p[:]
}

// Signature is a 64-byte BIP-340 Schnorr signature.
type Signature [SignatureSize]byte

// SignatureFromBytes creates a Signature from a byte slice.
func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, ErrInvalidSignature
	}
	copy(s[:], b)
	return s, nil
}

// IsValidFor reports whether the signature verifies over the message's
// canonical digest with the given public key.
func (s Signature) IsValidFor(msg *Message, pub PublicKey) bool {
	sig, err := schnorr.ParseSignature(s[:])
	if err != nil {
		return false
	}
	key, err := btcec.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	digest := msg.SigningDigest()
	return sig.Verify(digest[:], key)
}

// Bytes returns the signature as a byte slice.
func (s Signature) Bytes() []byte {
	return s[:]
}

// keccak256 computes the Keccak-256 digest of data.
func keccak256(data []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return out
}
