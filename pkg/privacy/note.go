// Package privacy holds the commitment/nullifier primitives shared
// with the private execution path. The private path itself is proved
// by the external zero-knowledge VM; this package only supplies the
// note identifiers and the persistent double-spend set that the
// sibling path shares with the public store's replay discipline.
package privacy

import (
	"crypto/sha256"
	"errors"
)

// Size constants for privacy primitives.
const (
	CommitmentSize   = 32
	NullifierSize    = 32
	NullifierKeySize = 32
)

var (
	// ErrInvalidCommitment is returned when a commitment has invalid length.
	ErrInvalidCommitment = errors.New("invalid commitment: must be 32 bytes")

	// ErrInvalidNullifier is returned when a nullifier has invalid length.
	ErrInvalidNullifier = errors.New("invalid nullifier: must be 32 bytes")
)

// nullifierPKTag domain-separates the nullifier public key derivation
// from every other use of the hash.
var nullifierPKTag = []byte("/NSSA/v0.1/NullifierPK/")

// Commitment is an opaque 32-byte private note.
type Commitment [CommitmentSize]byte

// CommitmentFromBytes creates a Commitment from a byte slice.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != CommitmentSize {
		return c, ErrInvalidCommitment
	}
	copy(c[:], b)
	return c, nil
}

// Bytes returns the commitment as a byte slice.
func (c Commitment) Bytes() []byte {
	return c[:]
}

// NullifierKey is the secret key that spends notes. Revealing the
// derived Nullifier marks a note spent without linking it to the note.
type NullifierKey [NullifierKeySize]byte

// PublicKey derives the public counterpart of the nullifier key as a
// domain-separated one-way hash: SHA-256(tag || nsk).
func (k NullifierKey) PublicKey() NullifierPublicKey {
	h := sha256.New()
	h.Write(nullifierPKTag)
	h.Write(k[:])
	var pk NullifierPublicKey
	copy(pk[:], h.Sum(nil))
	return pk
}

// NullifierPublicKey is the public counterpart of a NullifierKey,
// embedded in notes so only the key holder can spend them.
type NullifierPublicKey [32]byte

// Nullifier marks a note as spent. A given nullifier must never be
// accepted twice; see SpentSet.
type Nullifier [NullifierSize]byte

// NewNullifier derives the nullifier of a commitment under a secret
// key: SHA-256(commitment || nsk).
func NewNullifier(c Commitment, nsk NullifierKey) Nullifier {
	h := sha256.New()
	h.Write(c[:])
	h.Write(nsk[:])
	var n Nullifier
	copy(n[:], h.Sum(nil))
	return n
}

// NullifierFromBytes creates a Nullifier from a byte slice.
func NullifierFromBytes(b []byte) (Nullifier, error) {
	var n Nullifier
	if len(b) != NullifierSize {
		return n, ErrInvalidNullifier
	}
	copy(n[:], b)
	return n, nil
}

// Bytes returns the nullifier as a byte slice.
func (n Nullifier) Bytes() []byte {
	return n[:]
}
