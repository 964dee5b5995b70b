// Package types defines the core identifier types shared across the
// go-nssa ledger: account addresses, program identifiers and hashes.
//
// All three are fixed 32-byte values. Text encoding is base58 to keep
// identifiers copy-pasteable in logs and CLI output.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Size constants for core types.
const (
	AddressSize   = 32
	ProgramIDSize = 32
	HashSize      = 32
)

var (
	// ErrInvalidAddress is returned when an address has invalid length.
	ErrInvalidAddress = errors.New("invalid address: must be 32 bytes")

	// ErrInvalidProgramID is returned when a program id has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// Address is a 32-byte account identifier.
//
// Addresses minted by wallets are derived from a signature public key
// as the Keccak-256 digest of its uncompressed point encoding (see
// DeriveAddress). Any other 32-byte value is treated as opaque.
type Address [AddressSize]byte

// DeriveAddress derives an address from the uncompressed point encoding
// of a signature public key: the full Keccak-256 digest of the encoding.
func DeriveAddress(uncompressedPoint []byte) Address {
	var a Address
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressedPoint)
	copy(a[:], h.Sum(nil))
	return a
}

// AddressFromBase58 parses a base58-encoded address.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	data, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], data)
	return a, nil
}

// AddressFromBytes creates an Address from a byte slice.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// String returns the base58-encoded representation.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromBase58(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ProgramID identifies a registered program.
//
// Built-in programs use identifiers derived from a fixed domain tag;
// deployed programs use the digest of their bytecode. Both go through
// DeriveProgramID so identifiers cannot collide with the zero value
// given to fresh accounts.
type ProgramID [ProgramIDSize]byte

// DeriveProgramID derives a program identifier as the SHA-256 digest of
// the given seed. For deployed programs the seed is the raw bytecode;
// for built-ins it is a fixed domain tag.
func DeriveProgramID(seed []byte) ProgramID {
	return ProgramID(sha256.Sum256(seed))
}

// ProgramIDFromBase58 parses a base58-encoded program id.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var p ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return p, ErrInvalidProgramID
	}
	copy(p[:], data)
	return p, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var p ProgramID
	if len(b) != ProgramIDSize {
		return p, ErrInvalidProgramID
	}
	copy(p[:], b)
	return p, nil
}

// String returns the base58-encoded representation.
func (p ProgramID) String() string {
	return base58.Encode(p[:])
}

// IsZero returns true if the program id is all zeros.
func (p ProgramID) IsZero() bool {
	return p == ProgramID{}
}

// Bytes returns the program id as a byte slice.
func (p ProgramID) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p ProgramID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// ComputeHash computes the SHA-256 hash of data.
func ComputeHash(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	data, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// HashFromBytes creates a Hash from a byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Hex returns the hex-encoded representation.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}
