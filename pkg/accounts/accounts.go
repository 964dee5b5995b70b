// Package accounts implements the account store for the go-nssa ledger.
//
// The store maps 32-byte addresses to account records. Accounts are
// created implicitly with zero values on first reference and are never
// explicitly deleted; the only way a stored account changes is a
// successful state transition applied as one atomic batch.
//
// Two implementations are provided:
//   - MemoryStore: map-backed, for tests and candidate validation
//   - BadgerStore: BadgerDB-backed persistent storage
package accounts

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
)

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("account store closed")

	// ErrInvalidData is returned when serialized account data is malformed.
	ErrInvalidData = errors.New("invalid account data")

	// ErrValueTooLarge is returned when a balance or nonce exceeds 128 bits.
	ErrValueTooLarge = errors.New("value exceeds 128 bits")
)

// MaxAccountDataSize bounds the opaque data field of an account.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account is a single ledger entry.
//
// Balance and Nonce are unsigned 128-bit values carried in uint256.Int;
// the upper two limbs must stay zero (enforced on decode and on every
// store write). The zero Account is the implicit default for addresses
// that have never been written.
type Account struct {
	// Balance is the account balance.
	Balance uint256.Int

	// Nonce is the strictly-advancing replay protection counter.
	// It increments by exactly 1 each time the account's owner signs
	// an applied transaction.
	Nonce uint256.Int

	// ProgramOwner is the program that manages this account's data.
	ProgramOwner types.ProgramID

	// Data is opaque program-managed state.
	Data []byte
}

// Clone creates a deep copy of the account.
func (a Account) Clone() Account {
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return Account{
		Balance:      a.Balance,
		Nonce:        a.Nonce,
		ProgramOwner: a.ProgramOwner,
		Data:         dataCopy,
	}
}

// IsZero returns true if the account equals the implicit default.
func (a Account) IsZero() bool {
	return a.Balance.IsZero() && a.Nonce.IsZero() &&
		a.ProgramOwner.IsZero() && len(a.Data) == 0
}

// Size returns the serialized size of the account in bytes.
func (a Account) Size() int {
	// balance (16) + nonce (16) + owner (32) + data_len (4) + data
	return 16 + 16 + 32 + 4 + len(a.Data)
}

// Serialize encodes the account for storage.
// Format: balance (16, LE) + nonce (16, LE) + owner (32) + data_len (4, LE) + data.
func (a Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	putU128(buf[offset:], &a.Balance)
	offset += 16

	putU128(buf[offset:], &a.Nonce)
	offset += 16

	copy(buf[offset:], a.ProgramOwner[:])
	offset += 32

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(a.Data)))
	offset += 4

	copy(buf[offset:], a.Data)

	return buf
}

// DeserializeAccount decodes an account from its storage encoding.
func DeserializeAccount(data []byte) (Account, error) {
	const header = 16 + 16 + 32 + 4
	if len(data) < header {
		return Account{}, ErrInvalidData
	}

	offset := 0

	balance := readU128(data[offset:])
	offset += 16

	nonce := readU128(data[offset:])
	offset += 16

	var owner types.ProgramID
	copy(owner[:], data[offset:offset+32])
	offset += 32

	dataLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if dataLen > MaxAccountDataSize {
		return Account{}, ErrInvalidData
	}
	if uint32(len(data)-offset) != dataLen {
		return Account{}, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:])

	return Account{
		Balance:      balance,
		Nonce:        nonce,
		ProgramOwner: owner,
		Data:         accountData,
	}, nil
}

// AccountWithMetadata pairs an account snapshot with its authorization
// flag for one transition. It is built per-call and never persisted.
type AccountWithMetadata struct {
	Account Account

	// IsAuthorized is true when the account's address was proven by a
	// valid signature at the correct nonce in the current transaction.
	IsAuthorized bool
}

// Entry pairs an address with an account for batch writes and iteration.
type Entry struct {
	Address types.Address
	Account Account
}

// Store is the account store interface the state transition engine
// requires. Reads have get-or-default semantics: an address that has
// never been written yields the zero Account.
//
// Implementations must expose no partial writes: ApplyBatch persists
// either every entry or none.
type Store interface {
	// Account returns the account at addr, or the zero Account if the
	// address has never been written.
	Account(addr types.Address) (Account, error)

	// SetAccount stores an account, replacing any previous record.
	SetAccount(addr types.Address, acct Account) error

	// NonceOf returns the current nonce of the account at addr.
	NonceOf(addr types.Address) (uint256.Int, error)

	// ApplyBatch atomically replaces the records for every entry.
	ApplyBatch(entries []Entry) error

	// Iterate visits every stored account. Returning an error from fn
	// stops iteration and propagates the error.
	Iterate(fn func(addr types.Address, acct Account) error) error

	// Len returns the number of stored accounts.
	Len() (uint64, error)

	// Close releases underlying resources.
	Close() error
}

// FitsU128 reports whether v fits in 128 bits.
func FitsU128(v *uint256.Int) bool {
	return v[2] == 0 && v[3] == 0
}

// checkWidth rejects balances or nonces wider than 128 bits. The
// storage codec carries only the low two limbs, so an oversized value
// must never reach it: truncating would silently change the ledger.
func (a *Account) checkWidth() error {
	if !FitsU128(&a.Balance) || !FitsU128(&a.Nonce) {
		return ErrValueTooLarge
	}
	return nil
}

// putU128 writes the low 128 bits of v little-endian into buf.
func putU128(buf []byte, v *uint256.Int) {
	binary.LittleEndian.PutUint64(buf[0:8], v[0])
	binary.LittleEndian.PutUint64(buf[8:16], v[1])
}

// readU128 reads a little-endian 128-bit value from buf.
func readU128(buf []byte) uint256.Int {
	return uint256.Int{
		binary.LittleEndian.Uint64(buf[0:8]),
		binary.LittleEndian.Uint64(buf[8:16]),
		0,
		0,
	}
}

// AppendU128 appends the 16-byte little-endian encoding of v to dst.
func AppendU128(dst []byte, v *uint256.Int) []byte {
	var tmp [16]byte
	putU128(tmp[:], v)
	return append(dst, tmp[:]...)
}

// ReadU128 decodes a 16-byte little-endian 128-bit value.
func ReadU128(buf []byte) (uint256.Int, error) {
	if len(buf) < 16 {
		return uint256.Int{}, ErrInvalidData
	}
	return readU128(buf), nil
}

// MemoryStore is a map-backed Store for tests and read-only candidate
// validation against a snapshot.
type MemoryStore struct {
	accounts map[types.Address]Account
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[types.Address]Account),
	}
}

// Account returns the stored account or the zero default.
func (m *MemoryStore) Account(addr types.Address) (Account, error) {
	if m.closed {
		return Account{}, ErrClosed
	}
	acct, ok := m.accounts[addr]
	if !ok {
		return Account{}, nil
	}
	return acct.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryStore) SetAccount(addr types.Address, acct Account) error {
	if m.closed {
		return ErrClosed
	}
	if err := acct.checkWidth(); err != nil {
		return err
	}
	m.accounts[addr] = acct.Clone()
	return nil
}

// NonceOf returns the current nonce at addr.
func (m *MemoryStore) NonceOf(addr types.Address) (uint256.Int, error) {
	acct, err := m.Account(addr)
	if err != nil {
		return uint256.Int{}, err
	}
	return acct.Nonce, nil
}

// ApplyBatch replaces the records for every entry.
func (m *MemoryStore) ApplyBatch(entries []Entry) error {
	if m.closed {
		return ErrClosed
	}
	// Validate every entry before mutating anything.
	for i := range entries {
		if err := entries[i].Account.checkWidth(); err != nil {
			return err
		}
	}
	for _, e := range entries {
		m.accounts[e.Address] = e.Account.Clone()
	}
	return nil
}

// Iterate visits every stored account.
func (m *MemoryStore) Iterate(fn func(addr types.Address, acct Account) error) error {
	if m.closed {
		return ErrClosed
	}
	for addr, acct := range m.accounts {
		if err := fn(addr, acct.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored accounts.
func (m *MemoryStore) Len() (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}

// Clone creates an independent copy of the store contents. Used by
// tests to compare pre- and post-transition state.
func (m *MemoryStore) Clone() *MemoryStore {
	clone := NewMemoryStore()
	for addr, acct := range m.accounts {
		clone.accounts[addr] = acct.Clone()
	}
	return clone
}

// Verify that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
