package accounts

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount is the prefix for account records.
	// Key format: prefixAccount + address (32 bytes)
	prefixAccount = []byte{0x01}
)

// BadgerConfig contains configuration for the Badger-backed store.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Setting to false improves performance but risks data loss on crash.
	SyncWrites bool

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		InMemory:   false,
		SyncWrites: true,
		Logger:     nil,
	}
}

// BadgerStore is a BadgerDB-backed implementation of Store.
//
// Records are keyed by a one-byte prefix plus the 32-byte address and
// hold the account's binary encoding. ApplyBatch uses a Badger write
// batch so a transition's diff lands atomically.
type BadgerStore struct {
	db *badger.DB

	// count caches the number of stored accounts.
	count atomic.Uint64

	// mu serializes writers.
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerStore opens a Badger-backed account store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	return s, nil
}

// loadCount scans the account keyspace to initialize the cached count.
func (s *BadgerStore) loadCount() error {
	var n uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.count.Store(n)
	return nil
}

// accountKey returns the Badger key for an address.
func accountKey(addr types.Address) []byte {
	key := make([]byte, 1+types.AddressSize)
	key[0] = prefixAccount[0]
	copy(key[1:], addr[:])
	return key
}

// Account returns the stored account or the zero default.
func (s *BadgerStore) Account(addr types.Address) (Account, error) {
	if s.closed.Load() {
		return Account{}, ErrClosed
	}

	var acct Account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			acct = decoded
			return nil
		})
	})
	if err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", addr.String(), err)
	}
	return acct, nil
}

// SetAccount stores an account, replacing any previous record.
func (s *BadgerStore) SetAccount(addr types.Address, acct Account) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := acct.checkWidth(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.has(addr)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(addr), acct.Serialize())
	})
	if err != nil {
		return fmt.Errorf("set account %s: %w", addr.String(), err)
	}

	if !exists {
		s.count.Add(1)
	}
	return nil
}

// NonceOf returns the current nonce at addr.
func (s *BadgerStore) NonceOf(addr types.Address) (uint256.Int, error) {
	acct, err := s.Account(addr)
	if err != nil {
		return uint256.Int{}, err
	}
	return acct.Nonce, nil
}

// ApplyBatch atomically replaces the records for every entry.
func (s *BadgerStore) ApplyBatch(entries []Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}

	for i := range entries {
		if err := entries[i].Account.checkWidth(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Count each new address once, even when it repeats in the batch.
	var added uint64
	seen := make(map[types.Address]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Address]; dup {
			continue
		}
		seen[e.Address] = struct{}{}
		exists, err := s.has(e.Address)
		if err != nil {
			return err
		}
		if !exists {
			added++
		}
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, e := range entries {
		if err := batch.Set(accountKey(e.Address), e.Account.Serialize()); err != nil {
			return fmt.Errorf("batch set %s: %w", e.Address.String(), err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	s.count.Add(added)
	return nil
}

// has checks whether an account record exists.
func (s *BadgerStore) has(addr types.Address) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Iterate visits every stored account in address order.
func (s *BadgerStore) Iterate(fn func(addr types.Address, acct Account) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.AddressSize {
				continue
			}
			var addr types.Address
			copy(addr[:], key[1:])

			err := item.Value(func(val []byte) error {
				acct, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(addr, acct)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of stored accounts.
func (s *BadgerStore) Len() (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.count.Load(), nil
}

// Sync flushes pending writes to disk.
func (s *BadgerStore) Sync() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close closes the store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

// Verify that BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)
