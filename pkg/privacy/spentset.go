package privacy

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNullifierSpent is returned when a nullifier is inserted twice.
	ErrNullifierSpent = errors.New("nullifier already spent")

	// ErrSetClosed is returned when operating on a closed spent set.
	ErrSetClosed = errors.New("spent set closed")
)

// bucketNullifiers stores spent nullifiers keyed by their 32 bytes.
var bucketNullifiers = []byte("nullifiers")

// SpentSet is the persistent set of spent nullifiers. Insert is
// first-wins: the second insertion of the same nullifier fails with
// ErrNullifierSpent, which is the ledger's double-spend discipline for
// the private path.
type SpentSet struct {
	db *bolt.DB
}

// OpenSpentSet opens (or creates) the spent set at path.
func OpenSpentSet(path string) (*SpentSet, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open spent set: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNullifiers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &SpentSet{db: db}, nil
}

// Insert records a nullifier as spent. It fails with ErrNullifierSpent
// if the nullifier was already recorded.
func (s *SpentSet) Insert(n Nullifier) error {
	if s.db == nil {
		return ErrSetClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketNullifiers)
		if bucket.Get(n[:]) != nil {
			return fmt.Errorf("%w: %x", ErrNullifierSpent, n[:8])
		}
		return bucket.Put(n[:], []byte{1})
	})
}

// Contains reports whether a nullifier has been spent.
func (s *SpentSet) Contains(n Nullifier) (bool, error) {
	if s.db == nil {
		return false, ErrSetClosed
	}
	var spent bool
	err := s.db.View(func(tx *bolt.Tx) error {
		spent = tx.Bucket(bucketNullifiers).Get(n[:]) != nil
		return nil
	})
	return spent, err
}

// Len returns the number of spent nullifiers.
func (s *SpentSet) Len() (uint64, error) {
	if s.db == nil {
		return 0, ErrSetClosed
	}
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(bucketNullifiers).Stats().KeyN)
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (s *SpentSet) Close() error {
	if s.db == nil {
		return ErrSetClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}
