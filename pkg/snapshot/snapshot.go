// Package snapshot implements zstd-compressed export and import of the
// account store.
//
// Layout of the decompressed stream, all integers little-endian:
//
//	magic (8) || version (4) || count (8)
//	|| count * ( address (32) || account_len (4) || account )
//	|| state digest (32)
//
// The trailing digest is the store's Merkle state digest; import
// recomputes it over the decoded entries and refuses a mismatch before
// touching the destination store.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
)

var (
	// ErrBadMagic is returned when the stream does not start with the
	// snapshot magic.
	ErrBadMagic = errors.New("not a snapshot file")

	// ErrBadVersion is returned for unsupported snapshot versions.
	ErrBadVersion = errors.New("unsupported snapshot version")

	// ErrDigestMismatch is returned when the loaded entries do not hash
	// to the digest recorded in the snapshot.
	ErrDigestMismatch = errors.New("snapshot digest mismatch")

	// ErrTruncated is returned when the stream ends early.
	ErrTruncated = errors.New("truncated snapshot")

	// ErrStoreNotEmpty is returned when importing into a store that
	// already holds accounts.
	ErrStoreNotEmpty = errors.New("destination store not empty")
)

var magic = [8]byte{'N', 'S', 'S', 'A', 'S', 'N', 'A', 'P'}

// Version is the current snapshot format version.
const Version uint32 = 1

// Export writes the full store to path.
func Export(store accounts.Store, path string) error {
	digest, err := accounts.ComputeStateDigest(store)
	if err != nil {
		return fmt.Errorf("compute digest: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	count, err := store.Len()
	if err != nil {
		enc.Close()
		return err
	}

	header := make([]byte, 8+4+8)
	copy(header, magic[:])
	binary.LittleEndian.PutUint32(header[8:], Version)
	binary.LittleEndian.PutUint64(header[12:], count)
	if _, err := enc.Write(header); err != nil {
		enc.Close()
		return fmt.Errorf("write header: %w", err)
	}

	err = store.Iterate(func(addr types.Address, acct accounts.Account) error {
		record := acct.Serialize()
		buf := make([]byte, 0, types.AddressSize+4+len(record))
		buf = append(buf, addr[:]...)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(record)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, record...)
		_, err := enc.Write(buf)
		return err
	})
	if err != nil {
		enc.Close()
		return fmt.Errorf("write entries: %w", err)
	}

	if _, err := enc.Write(digest[:]); err != nil {
		enc.Close()
		return fmt.Errorf("write digest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return f.Sync()
}

// Import loads a snapshot from path into store and returns the verified
// state digest. The store must be empty: the recorded digest commits to
// exactly the snapshot's entries, and nothing is written until the
// digest has been verified over the decoded entries.
func Import(store accounts.Store, path string) (types.Hash, error) {
	count, err := store.Len()
	if err != nil {
		return types.Hash{}, err
	}
	if count != 0 {
		return types.Hash{}, fmt.Errorf("%w: %d accounts present", ErrStoreNotEmpty, count)
	}
	f, err := os.Open(path)
	if err != nil {
		return types.Hash{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return types.Hash{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	header := make([]byte, 8+4+8)
	if _, err := io.ReadFull(dec, header); err != nil {
		return types.Hash{}, fmt.Errorf("%w: header", ErrTruncated)
	}
	if [8]byte(header[:8]) != magic {
		return types.Hash{}, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(header[8:]); v != Version {
		return types.Hash{}, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	entryCount := binary.LittleEndian.Uint64(header[12:])

	entries := make([]accounts.Entry, 0, entryCount)
	entryHeader := make([]byte, types.AddressSize+4)
	for i := uint64(0); i < entryCount; i++ {
		if _, err := io.ReadFull(dec, entryHeader); err != nil {
			return types.Hash{}, fmt.Errorf("%w: entry %d", ErrTruncated, i)
		}
		var addr types.Address
		copy(addr[:], entryHeader[:types.AddressSize])
		recordLen := binary.LittleEndian.Uint32(entryHeader[types.AddressSize:])

		record := make([]byte, recordLen)
		if _, err := io.ReadFull(dec, record); err != nil {
			return types.Hash{}, fmt.Errorf("%w: entry %d body", ErrTruncated, i)
		}
		acct, err := accounts.DeserializeAccount(record)
		if err != nil {
			return types.Hash{}, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, accounts.Entry{Address: addr, Account: acct})
	}

	var want types.Hash
	if _, err := io.ReadFull(dec, want[:]); err != nil {
		return types.Hash{}, fmt.Errorf("%w: digest", ErrTruncated)
	}

	// Verify before writing: a mismatching snapshot must leave the
	// store untouched.
	if got := entriesDigest(entries); got != want {
		return types.Hash{}, ErrDigestMismatch
	}

	if err := store.ApplyBatch(entries); err != nil {
		return types.Hash{}, fmt.Errorf("load entries: %w", err)
	}
	return want, nil
}

// entriesDigest computes the Merkle state digest of a decoded entry
// list, matching accounts.ComputeStateDigest over a store holding
// exactly those entries.
func entriesDigest(entries []accounts.Entry) types.Hash {
	sorted := make([]accounts.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address[:], sorted[j].Address[:]) < 0
	})

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		hashes[i] = accounts.ComputeAccountDigest(e.Address, e.Account)
	}
	return accounts.ComputeMerkleRoot(hashes)
}
