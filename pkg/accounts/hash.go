package accounts

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/nssa-protocol/go-nssa/internal/types"
)

// State digest computation.
//
// The digest commits to the full account store so two nodes can cheaply
// compare ledgers and snapshots can be integrity-checked. Per-account
// hashes are combined into a binary Merkle root over entries sorted by
// address.
//
// Tree structure (BLAKE3 throughout):
//   - Leaf: blake3(0x00 || account_hash)
//   - Node: blake3(0x01 || left || right)
//   - An odd node at the end of a level is paired with the zero hash.

// ComputeAccountDigest computes the hash of a single account record:
// blake3(balance || nonce || owner || data_len || data || address),
// integers little-endian.
func ComputeAccountDigest(addr types.Address, acct Account) types.Hash {
	buf := make([]byte, 0, acct.Size()+types.AddressSize)
	buf = AppendU128(buf, &acct.Balance)
	buf = AppendU128(buf, &acct.Nonce)
	buf = append(buf, acct.ProgramOwner[:]...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(acct.Data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, acct.Data...)
	buf = append(buf, addr[:]...)

	return types.Hash(blake3.Sum256(buf))
}

// ComputeStateDigest computes the digest of the entire store.
func ComputeStateDigest(store Store) (types.Hash, error) {
	var entries []Entry
	err := store.Iterate(func(addr types.Address, acct Account) error {
		entries = append(entries, Entry{Address: addr, Account: acct})
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Address[:], entries[j].Address[:]) < 0
	})

	hashes := make([]types.Hash, len(entries))
	for i, e := range entries {
		hashes[i] = ComputeAccountDigest(e.Address, e.Account)
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the binary Merkle root of a list of hashes.
// The root of the empty list is the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(left, right)
		}
		level = next
	}
	return level[0]
}

func leafHash(h types.Hash) types.Hash {
	buf := make([]byte, 1+types.HashSize)
	buf[0] = 0x00
	copy(buf[1:], h[:])
	return types.Hash(blake3.Sum256(buf))
}

func nodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+2*types.HashSize)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return types.Hash(blake3.Sum256(buf))
}
