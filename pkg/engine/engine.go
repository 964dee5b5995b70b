// Package engine implements the public state transition of the go-nssa
// ledger: the deterministic function that validates one signed
// transaction against the account store and, if and only if every check
// passes, atomically produces the next store.
//
// A call either applies fully or rejects with a specific failure kind
// and zero mutation; there is no intermediate persisted state. The
// engine is a pure function of (store, transaction) and holds no
// mutable state of its own, so many candidate transactions can be
// validated concurrently against read-only snapshots. Serializing the
// actual writes is the caller's responsibility: two Apply calls must
// never mutate the same store concurrently.
package engine

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
	"github.com/nssa-protocol/go-nssa/pkg/program"
	"github.com/nssa-protocol/go-nssa/pkg/transaction"
)

var (
	// ErrStructural is returned when a transaction is malformed before
	// any cryptographic check: duplicate addresses, witness/nonce count
	// mismatch, or a program returning the wrong number of post-states.
	ErrStructural = errors.New("malformed transaction structure")

	// ErrAuthorization is returned when a witness signature does not
	// verify over the message.
	ErrAuthorization = errors.New("signature verification failed")

	// ErrNonceMismatch is returned when a signer's stated nonce differs
	// from the stored nonce. It covers both stale replays and
	// skip-ahead submission: the match must be exact.
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// Engine composes authorization, program execution and constraint
// validation into one atomic state transition.
type Engine struct {
	registry    *program.Registry
	constraints *program.Constraints
}

// New creates an engine over the given program registry and constraint
// validator.
func New(registry *program.Registry, constraints *program.Constraints) *Engine {
	return &Engine{registry: registry, constraints: constraints}
}

// Receipt describes an applied transition.
type Receipt struct {
	// Touched are the message addresses whose records were replaced,
	// in message order.
	Touched []types.Address

	// Signers are the witness-derived addresses whose nonces advanced,
	// in witness order.
	Signers []types.Address
}

// Apply validates tx against store and, on success, writes the
// post-state diff and advances each signer's nonce by exactly 1 in a
// single atomic batch. On any failure the store is left byte-identical
// to its pre-call state and the returned error matches exactly one
// failure kind. The engine never retries; resubmission policy belongs
// to the caller.
func (e *Engine) Apply(store accounts.Store, tx *transaction.PublicTransaction) (*Receipt, error) {
	msg := &tx.Message

	// Structural checks precede every cryptographic check.
	if !msg.HasDistinctAddresses() {
		return nil, fmt.Errorf("%w: duplicate address in message", ErrStructural)
	}
	if len(msg.Nonces) != tx.WitnessSet.Len() {
		return nil, fmt.Errorf("%w: %d nonces for %d witnesses",
			ErrStructural, len(msg.Nonces), tx.WitnessSet.Len())
	}

	signers, err := e.authorize(store, tx)
	if err != nil {
		return nil, err
	}
	authorized := make(map[types.Address]struct{}, len(signers))
	for _, addr := range signers {
		authorized[addr] = struct{}{}
	}

	// Pre-state snapshot: fetch-or-default each message address and
	// attach its authorization flag.
	pre := make([]accounts.AccountWithMetadata, len(msg.Addresses))
	for i, addr := range msg.Addresses {
		acct, err := store.Account(addr)
		if err != nil {
			return nil, fmt.Errorf("load pre-state %s: %w", addr.String(), err)
		}
		_, ok := authorized[addr]
		pre[i] = accounts.AccountWithMetadata{Account: acct, IsAuthorized: ok}
	}

	prog, err := e.registry.Resolve(msg.ProgramID)
	if err != nil {
		return nil, err
	}

	post, err := prog.Execute(pre, msg.InstructionData)
	if err != nil {
		return nil, err
	}
	if len(post) != len(pre) {
		return nil, fmt.Errorf("%w: program returned %d post-states for %d pre-states",
			ErrStructural, len(post), len(pre))
	}

	if err := e.constraints.Validate(pre, post, msg.ProgramID); err != nil {
		return nil, err
	}

	// Stage the diff: replace (not merge) each touched record, then
	// advance every signer nonce exactly once, whether or not the
	// signer appears in the diff.
	staged := make(map[types.Address]*accounts.Account, len(post)+len(signers))
	order := make([]types.Address, 0, len(post)+len(signers))
	for i, addr := range msg.Addresses {
		acct := post[i].Clone()
		staged[addr] = &acct
		order = append(order, addr)
	}
	one := uint256.NewInt(1)
	for _, addr := range signers {
		acct, ok := staged[addr]
		if !ok {
			current, err := store.Account(addr)
			if err != nil {
				return nil, fmt.Errorf("load signer %s: %w", addr.String(), err)
			}
			clone := current.Clone()
			staged[addr] = &clone
			order = append(order, addr)
			acct = &clone
		}
		acct.Nonce.Add(&acct.Nonce, one)
	}

	entries := make([]accounts.Entry, 0, len(order))
	for _, addr := range order {
		entries = append(entries, accounts.Entry{Address: addr, Account: *staged[addr]})
	}
	if err := store.ApplyBatch(entries); err != nil {
		return nil, fmt.Errorf("apply diff: %w", err)
	}

	return &Receipt{
		Touched: append([]types.Address(nil), msg.Addresses...),
		Signers: signers,
	}, nil
}

// authorize verifies each witness signature over the canonical message
// encoding and checks the paired nonce against the store. It returns
// the witness-derived addresses proven authorized, in witness order.
func (e *Engine) authorize(store accounts.Store, tx *transaction.PublicTransaction) ([]types.Address, error) {
	msg := &tx.Message
	signers := make([]types.Address, 0, tx.WitnessSet.Len())

	for i, w := range tx.WitnessSet.Witnesses {
		if !w.Signature.IsValidFor(msg, w.PublicKey) {
			return nil, fmt.Errorf("%w: witness %d", ErrAuthorization, i)
		}

		addr, err := w.PublicKey.Address()
		if err != nil {
			return nil, fmt.Errorf("%w: witness %d: %v", ErrAuthorization, i, err)
		}

		current, err := store.NonceOf(addr)
		if err != nil {
			return nil, fmt.Errorf("read nonce %s: %w", addr.String(), err)
		}
		if !current.Eq(&msg.Nonces[i]) {
			return nil, fmt.Errorf("%w: signer %s at nonce %s, message states %s",
				ErrNonceMismatch, addr.String(), current.Dec(), msg.Nonces[i].Dec())
		}

		signers = append(signers, addr)
	}
	return signers, nil
}
