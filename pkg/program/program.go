// Package program defines the pluggable execution variants of the
// go-nssa ledger and the ledger-trusted constraint validator that
// checks their output.
//
// A Program transforms an ordered sequence of pre-state accounts into
// post-state accounts. Two hard contracts bind every implementation:
// the output has exactly as many accounts as the input, and output
// position i corresponds to input address i. The engine enforces the
// length contract; the order contract cannot be checked mechanically
// and is part of the interface definition.
package program

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
)

var (
	// ErrUnknownProgram is returned when a program id is not registered.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrExecution is the kind of every violated program precondition:
	// insufficient funds, missing authorization, malformed input.
	ErrExecution = errors.New("program execution failed")

	// ErrAlreadyRegistered is returned when a program id is registered twice.
	ErrAlreadyRegistered = errors.New("program already registered")
)

// Specific execution failures, all matching ErrExecution via errors.Is.
var (
	ErrWrongAccountCount    = fmt.Errorf("%w: wrong number of accounts", ErrExecution)
	ErrBadInstructionData   = fmt.Errorf("%w: malformed instruction data", ErrExecution)
	ErrNotAuthorized        = fmt.Errorf("%w: missing required authorization", ErrExecution)
	ErrInsufficientBalance  = fmt.Errorf("%w: insufficient balance", ErrExecution)
	ErrBalanceOverflow      = fmt.Errorf("%w: balance overflow", ErrExecution)
	ErrNoExecutionBackend   = fmt.Errorf("%w: no execution backend for deployed program", ErrExecution)
	ErrAttestationRejected  = errors.New("attestation rejected")
	ErrInvalidProgramResult = fmt.Errorf("%w: backend returned malformed post-states", ErrExecution)
)

// Program is one registered execution variant.
type Program interface {
	// ID returns the fixed identifier the program is registered under.
	ID() types.ProgramID

	// Execute transforms pre-state accounts into post-state accounts.
	// len(post) must equal len(pre) and post[i] must correspond to the
	// same address as pre[i]. Any violated precondition is reported as
	// an error matching ErrExecution.
	Execute(pre []accounts.AccountWithMetadata, instructionData []byte) ([]accounts.Account, error)
}

// Registry maps program identifiers to their implementations.
// Dispatch is a registration-time lookup, never type inspection.
type Registry struct {
	mu       sync.RWMutex
	programs map[types.ProgramID]Program
}

// NewRegistry creates a registry pre-loaded with the given programs.
func NewRegistry(builtins ...Program) (*Registry, error) {
	r := &Registry{programs: make(map[types.ProgramID]Program)}
	for _, p := range builtins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a program under its own identifier.
func (r *Registry) Register(p Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, dup := r.programs[id]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id.String())
	}
	r.programs[id] = p
	return nil
}

// Resolve looks up a program by identifier.
func (r *Registry) Resolve(id types.ProgramID) (Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, id.String())
	}
	return p, nil
}

// IDs returns the identifiers of all registered programs.
func (r *Registry) IDs() []types.ProgramID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]types.ProgramID, 0, len(r.programs))
	for id := range r.programs {
		ids = append(ids, id)
	}
	return ids
}
