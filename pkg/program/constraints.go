package program

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
)

// ErrConstraintViolation is returned when program output breaks a
// ledger-wide invariant. It is distinct from ErrExecution: execution
// errors are the program refusing its own input, constraint violations
// are the ledger refusing the program's output.
var ErrConstraintViolation = errors.New("constraint violation")

// Constraints is the program-independent invariant checker. It does
// not rely on the executed program being correct: a buggy or malicious
// program that fabricates balance is caught here before anything is
// written.
//
// The default rule is value conservation: the total balance across the
// touched accounts must be identical before and after execution. A
// program may only be exempted (mint/burn capability) by explicit
// enumeration at construction time, never by inference.
type Constraints struct {
	exempt map[types.ProgramID]struct{}
}

// NewConstraints creates a validator with the given conservation-exempt
// program identifiers.
func NewConstraints(exempt ...types.ProgramID) *Constraints {
	m := make(map[types.ProgramID]struct{}, len(exempt))
	for _, id := range exempt {
		m[id] = struct{}{}
	}
	return &Constraints{exempt: m}
}

// IsExempt reports whether a program may create or destroy value.
func (c *Constraints) IsExempt(id types.ProgramID) bool {
	_, ok := c.exempt[id]
	return ok
}

// Validate accepts or rejects a program's output against the pre-state.
func (c *Constraints) Validate(pre []accounts.AccountWithMetadata, post []accounts.Account, id types.ProgramID) error {
	if len(pre) != len(post) {
		return fmt.Errorf("%w: post-state count %d does not match pre-state count %d",
			ErrConstraintViolation, len(post), len(pre))
	}

	if c.IsExempt(id) {
		return nil
	}

	// Sums of 128-bit balances cannot overflow 256 bits for any
	// realistic account count, so plain addition is safe here.
	var preSum, postSum uint256.Int
	for i := range pre {
		preSum.Add(&preSum, &pre[i].Account.Balance)
		postSum.Add(&postSum, &post[i].Balance)
	}
	if !preSum.Eq(&postSum) {
		return fmt.Errorf("%w: balance not conserved by program %s", ErrConstraintViolation, id.String())
	}
	return nil
}
