package program

import (
	"fmt"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
	"github.com/nssa-protocol/go-nssa/pkg/transaction"
)

// Verifier checks a zero-knowledge attestation that a program image
// executed correctly. It is an external collaborator: the ledger core
// never re-executes deployed bytecode, it trusts the attestation.
type Verifier interface {
	// Verify checks the receipt against the program image identifier.
	Verify(receipt []byte, imageID types.Hash) error
}

// Backend runs deployed bytecode inside the external zero-knowledge VM
// and returns the claimed post-states together with the execution
// receipt proving the run.
type Backend interface {
	// Execute runs the bytecode over the pre-states.
	Execute(bytecode []byte, pre []accounts.AccountWithMetadata, instructionData []byte) (post []accounts.Account, receipt []byte, err error)
}

// Deployed is a custom program registered through the deployment wire
// format. Its identifier is the digest of its bytecode, so identical
// images resolve to the same program everywhere.
type Deployed struct {
	id       types.ProgramID
	imageID  types.Hash
	bytecode []byte
	backend  Backend
	verifier Verifier
}

// ID returns the bytecode-derived identifier.
func (d *Deployed) ID() types.ProgramID {
	return d.id
}

// ImageID returns the image identifier attestations are checked against.
func (d *Deployed) ImageID() types.Hash {
	return d.imageID
}

// Execute delegates to the zero-knowledge backend and verifies the
// returned receipt before trusting the post-states.
func (d *Deployed) Execute(pre []accounts.AccountWithMetadata, instructionData []byte) ([]accounts.Account, error) {
	if d.backend == nil {
		return nil, ErrNoExecutionBackend
	}

	post, receipt, err := d.backend.Execute(d.bytecode, pre, instructionData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	if len(post) != len(pre) {
		return nil, ErrInvalidProgramResult
	}
	if err := d.verifier.Verify(receipt, d.imageID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationRejected, err)
	}
	return post, nil
}

// Deploy decodes a deployment message, checks the deployment receipt
// through the verifier and registers the program. The caller is
// responsible for gas gating and for charging the deployer; see
// pkg/gas.
func (r *Registry) Deploy(d transaction.ProgramDeployment, receipt []byte, verifier Verifier, backend Backend) (*Deployed, error) {
	imageID := types.ComputeHash(d.Bytecode)
	if err := verifier.Verify(receipt, imageID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationRejected, err)
	}

	p := &Deployed{
		id:       types.DeriveProgramID(d.Bytecode),
		imageID:  imageID,
		bytecode: append([]byte(nil), d.Bytecode...),
		backend:  backend,
		verifier: verifier,
	}
	if err := r.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Verify that Deployed implements Program.
var _ Program = (*Deployed)(nil)
