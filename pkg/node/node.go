// Package node ties the ledger components together: the persistent
// account store, the nullifier spent set, the program registry, the
// gas calculator and the state transition engine.
//
// The engine itself is a pure function; the node is where the
// single-writer discipline lives. One mutex serializes every node
// method; reads against the store obtained via Store() can proceed
// concurrently.
package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
	"github.com/nssa-protocol/go-nssa/pkg/engine"
	"github.com/nssa-protocol/go-nssa/pkg/gas"
	"github.com/nssa-protocol/go-nssa/pkg/privacy"
	"github.com/nssa-protocol/go-nssa/pkg/program"
	"github.com/nssa-protocol/go-nssa/pkg/snapshot"
	"github.com/nssa-protocol/go-nssa/pkg/transaction"
)

var (
	// ErrClosed is returned when operating on a closed node.
	ErrClosed = errors.New("node closed")

	// ErrInsufficientFunds is returned when a deployer cannot cover the
	// deployment cost.
	ErrInsufficientFunds = errors.New("insufficient funds for deployment")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data. Subdirectories
	// are created for the account store and the nullifier set.
	DataDir string

	// InMemory runs all storage in memory (for testing). DataDir is
	// ignored except for the nullifier set, which uses a throwaway
	// temp directory.
	InMemory bool

	// SyncWrites ensures account writes are synced to disk.
	SyncWrites bool

	// ConservationExempt lists program ids allowed to mint or burn
	// value. Must be enumerated explicitly; nothing is inferred.
	ConservationExempt []types.ProgramID

	// Gas overrides the default cost model when non-nil.
	Gas *gas.Params
}

// DefaultConfig returns a configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:    dataDir,
		SyncWrites: true,
	}
}

// Node is a ledger node instance.
type Node struct {
	mu sync.Mutex

	store    accounts.Store
	spent    *privacy.SpentSet
	registry *program.Registry
	engine   *engine.Engine
	gas      *gas.Calculator

	tempDir string
	closed  bool
}

// Open creates a node from the given configuration. The built-in
// transfer program is pre-registered.
func Open(cfg Config) (*Node, error) {
	var (
		store   accounts.Store
		tempDir string
		err     error
	)
	if cfg.InMemory {
		store, err = accounts.NewBadgerStore(accounts.BadgerConfig{InMemory: true})
		if err != nil {
			return nil, fmt.Errorf("open account store: %w", err)
		}
		tempDir, err = os.MkdirTemp("", "nssa-node-*")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("temp dir: %w", err)
		}
	} else {
		badgerCfg := accounts.DefaultBadgerConfig(filepath.Join(cfg.DataDir, "accounts"))
		badgerCfg.SyncWrites = cfg.SyncWrites
		if err := os.MkdirAll(badgerCfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = accounts.NewBadgerStore(badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("open account store: %w", err)
		}
	}

	spentDir := cfg.DataDir
	if cfg.InMemory {
		spentDir = tempDir
	}
	spent, err := privacy.OpenSpentSet(filepath.Join(spentDir, "nullifiers.db"))
	if err != nil {
		store.Close()
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return nil, fmt.Errorf("open spent set: %w", err)
	}

	registry, err := program.NewRegistry(program.NewTransfer())
	if err != nil {
		store.Close()
		spent.Close()
		return nil, err
	}

	params := gas.DefaultParams()
	if cfg.Gas != nil {
		params = *cfg.Gas
	}

	return &Node{
		store:    store,
		spent:    spent,
		registry: registry,
		engine:   engine.New(registry, program.NewConstraints(cfg.ConservationExempt...)),
		gas:      gas.New(params),
		tempDir:  tempDir,
	}, nil
}

// Store exposes the underlying account store for reads.
func (n *Node) Store() accounts.Store {
	return n.store
}

// Registry exposes the program registry.
func (n *Node) Registry() *program.Registry {
	return n.registry
}

// SubmitTransaction applies one public transaction. Writes are
// serialized; the engine guarantees all-or-nothing semantics per call.
func (n *Node) SubmitTransaction(tx *transaction.PublicTransaction) (*engine.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	return n.engine.Apply(n.store, tx)
}

// MarkSpent records a private-path nullifier, refusing reuse.
func (n *Node) MarkSpent(nf privacy.Nullifier) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	return n.spent.Insert(nf)
}

// DeployProgram decodes a deployment message, gates it through the gas
// calculator, charges the payer, verifies the attestation and registers
// the program.
func (n *Node) DeployProgram(wire []byte, receipt []byte, payer types.Address, verifier program.Verifier, backend program.Backend) (*program.Deployed, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}

	deployment, err := transaction.DecodeProgramDeployment(wire)
	if err != nil {
		return nil, err
	}

	deployGas, err := n.gas.Deploy(deployment.Bytecode)
	if err != nil {
		return nil, err
	}
	cost, err := n.gas.DeployCost(deployGas)
	if err != nil {
		return nil, err
	}

	payerAcct, err := n.store.Account(payer)
	if err != nil {
		return nil, fmt.Errorf("load payer: %w", err)
	}
	charge := uint256.NewInt(cost)
	if payerAcct.Balance.Lt(charge) {
		return nil, fmt.Errorf("%w: need %d", ErrInsufficientFunds, cost)
	}

	// Charge before registering so a failed charge can never leave a
	// program deployed for free.
	payerAcct.Balance.Sub(&payerAcct.Balance, charge)
	if err := n.store.SetAccount(payer, payerAcct); err != nil {
		return nil, fmt.Errorf("charge payer: %w", err)
	}

	deployed, err := n.registry.Deploy(deployment, receipt, verifier, backend)
	if err != nil {
		payerAcct.Balance.Add(&payerAcct.Balance, charge)
		if rerr := n.store.SetAccount(payer, payerAcct); rerr != nil {
			return nil, fmt.Errorf("refund after failed deploy (%v): %w", rerr, err)
		}
		return nil, err
	}
	return deployed, nil
}

// StateDigest computes the Merkle digest of the full account store.
func (n *Node) StateDigest() (types.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return types.Hash{}, ErrClosed
	}
	return accounts.ComputeStateDigest(n.store)
}

// AccountsCount returns the number of stored accounts.
func (n *Node) AccountsCount() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return 0, ErrClosed
	}
	return n.store.Len()
}

// ExportSnapshot writes the full store to path.
func (n *Node) ExportSnapshot(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	return snapshot.Export(n.store, path)
}

// LoadSnapshot loads a snapshot into the store and returns its verified
// digest.
func (n *Node) LoadSnapshot(path string) (types.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return types.Hash{}, ErrClosed
	}
	return snapshot.Import(n.store, path)
}

// Close releases all node resources.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	n.closed = true

	var firstErr error
	if err := n.spent.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if n.tempDir != "" {
		if err := os.RemoveAll(n.tempDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
