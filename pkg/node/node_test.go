package node

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
	"github.com/nssa-protocol/go-nssa/pkg/engine"
	"github.com/nssa-protocol/go-nssa/pkg/gas"
	"github.com/nssa-protocol/go-nssa/pkg/privacy"
	"github.com/nssa-protocol/go-nssa/pkg/program"
	"github.com/nssa-protocol/go-nssa/pkg/transaction"
)

func openTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func testKey(t *testing.T, fill byte) *transaction.PrivateKey {
	t.Helper()
	seed := make([]byte, transaction.PrivateKeySize)
	for i := range seed {
		seed[i] = fill
	}
	seed[31] = 1
	key, err := transaction.PrivateKeyFromBytes(seed)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes failed: %v", err)
	}
	return key
}

func keyAddress(t *testing.T, key *transaction.PrivateKey) types.Address {
	t.Helper()
	addr, err := key.PublicKey().Address()
	if err != nil {
		t.Fatalf("Address failed: %v", err)
	}
	return addr
}

func transferTx(t *testing.T, key *transaction.PrivateKey, nonce uint64, to types.Address, amount uint64) *transaction.PublicTransaction {
	t.Helper()
	msg := transaction.NewMessage(
		program.TransferID,
		[]types.Address{keyAddress(t, key), to},
		[]uint256.Int{*uint256.NewInt(nonce)},
		accounts.AppendU128(nil, uint256.NewInt(amount)),
	)
	ws, err := transaction.NewWitnessSet(&msg, key)
	if err != nil {
		t.Fatalf("NewWitnessSet failed: %v", err)
	}
	return transaction.NewPublicTransaction(msg, ws)
}

func fund(t *testing.T, n *Node, addr types.Address, balance uint64) {
	t.Helper()
	if err := n.Store().SetAccount(addr, accounts.Account{Balance: *uint256.NewInt(balance)}); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}
}

func TestNodeSubmitTransaction(t *testing.T) {
	n := openTestNode(t)

	key := testKey(t, 0x01)
	sender := keyAddress(t, key)
	recipient := types.Address{0xbb}
	fund(t, n, sender, 100)

	receipt, err := n.SubmitTransaction(transferTx(t, key, 0, recipient, 30))
	if err != nil {
		t.Fatalf("SubmitTransaction failed: %v", err)
	}
	if len(receipt.Touched) != 2 {
		t.Errorf("touched: got %d addresses, want 2", len(receipt.Touched))
	}

	acct, err := n.Store().Account(sender)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Eq(uint256.NewInt(70)) {
		t.Errorf("sender balance: got %s, want 70", acct.Balance.Dec())
	}
	if !acct.Nonce.Eq(uint256.NewInt(1)) {
		t.Errorf("sender nonce: got %s, want 1", acct.Nonce.Dec())
	}

	got, err := n.Store().Account(recipient)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Eq(uint256.NewInt(30)) {
		t.Errorf("recipient balance: got %s, want 30", got.Balance.Dec())
	}
}

func TestNodeRejectsReplay(t *testing.T) {
	n := openTestNode(t)

	key := testKey(t, 0x02)
	fund(t, n, keyAddress(t, key), 100)

	tx := transferTx(t, key, 0, types.Address{0xbb}, 5)
	if _, err := n.SubmitTransaction(tx); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := n.SubmitTransaction(tx); !errors.Is(err, engine.ErrNonceMismatch) {
		t.Errorf("replay: got %v, want ErrNonceMismatch", err)
	}
}

func TestNodeMarkSpent(t *testing.T) {
	n := openTestNode(t)

	var nf privacy.Nullifier
	nf[0] = 0x01
	if err := n.MarkSpent(nf); err != nil {
		t.Fatalf("MarkSpent failed: %v", err)
	}
	if err := n.MarkSpent(nf); !errors.Is(err, privacy.ErrNullifierSpent) {
		t.Errorf("double spend: got %v, want ErrNullifierSpent", err)
	}
}

// acceptAll is a verifier that accepts every attestation.
type acceptAll struct{}

func (acceptAll) Verify(receipt []byte, imageID types.Hash) error { return nil }

// echoBackend returns the pre-states unchanged.
type echoBackend struct{}

func (echoBackend) Execute(bytecode []byte, pre []accounts.AccountWithMetadata, instructionData []byte) ([]accounts.Account, []byte, error) {
	post := make([]accounts.Account, len(pre))
	for i := range pre {
		post[i] = pre[i].Account.Clone()
	}
	return post, []byte("receipt"), nil
}

func TestNodeDeployProgram(t *testing.T) {
	n := openTestNode(t)

	payer := types.Address{0x0a}
	fund(t, n, payer, 10_000_000)

	bytecode := []byte{0xde, 0xad, 0xbe, 0xef}
	wire := transaction.NewProgramDeployment(bytecode).Encode()

	deployed, err := n.DeployProgram(wire, []byte("receipt"), payer, acceptAll{}, echoBackend{})
	if err != nil {
		t.Fatalf("DeployProgram failed: %v", err)
	}
	if deployed.ID() != types.DeriveProgramID(bytecode) {
		t.Error("deployed id should be derived from bytecode")
	}

	// The program resolves through the registry afterwards.
	if _, err := n.Registry().Resolve(deployed.ID()); err != nil {
		t.Errorf("Resolve after deploy failed: %v", err)
	}

	// The payer was charged len(bytecode)*FeePerByteDeploy*CostPerGasDeploy.
	params := gas.DefaultParams()
	want := uint64(len(bytecode)) * params.FeePerByteDeploy * params.CostPerGasDeploy
	acct, err := n.Store().Account(payer)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Eq(uint256.NewInt(10_000_000 - want)) {
		t.Errorf("payer balance: got %s, want %d", acct.Balance.Dec(), 10_000_000-want)
	}
}

func TestNodeDeployInsufficientFunds(t *testing.T) {
	n := openTestNode(t)

	payer := types.Address{0x0b} // zero balance
	wire := transaction.NewProgramDeployment([]byte{0x01}).Encode()

	_, err := n.DeployProgram(wire, nil, payer, acceptAll{}, echoBackend{})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestNodeDeployOverGasLimit(t *testing.T) {
	params := gas.DefaultParams()
	params.LimitDeploy = 10 // 1 byte at fee 10 already reaches it

	n, err := Open(Config{InMemory: true, Gas: &params})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer n.Close()

	payer := types.Address{0x0c}
	fund(t, n, payer, 1_000_000)

	wire := transaction.NewProgramDeployment([]byte{0x01}).Encode()
	if _, err := n.DeployProgram(wire, nil, payer, acceptAll{}, echoBackend{}); !errors.Is(err, gas.ErrOverLimit) {
		t.Errorf("got %v, want ErrOverLimit", err)
	}
}

// rejectAll is a verifier that refuses every attestation.
type rejectAll struct{}

func (rejectAll) Verify(receipt []byte, imageID types.Hash) error {
	return errors.New("proof invalid")
}

func TestNodeDeployRejectedLeavesPayerIntact(t *testing.T) {
	n := openTestNode(t)

	payer := types.Address{0x0d}
	fund(t, n, payer, 1_000_000)

	bytecode := []byte{0x01, 0x02}
	wire := transaction.NewProgramDeployment(bytecode).Encode()

	_, err := n.DeployProgram(wire, nil, payer, rejectAll{}, echoBackend{})
	if !errors.Is(err, program.ErrAttestationRejected) {
		t.Fatalf("got %v, want ErrAttestationRejected", err)
	}

	// The failed deployment is not charged and not registered.
	acct, err := n.Store().Account(payer)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Eq(uint256.NewInt(1_000_000)) {
		t.Errorf("payer balance: got %s, want 1000000", acct.Balance.Dec())
	}
	if _, err := n.Registry().Resolve(types.DeriveProgramID(bytecode)); !errors.Is(err, program.ErrUnknownProgram) {
		t.Errorf("Resolve: got %v, want ErrUnknownProgram", err)
	}
}

func TestNodeDeployBadWire(t *testing.T) {
	n := openTestNode(t)
	_, err := n.DeployProgram([]byte("junk"), nil, types.Address{}, acceptAll{}, echoBackend{})
	if !errors.Is(err, transaction.ErrDeserialization) {
		t.Errorf("got %v, want ErrDeserialization", err)
	}
}

func TestNodeSnapshotRoundTrip(t *testing.T) {
	n := openTestNode(t)

	key := testKey(t, 0x03)
	fund(t, n, keyAddress(t, key), 500)
	if _, err := n.SubmitTransaction(transferTx(t, key, 0, types.Address{0xbb}, 100)); err != nil {
		t.Fatalf("SubmitTransaction failed: %v", err)
	}

	before, err := n.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.snap")
	if err := n.ExportSnapshot(path); err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}

	fresh := openTestNode(t)
	digest, err := fresh.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if digest != before {
		t.Error("restored digest should match the exported state")
	}

	count, err := fresh.AccountsCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("restored accounts: got %d, want 2", count)
	}
}

func TestNodePersistence(t *testing.T) {
	dir := t.TempDir()

	key := testKey(t, 0x04)
	sender := keyAddress(t, key)

	n, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fund(t, n, sender, 100)
	if _, err := n.SubmitTransaction(transferTx(t, key, 0, types.Address{0xbb}, 25)); err != nil {
		t.Fatalf("SubmitTransaction failed: %v", err)
	}
	before, err := n.StateDigest()
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// State survives a restart.
	n, err = Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer n.Close()

	after, err := n.StateDigest()
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Error("state digest should survive restart")
	}

	acct, err := n.Store().Account(sender)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Eq(uint256.NewInt(75)) {
		t.Errorf("persisted balance: got %s, want 75", acct.Balance.Dec())
	}
}

func TestNodeClosed(t *testing.T) {
	n, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := n.SubmitTransaction(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("SubmitTransaction on closed node: got %v, want ErrClosed", err)
	}
	if err := n.MarkSpent(privacy.Nullifier{}); !errors.Is(err, ErrClosed) {
		t.Errorf("MarkSpent on closed node: got %v, want ErrClosed", err)
	}
	if err := n.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("double Close: got %v, want ErrClosed", err)
	}
}
