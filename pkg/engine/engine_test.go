package engine_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
	"github.com/nssa-protocol/go-nssa/pkg/engine"
	"github.com/nssa-protocol/go-nssa/pkg/program"
	"github.com/nssa-protocol/go-nssa/pkg/transaction"
)

// noopProgram returns its pre-states unchanged. Useful for driving the
// engine with signers that do not appear in the message addresses.
type noopProgram struct{}

var noopID = types.DeriveProgramID([]byte("test/noop"))

func (noopProgram) ID() types.ProgramID { return noopID }

func (noopProgram) Execute(pre []accounts.AccountWithMetadata, _ []byte) ([]accounts.Account, error) {
	post := make([]accounts.Account, len(pre))
	for i := range pre {
		post[i] = pre[i].Account.Clone()
	}
	return post, nil
}

// mintProgram fabricates balance out of nothing. The constraint
// validator must catch it even though execution succeeds.
type mintProgram struct{}

var mintID = types.DeriveProgramID([]byte("test/mint"))

func (mintProgram) ID() types.ProgramID { return mintID }

func (mintProgram) Execute(pre []accounts.AccountWithMetadata, _ []byte) ([]accounts.Account, error) {
	post := make([]accounts.Account, len(pre))
	for i := range pre {
		post[i] = pre[i].Account.Clone()
		post[i].Balance.Add(&post[i].Balance, uint256.NewInt(1_000_000))
	}
	return post, nil
}

// shortProgram violates the length contract.
type shortProgram struct{}

var shortID = types.DeriveProgramID([]byte("test/short"))

func (shortProgram) ID() types.ProgramID { return shortID }

func (shortProgram) Execute(pre []accounts.AccountWithMetadata, _ []byte) ([]accounts.Account, error) {
	return []accounts.Account{}, nil
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	registry, err := program.NewRegistry(program.NewTransfer(), noopProgram{}, mintProgram{}, shortProgram{})
	require.NoError(t, err)
	return engine.New(registry, program.NewConstraints())
}

func testKey(t *testing.T, fill byte) *transaction.PrivateKey {
	t.Helper()
	seed := make([]byte, transaction.PrivateKeySize)
	for i := range seed {
		seed[i] = fill
	}
	seed[31] = 1
	key, err := transaction.PrivateKeyFromBytes(seed)
	require.NoError(t, err)
	return key
}

func keyAddress(t *testing.T, key *transaction.PrivateKey) types.Address {
	t.Helper()
	addr, err := key.PublicKey().Address()
	require.NoError(t, err)
	return addr
}

func amountBytes(v uint64) []byte {
	return accounts.AppendU128(nil, uint256.NewInt(v))
}

// transferTx builds a transfer of amount from the key's address to `to`
// at the stated sender nonce.
func transferTx(t *testing.T, key *transaction.PrivateKey, nonce uint64, to types.Address, amount uint64) *transaction.PublicTransaction {
	t.Helper()
	msg := transaction.NewMessage(
		program.TransferID,
		[]types.Address{keyAddress(t, key), to},
		[]uint256.Int{*uint256.NewInt(nonce)},
		amountBytes(amount),
	)
	ws, err := transaction.NewWitnessSet(&msg, key)
	require.NoError(t, err)
	return transaction.NewPublicTransaction(msg, ws)
}

// fund seeds the store with a balance at addr.
func fund(t *testing.T, store accounts.Store, addr types.Address, balance uint64) {
	t.Helper()
	require.NoError(t, store.SetAccount(addr, accounts.Account{Balance: *uint256.NewInt(balance)}))
}

func digest(t *testing.T, store accounts.Store) types.Hash {
	t.Helper()
	d, err := accounts.ComputeStateDigest(store)
	require.NoError(t, err)
	return d
}

func TestTransferApplied(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x01)
	addrA := keyAddress(t, keyA)
	addrB := types.Address{0xbb}
	fund(t, store, addrA, 100)

	receipt, err := e.Apply(store, transferTx(t, keyA, 0, addrB, 5))
	require.NoError(t, err)
	require.Equal(t, []types.Address{addrA, addrB}, receipt.Touched)
	require.Equal(t, []types.Address{addrA}, receipt.Signers)

	a, err := store.Account(addrA)
	require.NoError(t, err)
	require.Equal(t, "95", a.Balance.Dec())
	require.Equal(t, "1", a.Nonce.Dec(), "signer nonce advances by exactly 1")

	b, err := store.Account(addrB)
	require.NoError(t, err)
	require.Equal(t, "5", b.Balance.Dec())
	require.True(t, b.Nonce.IsZero(), "non-signer nonce must not change")
}

func TestReplayRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x02)
	fund(t, store, keyAddress(t, keyA), 100)

	tx := transferTx(t, keyA, 0, types.Address{0xbb}, 5)
	_, err := e.Apply(store, tx)
	require.NoError(t, err)

	before := digest(t, store)

	// Resubmitting the identical transaction replays a stale nonce.
	_, err = e.Apply(store, tx)
	require.ErrorIs(t, err, engine.ErrNonceMismatch)
	require.Equal(t, before, digest(t, store), "rejection must leave the store untouched")
}

func TestSkipAheadNonceRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x03)
	fund(t, store, keyAddress(t, keyA), 100)
	before := digest(t, store)

	// The stored nonce is 0; stating 1 is skip-ahead, not allowed.
	_, err := e.Apply(store, transferTx(t, keyA, 1, types.Address{0xbb}, 5))
	require.ErrorIs(t, err, engine.ErrNonceMismatch)
	require.Equal(t, before, digest(t, store))
}

func TestDuplicateAddressesRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x04)
	addrA := keyAddress(t, keyA)
	fund(t, store, addrA, 100)
	before := digest(t, store)

	msg := transaction.NewMessage(
		program.TransferID,
		[]types.Address{addrA, addrA},
		[]uint256.Int{*uint256.NewInt(0)},
		amountBytes(5),
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA)
	require.NoError(t, err)

	// Rejected structurally, before any signature check.
	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.ErrorIs(t, err, engine.ErrStructural)
	require.Equal(t, before, digest(t, store))
}

func TestWitnessCountMismatchRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x05)
	msg := transaction.NewMessage(
		program.TransferID,
		[]types.Address{keyAddress(t, keyA), {0xbb}},
		[]uint256.Int{*uint256.NewInt(0), *uint256.NewInt(0)}, // two nonces
		amountBytes(5),
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA) // one witness
	require.NoError(t, err)

	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.ErrorIs(t, err, engine.ErrStructural)
}

func TestBadSignatureRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x06)
	fund(t, store, keyAddress(t, keyA), 100)
	before := digest(t, store)

	tx := transferTx(t, keyA, 0, types.Address{0xbb}, 5)
	tx.WitnessSet.Witnesses[0].Signature[0] ^= 0xff

	_, err := e.Apply(store, tx)
	require.ErrorIs(t, err, engine.ErrAuthorization)
	require.Equal(t, before, digest(t, store))
}

func TestInsufficientBalanceRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x07)
	fund(t, store, keyAddress(t, keyA), 100)
	before := digest(t, store)

	_, err := e.Apply(store, transferTx(t, keyA, 0, types.Address{0xbb}, 200))
	require.ErrorIs(t, err, program.ErrExecution)
	require.Equal(t, before, digest(t, store), "execution failure must not mutate the store")
}

func TestUnknownProgramRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x08)
	msg := transaction.NewMessage(
		types.DeriveProgramID([]byte("not-registered")),
		[]types.Address{keyAddress(t, keyA)},
		[]uint256.Int{*uint256.NewInt(0)},
		nil,
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA)
	require.NoError(t, err)

	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.ErrorIs(t, err, program.ErrUnknownProgram)
}

func TestConstraintViolationRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x09)
	fund(t, store, keyAddress(t, keyA), 100)
	before := digest(t, store)

	msg := transaction.NewMessage(
		mintID,
		[]types.Address{keyAddress(t, keyA)},
		[]uint256.Int{*uint256.NewInt(0)},
		nil,
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA)
	require.NoError(t, err)

	// Execution succeeds, but the fabricated balance is caught by the
	// program-independent validator.
	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.ErrorIs(t, err, program.ErrConstraintViolation)
	require.Equal(t, before, digest(t, store))
}

func TestMintAllowedWhenExempt(t *testing.T) {
	registry, err := program.NewRegistry(mintProgram{})
	require.NoError(t, err)
	e := engine.New(registry, program.NewConstraints(mintID))

	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x0a)
	addrA := keyAddress(t, keyA)
	msg := transaction.NewMessage(
		mintID,
		[]types.Address{addrA},
		[]uint256.Int{*uint256.NewInt(0)},
		nil,
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA)
	require.NoError(t, err)

	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.NoError(t, err)

	acct, err := store.Account(addrA)
	require.NoError(t, err)
	require.Equal(t, "1000000", acct.Balance.Dec())
}

func TestShortPostStatesRejected(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x0b)
	msg := transaction.NewMessage(
		shortID,
		[]types.Address{keyAddress(t, keyA)},
		[]uint256.Int{*uint256.NewInt(0)},
		nil,
	)
	ws, err := transaction.NewWitnessSet(&msg, keyA)
	require.NoError(t, err)

	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.ErrorIs(t, err, engine.ErrStructural)
}

func TestSignerOutsideDiffStillAdvances(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keySigner := testKey(t, 0x0c)
	signerAddr := keyAddress(t, keySigner)
	other := types.Address{0xcc}

	// The signer authorizes a noop over an unrelated account.
	msg := transaction.NewMessage(
		noopID,
		[]types.Address{other},
		[]uint256.Int{*uint256.NewInt(0)},
		nil,
	)
	ws, err := transaction.NewWitnessSet(&msg, keySigner)
	require.NoError(t, err)

	receipt, err := e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.NoError(t, err)
	require.Equal(t, []types.Address{signerAddr}, receipt.Signers)

	// Inclusion advances the signer's nonce exactly once even though
	// the signer is not in the diff.
	acct, err := store.Account(signerAddr)
	require.NoError(t, err)
	require.Equal(t, "1", acct.Nonce.Dec())

	// The touched account is otherwise unchanged.
	touched, err := store.Account(other)
	require.NoError(t, err)
	require.True(t, touched.IsZero())
}

func TestMultipleSigners(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	k1 := testKey(t, 0x0d)
	k2 := testKey(t, 0x0e)
	a1 := keyAddress(t, k1)
	a2 := keyAddress(t, k2)
	fund(t, store, a1, 50)

	msg := transaction.NewMessage(
		program.TransferID,
		[]types.Address{a1, a2},
		[]uint256.Int{*uint256.NewInt(0), *uint256.NewInt(0)},
		amountBytes(10),
	)
	ws, err := transaction.NewWitnessSet(&msg, k1, k2)
	require.NoError(t, err)

	_, err = e.Apply(store, transaction.NewPublicTransaction(msg, ws))
	require.NoError(t, err)

	acct1, _ := store.Account(a1)
	acct2, _ := store.Account(a2)
	require.Equal(t, "1", acct1.Nonce.Dec())
	require.Equal(t, "1", acct2.Nonce.Dec())
	require.Equal(t, "40", acct1.Balance.Dec())
	require.Equal(t, "10", acct2.Balance.Dec())
}

func TestConservationAcrossTransfer(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x0f)
	addrA := keyAddress(t, keyA)
	addrB := types.Address{0xbb}
	fund(t, store, addrA, 100)
	fund(t, store, addrB, 200)

	_, err := e.Apply(store, transferTx(t, keyA, 0, addrB, 8))
	require.NoError(t, err)

	a, _ := store.Account(addrA)
	b, _ := store.Account(addrB)
	var sum uint256.Int
	sum.Add(&a.Balance, &b.Balance)
	require.Equal(t, "300", sum.Dec(), "total balance over touched accounts is conserved")
}

func TestDeterminism(t *testing.T) {
	e := newEngine(t)
	keyA := testKey(t, 0x10)
	tx := transferTx(t, keyA, 0, types.Address{0xbb}, 7)

	run := func() types.Hash {
		store := accounts.NewMemoryStore()
		defer store.Close()
		fund(t, store, keyAddress(t, keyA), 100)
		_, err := e.Apply(store, tx)
		require.NoError(t, err)
		return digest(t, store)
	}

	require.Equal(t, run(), run(), "identical (store, transaction) must yield identical state")
}

func TestSequentialNonces(t *testing.T) {
	e := newEngine(t)
	store := accounts.NewMemoryStore()
	defer store.Close()

	keyA := testKey(t, 0x11)
	addrA := keyAddress(t, keyA)
	fund(t, store, addrA, 100)

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := e.Apply(store, transferTx(t, keyA, nonce, types.Address{0xbb}, 1))
		require.NoError(t, err, "nonce %d", nonce)
	}

	acct, err := store.Account(addrA)
	require.NoError(t, err)
	require.Equal(t, "3", acct.Nonce.Dec())
	require.Equal(t, "97", acct.Balance.Dec())
}
