package transaction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
)

// Wire encoding prefixes. The leading tag byte separates message kinds
// so signed bytes of one kind can never replay as another.
var (
	// messagePrefix tags the canonical encoding of a public transaction
	// message.
	messagePrefix = []byte("\x01/NSSA/v0.1/TxMessage/")

	// deployPrefix tags a program deployment message.
	deployPrefix = []byte("\x02/NSSA/v0.1/TxMessage/")
)

// prefixLen is the fixed length of every wire prefix.
const prefixLen = 22

var (
	// ErrDeserialization is returned when wire bytes fail to decode.
	ErrDeserialization = errors.New("transaction deserialization failed")

	// ErrWitnessCount is returned when a witness set does not pair
	// one-to-one with the message nonces.
	ErrWitnessCount = errors.New("witness count does not match nonce count")
)

// Message is the intent half of a public transaction: which program to
// run, over which accounts, at which signer nonces, with what input.
// Messages are immutable once constructed.
type Message struct {
	// ProgramID selects the program to execute.
	ProgramID types.ProgramID

	// Addresses are the accounts the program touches, in execution
	// order. All addresses must be pairwise distinct.
	Addresses []types.Address

	// Nonces are the expected current nonces of the signers, paired
	// positionally with the witness set.
	Nonces []uint256.Int

	// InstructionData is the opaque program input.
	InstructionData []byte
}

// NewMessage constructs a message.
func NewMessage(programID types.ProgramID, addresses []types.Address, nonces []uint256.Int, instructionData []byte) Message {
	return Message{
		ProgramID:       programID,
		Addresses:       addresses,
		Nonces:          nonces,
		InstructionData: instructionData,
	}
}

// HasDistinctAddresses reports whether all message addresses are
// pairwise distinct.
func (m *Message) HasDistinctAddresses() bool {
	seen := make(map[types.Address]struct{}, len(m.Addresses))
	for _, addr := range m.Addresses {
		if _, dup := seen[addr]; dup {
			return false
		}
		seen[addr] = struct{}{}
	}
	return true
}

// Encode serializes the message into its canonical byte layout:
//
//	PREFIX || program_id (32)
//	       || n_addresses (4, LE) || addresses (32 each)
//	       || n_nonces    (4, LE) || nonces (16 each, LE)
//	       || data_len    (4, LE) || instruction_data
//
// All integers are little-endian. This encoding is both the wire format
// and the exact byte string covered by witness signatures.
func (m *Message) Encode() []byte {
	size := prefixLen + types.ProgramIDSize +
		4 + len(m.Addresses)*types.AddressSize +
		4 + len(m.Nonces)*16 +
		4 + len(m.InstructionData)

	buf := make([]byte, 0, size)
	buf = append(buf, messagePrefix...)
	buf = append(buf, m.ProgramID[:]...)

	buf = appendU32(buf, uint32(len(m.Addresses)))
	for _, addr := range m.Addresses {
		buf = append(buf, addr[:]...)
	}

	buf = appendU32(buf, uint32(len(m.Nonces)))
	for i := range m.Nonces {
		buf = appendU128(buf, &m.Nonces[i])
	}

	buf = appendU32(buf, uint32(len(m.InstructionData)))
	buf = append(buf, m.InstructionData...)

	return buf
}

// DecodeMessage parses a canonical message encoding. The input must be
// consumed exactly; trailing bytes are an error.
func DecodeMessage(data []byte) (Message, error) {
	r := newReader(data)

	prefix, err := r.take(prefixLen)
	if err != nil {
		return Message{}, err
	}
	if !bytes.Equal(prefix, messagePrefix) {
		return Message{}, fmt.Errorf("%w: invalid message prefix", ErrDeserialization)
	}

	idBytes, err := r.take(types.ProgramIDSize)
	if err != nil {
		return Message{}, err
	}
	var m Message
	copy(m.ProgramID[:], idBytes)

	nAddrs, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	// The count is untrusted; it must be covered by the bytes actually
	// present before anything is allocated from it.
	if int(nAddrs)*types.AddressSize > r.remaining() {
		return Message{}, fmt.Errorf("%w: address count exceeds input", ErrDeserialization)
	}
	m.Addresses = make([]types.Address, nAddrs)
	for i := range m.Addresses {
		b, err := r.take(types.AddressSize)
		if err != nil {
			return Message{}, err
		}
		copy(m.Addresses[i][:], b)
	}

	nNonces, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	if int(nNonces)*16 > r.remaining() {
		return Message{}, fmt.Errorf("%w: nonce count exceeds input", ErrDeserialization)
	}
	m.Nonces = make([]uint256.Int, nNonces)
	for i := range m.Nonces {
		b, err := r.take(16)
		if err != nil {
			return Message{}, err
		}
		m.Nonces[i] = u128FromLE(b)
	}

	dataLen, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	instr, err := r.take(int(dataLen))
	if err != nil {
		return Message{}, err
	}
	m.InstructionData = append([]byte(nil), instr...)

	if r.remaining() != 0 {
		return Message{}, fmt.Errorf("%w: trailing bytes", ErrDeserialization)
	}
	return m, nil
}

// SigningDigest returns the Keccak-256 digest of the canonical message
// encoding. Signatures are produced and verified over this digest.
func (m *Message) SigningDigest() [32]byte {
	return keccak256(m.Encode())
}

// Witness is one (signature, public key) authorization pair.
type Witness struct {
	Signature Signature
	PublicKey PublicKey
}

// WitnessSet is the ordered sequence of authorization pairs of a public
// transaction, one per signer, paired positionally with the message
// nonces.
type WitnessSet struct {
	Witnesses []Witness
}

// NewWitnessSet signs the message with each key in order.
func NewWitnessSet(msg *Message, keys ...*PrivateKey) (WitnessSet, error) {
	digest := msg.SigningDigest()
	witnesses := make([]Witness, len(keys))
	for i, key := range keys {
		sig, err := key.signDigest(digest[:])
		if err != nil {
			return WitnessSet{}, fmt.Errorf("sign witness %d: %w", i, err)
		}
		witnesses[i] = Witness{
			Signature: sig,
			PublicKey: key.PublicKey(),
		}
	}
	return WitnessSet{Witnesses: witnesses}, nil
}

// Len returns the number of witnesses.
func (w *WitnessSet) Len() int {
	return len(w.Witnesses)
}

// PublicTransaction is an immutable signed transaction against the
// public account state.
type PublicTransaction struct {
	Message    Message
	WitnessSet WitnessSet
}

// NewPublicTransaction combines a message with its witness set.
func NewPublicTransaction(msg Message, witnessSet WitnessSet) *PublicTransaction {
	return &PublicTransaction{Message: msg, WitnessSet: witnessSet}
}

// SignerAddresses derives the address of each witness public key, in
// witness order.
func (tx *PublicTransaction) SignerAddresses() ([]types.Address, error) {
	addrs := make([]types.Address, len(tx.WitnessSet.Witnesses))
	for i, w := range tx.WitnessSet.Witnesses {
		addr, err := w.PublicKey.Address()
		if err != nil {
			return nil, fmt.Errorf("witness %d: %w", i, err)
		}
		addrs[i] = addr
	}
	return addrs, nil
}

// appendU32 appends a little-endian uint32.
func appendU32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

// appendU128 appends the 16-byte little-endian encoding of v.
func appendU128(dst []byte, v *uint256.Int) []byte {
	var tmp [16]byte
	binary.LittleEndian.PutUint64(tmp[0:8], v[0])
	binary.LittleEndian.PutUint64(tmp[8:16], v[1])
	return append(dst, tmp[:]...)
}

// u128FromLE decodes a 16-byte little-endian value.
func u128FromLE(b []byte) uint256.Int {
	return uint256.Int{
		binary.LittleEndian.Uint64(b[0:8]),
		binary.LittleEndian.Uint64(b[8:16]),
		0,
		0,
	}
}

// reader is a bounds-checked cursor over wire bytes.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

// take returns the next n bytes, failing on truncation.
func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, fmt.Errorf("%w: truncated input", ErrDeserialization)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// u32 reads a little-endian uint32.
func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// remaining returns the number of unread bytes.
func (r *reader) remaining() int {
	return len(r.data) - r.off
}
