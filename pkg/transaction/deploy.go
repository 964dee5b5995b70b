package transaction

import (
	"bytes"
	"fmt"
)

// MaxBytecodeSize bounds deployed program images. Decoding refuses
// larger declared lengths before allocating.
const MaxBytecodeSize = 16 * 1024 * 1024

// ProgramDeployment is a request to register new executable bytecode.
// The bytecode itself is executed and proved inside the external
// zero-knowledge VM; the ledger core only carries and identifies it.
type ProgramDeployment struct {
	// Bytecode is the program image to deploy.
	Bytecode []byte
}

// NewProgramDeployment constructs a deployment message.
func NewProgramDeployment(bytecode []byte) ProgramDeployment {
	return ProgramDeployment{Bytecode: bytecode}
}

// Encode serializes the deployment into its wire layout:
//
//	PREFIX (22) || bytecode_len (4, LE) || bytecode
//
// The fixed prefix domain-separates deployment bytes from every other
// signed message kind.
func (d ProgramDeployment) Encode() []byte {
	buf := make([]byte, 0, prefixLen+4+len(d.Bytecode))
	buf = append(buf, deployPrefix...)
	buf = appendU32(buf, uint32(len(d.Bytecode)))
	buf = append(buf, d.Bytecode...)
	return buf
}

// DecodeProgramDeployment parses deployment wire bytes. Decoding fails
// on prefix mismatch, on fewer bytes than the declared length, and on
// trailing bytes; truncation is never silently accepted.
func DecodeProgramDeployment(data []byte) (ProgramDeployment, error) {
	r := newReader(data)

	prefix, err := r.take(prefixLen)
	if err != nil {
		return ProgramDeployment{}, err
	}
	if !bytes.Equal(prefix, deployPrefix) {
		return ProgramDeployment{}, fmt.Errorf("%w: invalid deployment prefix", ErrDeserialization)
	}

	length, err := r.u32()
	if err != nil {
		return ProgramDeployment{}, err
	}
	if length > MaxBytecodeSize {
		return ProgramDeployment{}, fmt.Errorf("%w: declared bytecode length %d too large", ErrDeserialization, length)
	}

	bytecode, err := r.take(int(length))
	if err != nil {
		return ProgramDeployment{}, err
	}
	if r.remaining() != 0 {
		return ProgramDeployment{}, fmt.Errorf("%w: trailing bytes", ErrDeserialization)
	}

	return ProgramDeployment{Bytecode: append([]byte(nil), bytecode...)}, nil
}
