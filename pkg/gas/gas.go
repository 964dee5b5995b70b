// Package gas implements the pure cost model converting bytecode and
// input sizes into gas amounts and balance charges.
//
// The calculator only computes amounts; debiting the payer's balance is
// the caller's responsibility. All arithmetic is checked: a product or
// sum that would wrap uint64 is reported as over the limit rather than
// silently truncated, since a wrapped fee would corrupt charging.
package gas

import (
	"errors"
	"math/bits"
)

// ErrOverLimit is returned when a computed gas amount reaches the
// configured limit. The operation must be refused outright, never
// charged a truncated amount.
var ErrOverLimit = errors.New("gas over limit")

// Params are the seven rates and limits of the cost model.
type Params struct {
	// FeePerByteDeploy is the gas charged per deployed bytecode byte.
	FeePerByteDeploy uint64

	// FeePerByteRuntime is the gas charged per bytecode byte at runtime.
	FeePerByteRuntime uint64

	// FeePerInputByte is the gas charged per input buffer byte at runtime.
	FeePerInputByte uint64

	// CostPerGasDeploy converts deployment gas into a balance charge.
	CostPerGasDeploy uint64

	// CostPerGasRuntime converts runtime gas into a balance charge.
	CostPerGasRuntime uint64

	// LimitDeploy is the exclusive upper bound on deployment gas.
	LimitDeploy uint64

	// LimitRuntime is the exclusive upper bound on runtime gas.
	LimitRuntime uint64
}

// DefaultParams returns a conservative default cost model.
func DefaultParams() Params {
	return Params{
		FeePerByteDeploy:  10,
		FeePerByteRuntime: 1,
		FeePerInputByte:   1,
		CostPerGasDeploy:  100,
		CostPerGasRuntime: 10,
		LimitDeploy:       100_000_000,
		LimitRuntime:      10_000_000,
	}
}

// Calculator is a stateless cost model instance.
type Calculator struct {
	params Params
}

// New creates a calculator with the given parameters.
func New(params Params) *Calculator {
	return &Calculator{params: params}
}

// Params returns the configured rates and limits.
func (c *Calculator) Params() Params {
	return c.params
}

// Deploy computes the gas to deploy bytecode. The amount must be
// strictly below the deploy limit; otherwise ErrOverLimit.
func (c *Calculator) Deploy(bytecode []byte) (uint64, error) {
	g, err := mul(uint64(len(bytecode)), c.params.FeePerByteDeploy)
	if err != nil {
		return 0, err
	}
	if g >= c.params.LimitDeploy {
		return 0, ErrOverLimit
	}
	return g, nil
}

// RuntimeFull computes the gas to run bytecode over an input buffer of
// inputLen bytes. The amount must be strictly below the runtime limit;
// otherwise ErrOverLimit.
func (c *Calculator) RuntimeFull(bytecode []byte, inputLen int) (uint64, error) {
	bytecodeGas, err := mul(uint64(len(bytecode)), c.params.FeePerByteRuntime)
	if err != nil {
		return 0, err
	}
	inputGas, err := mul(uint64(inputLen), c.params.FeePerInputByte)
	if err != nil {
		return 0, err
	}
	g, err := add(bytecodeGas, inputGas)
	if err != nil {
		return 0, err
	}
	if g >= c.params.LimitRuntime {
		return 0, ErrOverLimit
	}
	return g, nil
}

// DeployCost converts deployment gas into a balance charge.
func (c *Calculator) DeployCost(deployGas uint64) (uint64, error) {
	return mul(deployGas, c.params.CostPerGasDeploy)
}

// RuntimeCost converts runtime gas into a balance charge.
func (c *Calculator) RuntimeCost(runtimeGas uint64) (uint64, error) {
	return mul(runtimeGas, c.params.CostPerGasRuntime)
}

// mul is checked uint64 multiplication.
func mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverLimit
	}
	return lo, nil
}

// add is checked uint64 addition.
func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverLimit
	}
	return sum, nil
}
