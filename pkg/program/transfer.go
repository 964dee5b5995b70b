package program

import (
	"github.com/holiman/uint256"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/accounts"
)

// TransferID identifies the built-in authenticated transfer program.
var TransferID = types.DeriveProgramID([]byte("/NSSA/v0.1/Program/authenticated-transfer"))

// transferInstructionSize is a single unsigned 128-bit amount.
const transferInstructionSize = 16

// Transfer is the built-in authenticated transfer program. It moves an
// amount from a sender to a recipient:
//
//   - exactly two accounts: [0] sender, [1] recipient
//   - instruction data: the amount, 16 bytes little-endian
//   - the sender must be authorized and hold at least the amount
//
// Nonce, program owner and data pass through unchanged on both sides.
type Transfer struct{}

// NewTransfer creates the built-in transfer program.
func NewTransfer() Transfer {
	return Transfer{}
}

// ID returns the transfer program identifier.
func (Transfer) ID() types.ProgramID {
	return TransferID
}

// Execute moves the instruction amount from pre[0] to pre[1].
func (Transfer) Execute(pre []accounts.AccountWithMetadata, instructionData []byte) ([]accounts.Account, error) {
	if len(pre) != 2 {
		return nil, ErrWrongAccountCount
	}
	if len(instructionData) != transferInstructionSize {
		return nil, ErrBadInstructionData
	}
	amount, err := accounts.ReadU128(instructionData)
	if err != nil {
		return nil, ErrBadInstructionData
	}

	sender := pre[0]
	recipient := pre[1]

	if !sender.IsAuthorized {
		return nil, ErrNotAuthorized
	}
	if sender.Account.Balance.Lt(&amount) {
		return nil, ErrInsufficientBalance
	}

	senderPost := sender.Account.Clone()
	recipientPost := recipient.Account.Clone()

	senderPost.Balance.Sub(&senderPost.Balance, &amount)

	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&recipientPost.Balance, &amount); overflow || !accounts.FitsU128(&sum) {
		return nil, ErrBalanceOverflow
	}
	recipientPost.Balance = sum

	return []accounts.Account{senderPost, recipientPost}, nil
}

// Verify that Transfer implements Program.
var _ Program = Transfer{}
