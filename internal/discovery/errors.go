package discovery

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

var (
	// ErrMalformedInstruction is returned when an instruction of the watched
	// program does not have the account layout its schema expects.
	ErrMalformedInstruction = errors.New("malformed instruction")

	// ErrUnknownProgram is returned when no schema is registered for a program.
	ErrUnknownProgram = errors.New("no schema registered for program")
)

// MalformedInstructionError describes the offending instruction.
type MalformedInstructionError struct {
	Program  solanago.PublicKey
	Index    int // position of the instruction in the transaction
	Accounts int
	Required int
}

func (e *MalformedInstructionError) Error() string {
	return fmt.Sprintf("malformed instruction %d for %s: %d accounts, need at least %d",
		e.Index, e.Program, e.Accounts, e.Required)
}

func (e *MalformedInstructionError) Unwrap() error {
	return ErrMalformedInstruction
}
