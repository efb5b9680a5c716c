package storage

import (
	"errors"

	"solana-pool-watch/internal/domain"
)

// Storage errors for append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidateEvents checks the fields every store keys on before anything is written.
func ValidateEvents(events []domain.PoolEvent) error {
	for _, e := range events {
		if e.EventID == "" || e.Signature == "" {
			return ErrInvalidInput
		}
	}
	return nil
}
