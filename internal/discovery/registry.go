package discovery

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/solana"
)

// Registry maps program IDs to the schema that decodes their instructions.
// Register everything before sharing the registry between goroutines.
type Registry struct {
	schemas map[solanago.PublicKey]Schema
}

// NewRegistry creates a registry with the default schemas registered.
func NewRegistry() *Registry {
	r := &Registry{
		schemas: make(map[solanago.PublicKey]Schema),
	}
	r.Register(RaydiumAMMV4Layout)
	return r
}

// Register adds or replaces the schema for its program.
func (r *Registry) Register(s Schema) {
	r.schemas[s.Program()] = s
}

// Schema returns the schema registered for program.
func (r *Registry) Schema(program solanago.PublicKey) (Schema, bool) {
	s, ok := r.schemas[program]
	return s, ok
}

// Extract returns one pair per top-level instruction issued to program, in
// transaction order. If any of those instructions is malformed the whole
// transaction is rejected and no pairs are returned.
func (r *Registry) Extract(tx *solana.Transaction, program solanago.PublicKey) ([]domain.PoolTokenPair, error) {
	schema, ok := r.schemas[program]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, program)
	}

	var pairs []domain.PoolTokenPair
	for i, ix := range tx.Instructions() {
		if !ix.ProgramID.Equals(program) {
			continue
		}
		pair, err := schema.Decode(ix)
		if err != nil {
			var malformed *MalformedInstructionError
			if errors.As(err, &malformed) {
				malformed.Index = i
			}
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// MatchLogs reports whether logs look like a pool creation for program.
// Programs whose schema cannot judge from logs always match.
func (r *Registry) MatchLogs(program solanago.PublicKey, logs []string) bool {
	m, ok := r.schemas[program].(LogMatcher)
	if !ok {
		return true
	}
	return m.MatchLogs(logs)
}
