package discovery

import (
	"fmt"
	"strings"

	solanago "github.com/gagliardetto/solana-go"

	"solana-pool-watch/internal/domain"
	"solana-pool-watch/internal/solana"
)

// Known DEX program IDs.
var (
	// RaydiumAMMV4 is the Raydium AMM v4 program ID.
	RaydiumAMMV4 = solanago.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
)

// RaydiumAMMV4Layout reads the coin and pc mints of initialize2.
var RaydiumAMMV4Layout = AccountLayout{
	ProgramID:   RaydiumAMMV4,
	Label:       "raydium-amm-v4",
	Version:     4,
	Token0Index: 8,
	Token1Index: 9,
	LogMarker:   "initialize2",
}

// Schema decodes the pool token pair out of one instruction of its program.
type Schema interface {
	Program() solanago.PublicKey
	Name() string
	Decode(ix solana.Instruction) (domain.PoolTokenPair, error)
}

// LogMatcher is implemented by schemas that can tell from log lines alone
// whether a transaction is worth resolving.
type LogMatcher interface {
	MatchLogs(logs []string) bool
}

// AccountLayout is a Schema that reads both mints at fixed positions of the
// instruction's account list.
type AccountLayout struct {
	ProgramID   solanago.PublicKey
	Label       string
	Version     int
	Token0Index int
	Token1Index int
	// LogMarker, if set, is a substring of the log line the program emits
	// when it creates a pool.
	LogMarker string
}

func (l AccountLayout) Program() solanago.PublicKey { return l.ProgramID }

func (l AccountLayout) Name() string {
	return fmt.Sprintf("%s/v%d", l.Label, l.Version)
}

// MinAccounts is the shortest account list the layout can decode.
func (l AccountLayout) MinAccounts() int {
	return max(l.Token0Index, l.Token1Index) + 1
}

// Decode never indexes past the account list; short lists are reported as
// MalformedInstructionError with Index left for the caller to fill in.
func (l AccountLayout) Decode(ix solana.Instruction) (domain.PoolTokenPair, error) {
	if len(ix.Accounts) < l.MinAccounts() {
		return domain.PoolTokenPair{}, &MalformedInstructionError{
			Program:  l.ProgramID,
			Accounts: len(ix.Accounts),
			Required: l.MinAccounts(),
		}
	}
	return domain.PoolTokenPair{
		Token0: ix.Accounts[l.Token0Index],
		Token1: ix.Accounts[l.Token1Index],
	}, nil
}

func (l AccountLayout) MatchLogs(logs []string) bool {
	if l.LogMarker == "" {
		return true
	}
	for _, line := range logs {
		if strings.Contains(line, l.LogMarker) {
			return true
		}
	}
	return false
}
