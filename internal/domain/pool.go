package domain

import (
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// PoolTokenPair is the two token mints of a newly created liquidity pool.
type PoolTokenPair struct {
	Token0 solanago.PublicKey `json:"token0"`
	Token1 solanago.PublicKey `json:"token1"`
}

// PoolEvent is one discovered pool with the transaction it came from.
// Corresponds to pool_events table in PostgreSQL and ClickHouse.
type PoolEvent struct {
	EventID    string             `json:"event_id"` // deterministic hash
	Signature  string             `json:"signature"`
	Slot       uint64             `json:"slot"`
	BlockTime  int64              `json:"block_time"` // Unix seconds, 0 if unknown
	Program    solanago.PublicKey `json:"program"`
	Schema     string             `json:"schema"`
	PairIndex  int                `json:"pair_index"` // position among the pairs of one transaction
	Token0     solanago.PublicKey `json:"token0"`
	Token1     solanago.PublicKey `json:"token1"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Pair returns the token pair carried by the event.
func (e PoolEvent) Pair() PoolTokenPair {
	return PoolTokenPair{Token0: e.Token0, Token1: e.Token1}
}
