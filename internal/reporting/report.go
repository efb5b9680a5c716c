package reporting

import "time"

// Summary describes the pools stored for a slot range.
type Summary struct {
	GeneratedAt time.Time
	FromSlot    uint64
	ToSlot      uint64

	TotalPools        int
	TotalTransactions int
	FirstSlot         uint64 // lowest slot with a pool, 0 if none
	LastSlot          uint64

	// Sorted by pools descending, then schema.
	BySchema []SchemaCountRow

	// Mints that appear in more than one pool, sorted by pools descending, then mint.
	RecurringTokens []TokenCountRow

	// Sorted by slot, signature and pair_index.
	Pools []PoolRow
}

// SchemaCountRow counts pools per program schema.
type SchemaCountRow struct {
	Schema string
	Pools  int
}

// TokenCountRow counts the pools a mint appears in.
type TokenCountRow struct {
	Mint  string
	Pools int
}

// PoolRow is one stored pool.
type PoolRow struct {
	Slot      uint64
	Signature string
	PairIndex int
	Schema    string
	Token0    string
	Token1    string
	EventID   string
}
