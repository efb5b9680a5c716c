package ingestion

import "errors"

var (
	// ErrFailedTransaction is returned for transactions that executed with an error.
	ErrFailedTransaction = errors.New("transaction failed on chain")

	// ErrReport wraps reporter failures; the pools were still extracted.
	ErrReport = errors.New("report pools")
)
