package solana

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs opens a logs subscription and returns its handle.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*Subscription, error)

	// Unsubscribe cancels a subscription previously returned by SubscribeLogs.
	Unsubscribe(ctx context.Context, sub *Subscription) error

	// Close closes the WebSocket connection and all subscription channels.
	Close() error
}

// Commitment is the confirmation level a node must reach before emitting data.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment validates a commitment level name.
func ParseCommitment(s string) (Commitment, error) {
	switch c := Commitment(s); c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	case "":
		return CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("unknown commitment %q", s)
	}
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
	// Commitment defaults to finalized when empty.
	Commitment Commitment
}

func (f LogsFilter) params() []interface{} {
	mentions := make(map[string]interface{})
	if len(f.Mentions) > 0 {
		mentions["mentions"] = f.Mentions
	} else {
		mentions["all"] = nil
	}
	return []interface{}{mentions, map[string]string{"commitment": string(f.commitment())}}
}

func (f LogsFilter) commitment() Commitment {
	if f.Commitment == "" {
		return CommitmentFinalized
	}
	return f.Commitment
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      uint64
	Logs      []string
	Err       interface{}
}

// Subscription is the handle of an active logs subscription.
// The server-side id may change after a transparent resubscribe.
type Subscription struct {
	id     atomic.Uint64
	filter LogsFilter
	ch     chan LogNotification

	stop     chan struct{}
	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewSubscription builds a handle around an existing notification channel.
func NewSubscription(id uint64, filter LogsFilter, ch chan LogNotification) *Subscription {
	s := &Subscription{filter: filter, ch: ch, stop: make(chan struct{})}
	s.id.Store(id)
	return s
}

func (s *Subscription) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Fail ends the subscription with err. Only the first terminal error is kept.
func (s *Subscription) Fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.cancel()
}

// Done is closed once the subscription has ended, either by Unsubscribe or
// because the node refused to restore it after a reconnect.
func (s *Subscription) Done() <-chan struct{} {
	return s.stop
}

// Err returns the terminal error, or nil while the subscription is live or
// after a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// ID returns the current server-side subscription id.
func (s *Subscription) ID() uint64 {
	return s.id.Load()
}

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() LogsFilter {
	return s.filter
}

// Notifications yields log notifications until the client is closed or the
// subscription is cancelled.
func (s *Subscription) Notifications() <-chan LogNotification {
	return s.ch
}
