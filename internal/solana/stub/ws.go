package stub

import (
	"context"
	"sync"

	"solana-pool-watch/internal/solana"
)

// WSClient implements solana.WSClient by replaying a fixed list of
// notifications and closing the channel afterwards.
type WSClient struct {
	Notifications []solana.LogNotification
	// SubscribeErr, when set, is returned by SubscribeLogs.
	SubscribeErr error

	mu      sync.Mutex
	filters []solana.LogsFilter
	closed  bool
}

// SubscribeLogs records the filter and streams the configured notifications.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter solana.LogsFilter) (*solana.Subscription, error) {
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	c.mu.Unlock()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}

	ch := make(chan solana.LogNotification)
	go func() {
		defer close(ch)
		for _, n := range c.Notifications {
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return solana.NewSubscription(1, filter, ch), nil
}

// Unsubscribe is a no-op.
func (c *WSClient) Unsubscribe(_ context.Context, _ *solana.Subscription) error {
	return nil
}

// Close marks the client closed.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *WSClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Filters returns the filters passed to SubscribeLogs.
func (c *WSClient) Filters() []solana.LogsFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]solana.LogsFilter(nil), c.filters...)
}
