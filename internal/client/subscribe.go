package client

import (
	"context"
	"sync"

	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/operation"
)

// Subscription delivers the events of a subscription operation in arrival
// order. Each event's data is also written to the cache.
type Subscription struct {
	stream  *link.Stream
	results chan *Result

	mu  sync.Mutex
	err error
}

// Subscribe opens a subscription over the streaming channel.
func (c *Client) Subscribe(ctx context.Context, op *operation.Operation) (*Subscription, error) {
	if op.Kind() != operation.KindSubscription {
		return nil, ErrNotSubscription
	}
	prepared, err := c.prepare(op)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		stream:  c.link.Request(ctx, prepared),
		results: make(chan *Result, 16),
	}
	c.metrics.SubscriptionOpened()
	go s.run(c, prepared)
	return s, nil
}

func (s *Subscription) run(c *Client, op *operation.Operation) {
	defer c.metrics.SubscriptionClosed()
	defer close(s.results)

	for resp := range s.stream.Results() {
		res := c.settle(op, resp, NetworkOnly)
		select {
		case s.results <- res:
		case <-s.stream.Done():
			for range s.stream.Results() {
			}
		}
	}

	s.mu.Lock()
	s.err = s.stream.Err()
	s.mu.Unlock()
}

// Results delivers events. It is closed when the subscription ends.
func (s *Subscription) Results() <-chan *Result {
	return s.results
}

// Err reports why the subscription ended once Results is closed: nil when
// the server completed it or it was closed locally.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. The server is told to stop sending events.
func (s *Subscription) Close() {
	s.stream.Close()
}
