package client

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
)

// Watch is a long-lived query. It emits the cached answer and network
// answers according to its fetch policy, follows later cache writes, and
// refetches on demand or on its poll interval.
type Watch struct {
	client  *Client
	op      *operation.Operation
	opts    queryOptions
	results chan *Result
	refetch chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	last    []byte

	changes     <-chan struct{}
	unsubscribe func()
}

// Watch starts watching op. It stops when ctx ends or Close is called.
func (c *Client) Watch(ctx context.Context, op *operation.Operation, opts ...QueryOption) (*Watch, error) {
	prepared, err := c.prepare(op)
	if err != nil {
		return nil, err
	}
	w := &Watch{
		client:  c,
		op:      prepared,
		opts:    resolve(c.watchPolicy, opts),
		results: make(chan *Result, 4),
		refetch: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// Follow the cache from now on so no write between here and the first
	// read is missed.
	if w.opts.policy != NoCache {
		w.changes, w.unsubscribe = c.cache.Changes()
	}
	go w.run(ctx)
	return w, nil
}

// Results delivers answers in order. It is closed when the watch stops.
func (w *Watch) Results() <-chan *Result {
	return w.results
}

// Refetch asks for a network round trip. Requests made while one is
// pending coalesce.
func (w *Watch) Refetch() {
	select {
	case w.refetch <- struct{}{}:
	default:
	}
}

// Close stops the watch and waits for it to finish.
func (w *Watch) Close() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watch) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.results)
	log := logger.WithComponent("gql")

	// Close must not wait for an in-flight fetch.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := w.opts.policy

	if w.unsubscribe != nil {
		defer w.unsubscribe()
	}

	var tick <-chan time.Time
	if w.opts.pollInterval > 0 {
		log.Debugf("polling %s every %v", w.op.Name(), w.opts.pollInterval)
		ticker := time.NewTicker(w.opts.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	network := policy != CacheOnly
	if policy.readsCache() {
		if res, err := w.client.readCache(w.op, true); err == nil {
			if !w.emit(ctx, res) {
				return
			}
			network = policy == CacheAndNetwork
		}
	}
	if network && !w.fetch(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debugf("watch %s stopped: %v", w.op.Name(), ctx.Err())
			return
		case <-w.stop:
			return
		case <-tick:
			log.Tracef("poll tick for %s", w.op.Name())
			if !w.fetch(ctx) {
				return
			}
		case <-w.refetch:
			if !w.fetch(ctx) {
				return
			}
		case <-w.changes:
			res, err := w.client.readCache(w.op, false)
			if err != nil {
				continue
			}
			if !w.emit(ctx, res) {
				return
			}
		}
	}
}

// fetch runs one network round trip and emits its answer or failure.
func (w *Watch) fetch(ctx context.Context) bool {
	policy := NetworkOnly
	if w.opts.policy == NoCache {
		policy = NoCache
	}
	res, err := w.client.fetch(ctx, w.op, policy)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		res = &Result{Source: SourceNetwork, Err: err}
	}
	return w.emit(ctx, res)
}

// emit delivers res unless it repeats the last cached answer. It reports
// false once the watch should stop.
func (w *Watch) emit(ctx context.Context, res *Result) bool {
	if res.Source == SourceCache && res.Err == nil && w.last != nil && bytes.Equal(res.Data, w.last) {
		return true
	}
	if res.Err == nil {
		w.last = res.Data
	}
	select {
	case w.results <- res:
		return true
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	}
}
