// Package client is the GraphQL client facade: one entry point that sends
// operations through the transport pipeline and keeps the normalized cache.
//
// Error policy is "all" everywhere: a Result carries whatever data the server
// produced together with every application error. Only transport failures
// come back as a Go error.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/bassista/go_learn/internal/cache"
	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/metric"
	"github.com/bassista/go_learn/internal/operation"
)

// Source tells where a result came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result is one answer to an operation.
type Result struct {
	Data   json.RawMessage `json:"data"`
	Errors gqlerror.List   `json:"errors,omitempty"`
	Source Source          `json:"-"`

	// Err is set on watch and subscription results when the transport failed.
	Err error `json:"-"`
}

// Decode unmarshals the data into v. Null data leaves v untouched.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Pipeline composes the transports the way the facade uses them: errors are
// observed on every response, subscriptions stream, everything else goes
// through the auth decorator to the request/response link.
func Pipeline(request, stream link.Link, tokens link.TokenSource, onError link.ErrorHandler, extra ...link.Middleware) link.Link {
	routed := link.Split(stream, link.Chain(request, link.AuthLink(tokens)))
	mws := append([]link.Middleware{link.ErrorLink(onError)}, extra...)
	return link.Chain(routed, mws...)
}

// Option configures a Client.
type Option func(*Client)

// WithWatchPolicy sets the default fetch policy of Watch.
func WithWatchPolicy(p FetchPolicy) Option {
	return func(c *Client) {
		c.watchPolicy = p
	}
}

// WithQueryPolicy sets the default fetch policy of Query.
func WithQueryPolicy(p FetchPolicy) Option {
	return func(c *Client) {
		c.queryPolicy = p
	}
}

// WithMetrics records cache reads and subscriptions in m.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is the facade. The cache it owns lives as long as the client.
type Client struct {
	link        link.Link
	cache       *cache.Store
	watchPolicy FetchPolicy
	queryPolicy FetchPolicy
	metrics     *metric.Metrics
}

// New returns a facade over l. A nil store gets a fresh cache with the
// default policies.
func New(l link.Link, store *cache.Store, opts ...Option) *Client {
	if store == nil {
		store = cache.NewStore(nil)
	}
	c := &Client{
		link:        l,
		cache:       store,
		watchPolicy: DefaultWatchPolicy,
		queryPolicy: DefaultQueryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the facade's cache.
func (c *Client) Cache() *cache.Store {
	return c.cache
}

// QueryOption adjusts one Query or Watch call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	policy       FetchPolicy
	pollInterval time.Duration
}

// WithFetchPolicy overrides the default fetch policy.
func WithFetchPolicy(p FetchPolicy) QueryOption {
	return func(o *queryOptions) {
		o.policy = p
	}
}

// WithPollInterval makes a watch refetch from the network every d.
func WithPollInterval(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.pollInterval = d
	}
}

func resolve(policy FetchPolicy, opts []QueryOption) queryOptions {
	o := queryOptions{policy: policy}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare adds __typename selections so results can be normalized.
func (c *Client) prepare(op *operation.Operation) (*operation.Operation, error) {
	return op.WithTypename()
}

// Query runs op once. With cache-first (the default) the network is only
// used when the cache cannot answer completely; cache-and-network behaves
// like network-only for a single answer.
func (c *Client) Query(ctx context.Context, op *operation.Operation, opts ...QueryOption) (*Result, error) {
	o := resolve(c.queryPolicy, opts)
	prepared, err := c.prepare(op)
	if err != nil {
		return nil, err
	}

	if o.policy == CacheFirst || o.policy == CacheOnly {
		res, err := c.readCache(prepared, true)
		if err == nil {
			return res, nil
		}
		if o.policy == CacheOnly {
			return nil, err
		}
	}
	return c.fetch(ctx, prepared, o.policy)
}

// Mutate sends op to the network and writes its result to the cache.
func (c *Client) Mutate(ctx context.Context, op *operation.Operation) (*Result, error) {
	prepared, err := c.prepare(op)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, prepared, NetworkOnly)
}

func (c *Client) readCache(op *operation.Operation, count bool) (*Result, error) {
	data, err := c.cache.Read(op)
	if count {
		c.metrics.CacheRead(err == nil)
	}
	if err != nil {
		logger.WithComponent("gql").Tracef("%s not answered by cache: %v", op.Name(), err)
		return nil, err
	}
	return &Result{Data: data, Source: SourceCache}, nil
}

// fetch sends op and waits for its single response.
func (c *Client) fetch(ctx context.Context, op *operation.Operation, policy FetchPolicy) (*Result, error) {
	s := c.link.Request(ctx, op)
	defer s.Close()

	resp, ok, err := s.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, &link.TransportError{Operation: op.Name(), Err: errors.New("no response")}
	}
	return c.settle(op, resp, policy), nil
}

// settle writes resp to the cache and, for queries, answers from the cache
// so merged pages are visible to the caller.
func (c *Client) settle(op *operation.Operation, resp *link.Response, policy FetchPolicy) *Result {
	res := &Result{Data: resp.Data, Errors: resp.Errors, Source: SourceNetwork}
	if !policy.writesCache() || !resp.HasData() {
		return res
	}
	if err := c.cache.Write(op, resp.Data); err != nil {
		logger.WithComponent("cache").Warnf("cache write for %s failed: %v", op.Name(), err)
		return res
	}
	if op.Kind() == operation.KindQuery {
		if data, err := c.cache.Read(op); err == nil {
			res.Data = data
		}
	}
	return res
}

// ErrNotSubscription is returned when Subscribe gets a query or mutation.
var ErrNotSubscription = fmt.Errorf("operation is not a subscription: %w", errdefs.ErrInvalidArgument)
