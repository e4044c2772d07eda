package link

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Response is a GraphQL response: possibly partial data plus the full error list.
type Response struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Errors     gqlerror.List   `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// HasData reports whether the response carries a non-null data object.
func (r *Response) HasData() bool {
	return r != nil && len(r.Data) > 0 && string(r.Data) != "null"
}

// Stream delivers the results of one operation in arrival order.
// Request/response operations yield one result; subscriptions yield many.
// When Results is closed, Err reports why the stream ended (nil on completion).
type Stream struct {
	results chan *Response
	closed  chan struct{}
	stop    func()

	closeOnce  sync.Once
	finishOnce sync.Once
	mu         sync.Mutex
	err        error

	// emitMu keeps Finish from closing results while an Emit is sending.
	emitMu sync.Mutex
}

// Emitter is the producing side of a Stream, held by the link that feeds it.
type Emitter struct {
	s *Stream
}

// NewStream returns a stream and its emitter. stop runs once when the consumer
// closes the stream, and is how a link tears down server-side state.
func NewStream(buffer int, stop func()) (*Stream, *Emitter) {
	s := &Stream{
		results: make(chan *Response, buffer),
		closed:  make(chan struct{}),
		stop:    stop,
	}
	return s, &Emitter{s: s}
}

// Single returns a finished stream holding at most one response.
func Single(resp *Response, err error) *Stream {
	s, e := NewStream(1, nil)
	if resp != nil {
		e.s.results <- resp
	}
	e.Finish(err)
	return s
}

// Failed returns a finished stream that carries only err.
func Failed(err error) *Stream {
	return Single(nil, err)
}

// Results returns the channel of responses. It is closed when the stream ends.
func (s *Stream) Results() <-chan *Response {
	return s.results
}

// Err returns the terminal error once Results is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream. Producers stop emitting and the link's stop
// hook runs (for subscriptions this unsubscribes on the server).
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Done is closed when the consumer closes the stream.
func (s *Stream) Done() <-chan struct{} {
	return s.closed
}

// Next waits for the next response. ok is false once the stream has ended.
func (s *Stream) Next(ctx context.Context) (resp *Response, ok bool, err error) {
	select {
	case resp, ok = <-s.results:
		return resp, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Emit delivers resp unless the consumer closed the stream or ctx ended.
// It reports whether the response was delivered.
func (e *Emitter) Emit(ctx context.Context, resp *Response) bool {
	e.s.emitMu.Lock()
	defer e.s.emitMu.Unlock()
	select {
	case <-e.s.closed:
		return false
	default:
	}
	select {
	case e.s.results <- resp:
		return true
	case <-e.s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish ends the stream with err (nil for normal completion). Only the
// first call has any effect.
func (e *Emitter) Finish(err error) {
	e.s.finishOnce.Do(func() {
		e.s.emitMu.Lock()
		defer e.s.emitMu.Unlock()
		e.s.mu.Lock()
		e.s.err = err
		e.s.mu.Unlock()
		close(e.s.results)
	})
}

// Closed is closed when the consumer abandons the stream.
func (e *Emitter) Closed() <-chan struct{} {
	return e.s.closed
}

// Tap returns a stream that forwards inner's results after passing each one,
// and a terminal error if any, to the observers. Closing the returned stream
// closes inner.
func Tap(ctx context.Context, inner *Stream, onResponse func(*Response), onError func(error)) *Stream {
	out, emit := NewStream(cap(inner.results), inner.Close)
	go func() {
		for resp := range inner.Results() {
			if onResponse != nil {
				onResponse(resp)
			}
			if !emit.Emit(ctx, resp) {
				inner.Close()
				// Drain so the producer can finish.
				for range inner.Results() {
				}
				break
			}
		}
		err := inner.Err()
		if err != nil && onError != nil {
			onError(err)
		}
		emit.Finish(err)
	}()
	return out
}
