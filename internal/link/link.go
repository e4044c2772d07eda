// Package link composes the transport pipeline of the GraphQL client.
//
// A Link takes an operation and returns a Stream of responses. Links are
// combined the way the client wires them:
//
//	ErrorLink -> Split(subscription? streaming link : AuthLink -> HTTPLink)
//
// Every operation travels down exactly one branch of the split.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
	"github.com/containerd/errdefs"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Link executes operations.
type Link interface {
	Request(ctx context.Context, op *operation.Operation) *Stream
}

// Func adapts a function to the Link interface.
type Func func(ctx context.Context, op *operation.Operation) *Stream

func (f Func) Request(ctx context.Context, op *operation.Operation) *Stream {
	return f(ctx, op)
}

// Middleware decorates a link.
type Middleware func(next Link) Link

// Chain wraps terminal with mws; the first middleware sees operations first.
func Chain(terminal Link, mws ...Middleware) Link {
	l := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		l = mws[i](l)
	}
	return l
}

// Channel identifies one of the two transports.
type Channel string

const (
	ChannelRequest Channel = "request"
	ChannelStream  Channel = "stream"
)

// Route selects the channel for op: subscriptions stream, everything else is
// request/response.
func Route(op *operation.Operation) Channel {
	if op.Kind() == operation.KindSubscription {
		return ChannelStream
	}
	return ChannelRequest
}

// Split sends each operation to stream or request according to Route.
func Split(stream, request Link) Link {
	return Func(func(ctx context.Context, op *operation.Operation) *Stream {
		if Route(op) == ChannelStream {
			return stream.Request(ctx, op)
		}
		return request.Request(ctx, op)
	})
}

// TokenSource yields the current bearer token, if any.
type TokenSource interface {
	Token() (string, bool)
}

// Authorize returns a copy of headers carrying "Authorization: Bearer <token>"
// when ok; otherwise the copy is unchanged.
func Authorize(headers http.Header, token string, ok bool) http.Header {
	out := headers.Clone()
	if out == nil {
		out = http.Header{}
	}
	if ok {
		out.Set("Authorization", "Bearer "+token)
	}
	return out
}

// AuthLink attaches the credential read from tokens to every operation it sees.
// The token is read per operation, never cached.
func AuthLink(tokens TokenSource) Middleware {
	return func(next Link) Link {
		return Func(func(ctx context.Context, op *operation.Operation) *Stream {
			token, ok := tokens.Token()
			return next.Request(ctx, op.WithHeaders(Authorize(op.Headers, token, ok)))
		})
	}
}

// ErrorEvent describes the errors observed on one response or stream end.
// Exactly one of GraphQLErrors and NetworkError is set.
type ErrorEvent struct {
	Operation     *operation.Operation
	GraphQLErrors gqlerror.List
	NetworkError  error
}

// ErrorHandler reacts to observed errors. It must not alter the response.
type ErrorHandler func(ctx context.Context, ev ErrorEvent)

// ErrorLink logs application and transport errors and hands them to handler.
// Responses pass through untouched: callers still get data and all errors.
func ErrorLink(handler ErrorHandler) Middleware {
	log := logger.WithComponent("gql")
	return func(next Link) Link {
		return Func(func(ctx context.Context, op *operation.Operation) *Stream {
			inner := next.Request(ctx, op)
			return Tap(ctx, inner,
				func(resp *Response) {
					if len(resp.Errors) == 0 {
						return
					}
					for _, e := range resp.Errors {
						log.Errorf("[GraphQL error]: Message: %s, Location: %v, Path: %v", e.Message, e.Locations, e.Path)
					}
					if handler != nil {
						handler(ctx, ErrorEvent{Operation: op, GraphQLErrors: resp.Errors})
					}
				},
				func(err error) {
					log.Errorf("[Network error]: %v", err)
					if handler != nil {
						handler(ctx, ErrorEvent{Operation: op, NetworkError: err})
					}
				},
			)
		})
	}
}

// TransportError means no usable response was received.
type TransportError struct {
	Operation  string
	StatusCode int    // 0 when no HTTP response was received
	Body       string // truncated response body for non-2xx answers
	// Errors holds the GraphQL errors of a non-2xx answer whose body is a
	// GraphQL envelope.
	Errors gqlerror.List
	Err    error
}

func (e *TransportError) Error() string {
	name := e.Operation
	if name == "" {
		name = "anonymous operation"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server responded with status %d: %v", name, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

// Unwrap exposes both the cause and the errdefs class.
func (e *TransportError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// GraphQLErrors returns the GraphQL errors carried by a TransportError in err.
func GraphQLErrors(err error) gqlerror.List {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Errors
	}
	return nil
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
