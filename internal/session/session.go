// Package session decides when the server has rejected the current
// credential and carries out the logout that follows.
//
// Classification (IsSessionInvalid) is pure. The effect (Invalidator) clears
// the stored credential and navigates to the login path, at most once per
// response however many errors that response carries.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/containerd/errdefs"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/logger"
)

// ErrSessionInvalid is the error class of an application error that ended the session.
var ErrSessionInvalid = fmt.Errorf("session invalid: %w", errdefs.ErrUnauthenticated)

var invalidMarkers = []string{"Unauthorized", "Authentication"}

// IsSessionInvalid reports whether err says the credential was rejected.
// Matching is a case-sensitive substring test on the message.
func IsSessionInvalid(err *gqlerror.Error) bool {
	if err == nil {
		return false
	}
	for _, m := range invalidMarkers {
		if strings.Contains(err.Message, m) {
			return true
		}
	}
	return false
}

// FirstInvalid returns the first session-invalid error in list, or nil.
func FirstInvalid(list gqlerror.List) *gqlerror.Error {
	for _, e := range list {
		if IsSessionInvalid(e) {
			return e
		}
	}
	return nil
}

// Credentials is the part of the credential source the invalidator needs.
type Credentials interface {
	Clear() error
}

// Navigator moves the user to another location of the application.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) {
	f(ctx, path)
}

// Reporter forwards errors to an external error tracker.
type Reporter interface {
	Report(ctx context.Context, err error, tags ...string)
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithReporter sends invalidations and transport failures to r.
func WithReporter(r Reporter) Option {
	return func(i *Invalidator) {
		i.reporter = r
	}
}

// OnInvalidate registers fn to run after each invalidation.
func OnInvalidate(fn func(ctx context.Context)) Option {
	return func(i *Invalidator) {
		i.hooks = append(i.hooks, fn)
	}
}

// Invalidator ends the session when the server rejects the credential.
type Invalidator struct {
	creds     Credentials
	nav       Navigator
	loginPath string
	reporter  Reporter
	hooks     []func(ctx context.Context)
	count     atomic.Int64
}

func NewInvalidator(creds Credentials, nav Navigator, loginPath string, opts ...Option) *Invalidator {
	i := &Invalidator{creds: creds, nav: nav, loginPath: loginPath}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// HandleErrors is a link.ErrorHandler. It is called once per response, so a
// response with several matching errors still invalidates only once.
func (i *Invalidator) HandleErrors(ctx context.Context, ev link.ErrorEvent) {
	if ev.NetworkError != nil {
		if i.reporter != nil {
			i.reporter.Report(ctx, ev.NetworkError, "network", "gql")
		}
		if cause := FirstInvalid(link.GraphQLErrors(ev.NetworkError)); cause != nil {
			i.Invalidate(ctx, cause)
		}
		return
	}
	if cause := FirstInvalid(ev.GraphQLErrors); cause != nil {
		i.Invalidate(ctx, cause)
	}
}

// Invalidate removes the credential and navigates to the login path.
func (i *Invalidator) Invalidate(ctx context.Context, cause *gqlerror.Error) {
	log := logger.WithComponent("session")
	log.Warnf("session invalid (%s), redirecting to %s", cause.Message, i.loginPath)

	if err := i.creds.Clear(); err != nil {
		log.Errorf("failed to remove credential: %v", err)
	}
	i.count.Add(1)
	if i.reporter != nil {
		i.reporter.Report(ctx, fmt.Errorf("%w: %s", ErrSessionInvalid, cause.Message), "session")
	}
	for _, fn := range i.hooks {
		fn(ctx)
	}
	if i.nav != nil {
		i.nav.Navigate(ctx, i.loginPath)
	}
}

// Count reports how many times the session was invalidated.
func (i *Invalidator) Count() int64 {
	return i.count.Load()
}

// LoginPath returns the navigation target used on invalidation.
func (i *Invalidator) LoginPath() string {
	return i.loginPath
}
