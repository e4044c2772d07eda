package session

import (
	"context"
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/bassista/go_learn/internal/credential"
	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/operation"
)

type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Navigate(ctx context.Context, path string) {
	m.Called(ctx, path)
}

type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, err error, tags ...string) {
	m.Called(ctx, err, tags)
}

type failingCredentials struct{}

func (failingCredentials) Clear() error { return errors.New("disk full") }

func TestIsSessionInvalid(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Unauthorized: token expired", true},
		{"Authentication required", true},
		{"Not found", false},
		{"unauthorized", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSessionInvalid(&gqlerror.Error{Message: tt.message}))
		})
	}
	assert.False(t, IsSessionInvalid(nil))
}

func TestFirstInvalid(t *testing.T) {
	list := gqlerror.List{
		{Message: "Not found"},
		{Message: "Unauthorized: token expired"},
		{Message: "Authentication required"},
	}
	assert.Equal(t, "Unauthorized: token expired", FirstInvalid(list).Message)
	assert.Nil(t, FirstInvalid(gqlerror.List{{Message: "Not found"}}))
	assert.Nil(t, FirstInvalid(nil))
}

func newSource(t *testing.T) *credential.Source {
	t.Helper()
	src := credential.NewSource(credential.NewMemoryStore(), "authToken")
	require.NoError(t, src.Save("tok"))
	return src
}

func TestHandleErrors_InvalidatesOncePerResponse(t *testing.T) {
	src := newSource(t)
	nav := &MockNavigator{}
	nav.On("Navigate", mock.Anything, "/auth/login").Once()

	inv := NewInvalidator(src, nav, "/auth/login")
	inv.HandleErrors(context.Background(), link.ErrorEvent{GraphQLErrors: gqlerror.List{
		{Message: "Unauthorized: token expired"},
		{Message: "Authentication failed"},
	}})

	_, ok := src.Token()
	assert.False(t, ok)
	assert.Equal(t, int64(1), inv.Count())
	nav.AssertExpectations(t)
}

func TestHandleErrors_IgnoresOtherErrors(t *testing.T) {
	src := newSource(t)
	nav := &MockNavigator{}

	inv := NewInvalidator(src, nav, "/auth/login")
	inv.HandleErrors(context.Background(), link.ErrorEvent{GraphQLErrors: gqlerror.List{{Message: "Course not found"}}})

	token, ok := src.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
	assert.Zero(t, inv.Count())
	nav.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestHandleErrors_NetworkErrorOnlyReported(t *testing.T) {
	src := newSource(t)
	nav := &MockNavigator{}
	rep := &MockReporter{}
	netErr := &link.TransportError{Operation: "Courses", Err: errors.New("connection refused")}
	rep.On("Report", mock.Anything, netErr, []string{"network", "gql"}).Once()

	inv := NewInvalidator(src, nav, "/auth/login", WithReporter(rep))
	inv.HandleErrors(context.Background(), link.ErrorEvent{NetworkError: netErr})

	_, ok := src.Token()
	assert.True(t, ok)
	nav.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
	rep.AssertExpectations(t)
}

func TestHandleErrors_NetworkErrorWithEnvelopeInvalidates(t *testing.T) {
	src := newSource(t)
	nav := &MockNavigator{}
	nav.On("Navigate", mock.Anything, "/auth/login").Once()
	netErr := &link.TransportError{
		Operation:  "Me",
		StatusCode: 401,
		Errors:     gqlerror.List{{Message: "Unauthorized"}},
		Err:        errors.New("Unauthorized"),
	}

	inv := NewInvalidator(src, nav, "/auth/login")
	inv.HandleErrors(context.Background(), link.ErrorEvent{NetworkError: netErr})

	_, ok := src.Token()
	assert.False(t, ok)
	assert.Equal(t, int64(1), inv.Count())
	nav.AssertExpectations(t)
}

func TestInvalidate_ReportsAndRunsHooks(t *testing.T) {
	src := newSource(t)
	nav := NewPendingNavigator()
	rep := &MockReporter{}
	rep.On("Report", mock.Anything, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrSessionInvalid) && errdefs.IsUnauthorized(err)
	}), []string{"session"}).Once()

	hooked := 0
	inv := NewInvalidator(src, nav, "/auth/login", WithReporter(rep), OnInvalidate(func(context.Context) { hooked++ }))
	inv.Invalidate(context.Background(), &gqlerror.Error{Message: "Unauthorized"})

	assert.Equal(t, 1, hooked)
	path, ok := nav.Pending()
	assert.True(t, ok)
	assert.Equal(t, "/auth/login", path)
	rep.AssertExpectations(t)
}

func TestInvalidate_NavigatesEvenWhenClearFails(t *testing.T) {
	nav := &MockNavigator{}
	nav.On("Navigate", mock.Anything, "/auth/login").Once()

	inv := NewInvalidator(failingCredentials{}, nav, "/auth/login")
	inv.Invalidate(context.Background(), &gqlerror.Error{Message: "Unauthorized"})

	nav.AssertExpectations(t)
	assert.Equal(t, "/auth/login", inv.LoginPath())
}

func TestErrorLinkIntegration_ExactlyOnce(t *testing.T) {
	src := newSource(t)
	nav := &MockNavigator{}
	nav.On("Navigate", mock.Anything, "/auth/login").Once()
	inv := NewInvalidator(src, nav, "/auth/login")

	want := &link.Response{
		Data:   []byte(`{"me":null}`),
		Errors: gqlerror.List{{Message: "Unauthorized: token expired"}, {Message: "Unauthorized: token expired"}},
	}
	terminal := link.Func(func(context.Context, *operation.Operation) *link.Stream {
		return link.Single(want, nil)
	})
	l := link.Chain(terminal, link.ErrorLink(inv.HandleErrors))

	s := l.Request(context.Background(), operation.MustParse(`{ me { id } }`))
	var got []*link.Response
	for resp := range s.Results() {
		got = append(got, resp)
	}

	require.Len(t, got, 1)
	assert.Same(t, want, got[0])
	assert.Len(t, got[0].Errors, 2)
	_, ok := src.Token()
	assert.False(t, ok)
	assert.Equal(t, int64(1), inv.Count())
	nav.AssertExpectations(t)
}

func TestPendingNavigator_Take(t *testing.T) {
	nav := NewPendingNavigator()
	_, ok := nav.Take()
	assert.False(t, ok)

	nav.Navigate(context.Background(), "/auth/login")
	path, ok := nav.Take()
	assert.True(t, ok)
	assert.Equal(t, "/auth/login", path)

	_, ok = nav.Pending()
	assert.False(t, ok)
}

func TestNavigatorFunc(t *testing.T) {
	var got string
	NavigatorFunc(func(_ context.Context, path string) { got = path }).Navigate(context.Background(), "/x")
	assert.Equal(t, "/x", got)
}

func TestNewReporter_DisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewReporter("", "test"))
	assert.NotNil(t, NewReporter("hbp_key", "test"))
}
