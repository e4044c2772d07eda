package operation

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

func TestNew_Kinds(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		opName string
		want   Kind
	}{
		{"shorthand", `{ me { id } }`, "", KindQuery},
		{"named query", `query Me { me { id } }`, "", KindQuery},
		{"mutation", `mutation { enroll(courseId: "1") { id } }`, "", KindMutation},
		{"subscription", `subscription { commentAdded { id } }`, "", KindSubscription},
		{"selected by name", `query A { a } subscription B { b }`, "B", KindSubscription},
		{"first operation wins without name", `query A { a } subscription B { b }`, "", KindQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := New(tt.query, nil, tt.opName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, op.Kind())
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		opName string
	}{
		{"syntax error", `query { me { id }`, ""},
		{"fragments only", `fragment F on User { id }`, ""},
		{"unknown name", `query A { a }`, "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.query, nil, tt.opName)
			require.Error(t, err)
			assert.True(t, IsInvalid(err))
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse(`{`) })
}

func TestName(t *testing.T) {
	op := MustParse(`query Courses { courses { edges { id } } }`)
	assert.Equal(t, "Courses", op.Name())

	op, err := New(`query A { a } query B { b }`, nil, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", op.Name())

	assert.Equal(t, "", MustParse(`{ a }`).Name())
}

func TestArguments_ResolvesVariablesAndDefaults(t *testing.T) {
	op, err := New(`
		query Courses($filter: String, $sort: String = "NEWEST", $after: String) {
			courses(filter: $filter, sort: $sort, after: $after, first: 10, tags: ["go", $filter]) { edges { id } }
		}`, map[string]any{"filter": "web"}, "")
	require.NoError(t, err)

	field := op.Definition().SelectionSet[0].(*ast.Field)
	args, err := op.Arguments(field)
	require.NoError(t, err)

	assert.Equal(t, "web", args["filter"])
	assert.Equal(t, "NEWEST", args["sort"])
	assert.Equal(t, int64(10), args["first"])
	assert.Equal(t, []any{"go", "web"}, args["tags"])
	_, present := args["after"]
	assert.False(t, present, "unset variables without default are omitted")
}

func TestArguments_NoArguments(t *testing.T) {
	op := MustParse(`{ me { id } }`)
	args, err := op.Arguments(op.Definition().SelectionSet[0].(*ast.Field))
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestWithVariablesAndHeaders_Copy(t *testing.T) {
	op := MustParse(`query($id: ID!) { course(id: $id) { id } }`)
	a := op.WithVariables(map[string]any{"id": "1"})
	b := a.WithHeaders(http.Header{"X": {"y"}})

	assert.Nil(t, op.Variables)
	assert.Nil(t, op.Headers)
	assert.Equal(t, "1", b.Variables["id"])
	assert.Equal(t, "y", b.Headers.Get("X"))
	assert.Same(t, op.Definition(), b.Definition())
}

func TestPayloadJSON(t *testing.T) {
	op, err := New(`query Me { me { id } }`, map[string]any{"x": 1}, "Me")
	require.NoError(t, err)

	raw, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"query Me { me { id } }","variables":{"x":1},"operationName":"Me"}`, string(raw))

	raw, err = json.Marshal(MustParse(`{ me { id } }`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"{ me { id } }"}`, string(raw))
}

func TestFragment(t *testing.T) {
	op := MustParse(`fragment C on Course { id title } query { courses { edges { ...C } } }`)
	assert.NotNil(t, op.Fragment("C"))
	assert.Nil(t, op.Fragment("Missing"))
}

func TestWithTypename(t *testing.T) {
	op, err := New(`query Courses($f: String) { courses(filter: $f) { edges { id ...C } pageInfo { hasNextPage } } }
		fragment C on Course { author { name } }`, map[string]any{"f": "go"}, "Courses")
	require.NoError(t, err)

	typed, err := op.WithTypename()
	require.NoError(t, err)

	// courses, edges, pageInfo and the fragment's author
	assert.Equal(t, 4, strings.Count(typed.Query, "__typename"))
	assert.Equal(t, KindQuery, typed.Kind())
	assert.Equal(t, "Courses", typed.Name())
	assert.Equal(t, op.Variables, typed.Variables)
	assert.NotContains(t, op.Query, "__typename")

	again, err := typed.WithTypename()
	require.NoError(t, err)
	assert.Same(t, typed, again)

	flat := MustParse(`{ me }`)
	same, err := flat.WithTypename()
	require.NoError(t, err)
	assert.Same(t, flat, same)
}

func TestIncluded(t *testing.T) {
	op, err := New(`query($withBody: Boolean!) { comments { id body @include(if: $withBody) author @skip(if: true) { id } } }`,
		map[string]any{"withBody": false}, "")
	require.NoError(t, err)

	comments := op.Definition().SelectionSet[0].(*ast.Field)
	fields := comments.SelectionSet
	assert.True(t, op.Included(fields[0].(*ast.Field).Directives))
	assert.False(t, op.Included(fields[1].(*ast.Field).Directives))
	assert.False(t, op.Included(fields[2].(*ast.Field).Directives))

	assert.True(t, op.WithVariables(map[string]any{"withBody": true}).Included(fields[1].(*ast.Field).Directives))
}
