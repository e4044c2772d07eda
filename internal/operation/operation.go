// Package operation parses GraphQL documents into executable operations.
//
// An Operation carries the document text sent over the wire and the parsed
// AST the router and the normalized cache work from. Documents are parsed
// without a schema: the client does not know the server schema, it only needs
// the main definition kind, field names, aliases and arguments.
package operation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// Kind is the operation type of the main definition.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// ErrNoOperation is returned for documents that contain only fragments.
var ErrNoOperation = fmt.Errorf("document has no operation definition: %w", errdefs.ErrInvalidArgument)

// Operation is a request to the backend.
type Operation struct {
	Query         string
	Variables     map[string]any
	OperationName string

	// Headers are merged into the outgoing HTTP request. The streaming
	// channel ignores them; it authenticates through connection params.
	Headers http.Header

	doc  *ast.QueryDocument
	main *ast.OperationDefinition
}

// Payload is the JSON body of a GraphQL request, shared by both transports.
type Payload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// New parses query and selects its main definition: the operation named
// operationName, or the first operation when the name is empty.
func New(query string, variables map[string]any, operationName string) (*Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: query})
	if err != nil {
		return nil, fmt.Errorf("parse operation: %v: %w", err, errdefs.ErrInvalidArgument)
	}

	main, err := mainDefinition(doc, operationName)
	if err != nil {
		return nil, err
	}

	return &Operation{
		Query:         query,
		Variables:     variables,
		OperationName: operationName,
		doc:           doc,
		main:          main,
	}, nil
}

// MustParse is New for static documents; it panics on a malformed document.
func MustParse(query string) *Operation {
	op, err := New(query, nil, "")
	if err != nil {
		panic(err)
	}
	return op
}

func mainDefinition(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if len(doc.Operations) == 0 {
		return nil, ErrNoOperation
	}
	if name == "" {
		return doc.Operations[0], nil
	}
	if def := doc.Operations.ForName(name); def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("operation %q not found in document: %w", name, errdefs.ErrInvalidArgument)
}

// WithVariables returns a copy of the operation bound to other variables.
// The parsed document is shared; it is never mutated.
func (o *Operation) WithVariables(vars map[string]any) *Operation {
	cp := *o
	cp.Variables = vars
	return &cp
}

// WithHeaders returns a copy of the operation carrying extra request headers.
func (o *Operation) WithHeaders(h http.Header) *Operation {
	cp := *o
	cp.Headers = h.Clone()
	return &cp
}

// Kind returns the operation type of the main definition.
func (o *Operation) Kind() Kind {
	switch o.main.Operation {
	case ast.Mutation:
		return KindMutation
	case ast.Subscription:
		return KindSubscription
	default:
		return KindQuery
	}
}

// Name returns the operation name, or the main definition's name when the
// caller did not choose one.
func (o *Operation) Name() string {
	if o.OperationName != "" {
		return o.OperationName
	}
	return o.main.Name
}

// Definition exposes the main definition for selection walking.
func (o *Operation) Definition() *ast.OperationDefinition {
	return o.main
}

// Fragment looks up a named fragment of the document.
func (o *Operation) Fragment(name string) *ast.FragmentDefinition {
	return o.doc.Fragments.ForName(name)
}

// Payload returns the wire form of the operation.
func (o *Operation) Payload() Payload {
	return Payload{
		Query:         o.Query,
		Variables:     o.Variables,
		OperationName: o.OperationName,
	}
}

// MarshalJSON encodes the operation as its wire payload.
func (o *Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Payload())
}

// Arguments resolves a field's arguments against the operation variables.
// Variables that are not provided resolve to their declared default, or are
// left out when there is none.
func (o *Operation) Arguments(field *ast.Field) (map[string]any, error) {
	if len(field.Arguments) == 0 {
		return nil, nil
	}
	vars := o.variablesWithDefaults()
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		if arg.Value.Kind == ast.Variable {
			if _, ok := vars[arg.Value.Raw]; !ok {
				continue
			}
		}
		v, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %s of %s: %w", arg.Name, field.Name, err)
		}
		args[arg.Name] = v
	}
	return args, nil
}

func (o *Operation) variablesWithDefaults() map[string]any {
	vars := make(map[string]any, len(o.Variables))
	for _, def := range o.main.VariableDefinitions {
		if def.DefaultValue == nil {
			continue
		}
		if v, err := def.DefaultValue.Value(nil); err == nil {
			vars[def.Variable] = v
		}
	}
	for k, v := range o.Variables {
		vars[k] = v
	}
	return vars
}

// Included evaluates @skip and @include against the operation variables.
func (o *Operation) Included(directives ast.DirectiveList) bool {
	if len(directives) == 0 {
		return true
	}
	vars := o.variablesWithDefaults()
	if d := directives.ForName("skip"); d != nil && directiveIf(d, vars) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !directiveIf(d, vars) {
		return false
	}
	return true
}

func directiveIf(d *ast.Directive, vars map[string]any) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	v, err := arg.Value.Value(vars)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// WithTypename returns a copy whose document selects __typename on every
// nested object, which the normalized cache needs to identify entities.
// The operation is returned unchanged when nothing had to be added.
func (o *Operation) WithTypename() (*Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: o.Query})
	if err != nil {
		return nil, fmt.Errorf("parse operation: %v: %w", err, errdefs.ErrInvalidArgument)
	}

	changed := false
	for _, def := range doc.Operations {
		for _, sel := range def.SelectionSet {
			changed = addTypename(sel) || changed
		}
	}
	for _, frag := range doc.Fragments {
		for _, sel := range frag.SelectionSet {
			changed = addTypename(sel) || changed
		}
	}
	if !changed {
		return o, nil
	}

	main, err := mainDefinition(doc, o.OperationName)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)

	cp := *o
	cp.Query = buf.String()
	cp.doc = doc
	cp.main = main
	return &cp, nil
}

func addTypename(sel ast.Selection) bool {
	switch s := sel.(type) {
	case *ast.Field:
		if len(s.SelectionSet) == 0 {
			return false
		}
		changed := false
		for _, child := range s.SelectionSet {
			changed = addTypename(child) || changed
		}
		if !selectsTypename(s.SelectionSet) {
			s.SelectionSet = append(s.SelectionSet, &ast.Field{Alias: "__typename", Name: "__typename"})
			changed = true
		}
		return changed
	case *ast.InlineFragment:
		changed := false
		for _, child := range s.SelectionSet {
			changed = addTypename(child) || changed
		}
		return changed
	}
	return false
}

func selectsTypename(set ast.SelectionSet) bool {
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && f.Name == "__typename" && f.Alias == "__typename" {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err came from a malformed operation.
func IsInvalid(err error) bool {
	return errors.Is(err, errdefs.ErrInvalidArgument)
}
