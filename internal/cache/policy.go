package cache

import "fmt"

// Strategy says how a field's incoming value is combined with what is cached.
type Strategy int

const (
	// StrategyReplace overwrites the cached value.
	StrategyReplace Strategy = iota
	// StrategyAppendPages keeps the incoming page metadata and appends the
	// incoming edges after the cached ones.
	StrategyAppendPages
	// StrategyDefaultFalse reads false when the field was never written or is null.
	StrategyDefaultFalse
)

func (s Strategy) String() string {
	switch s {
	case StrategyReplace:
		return "replace"
	case StrategyAppendPages:
		return "append-pages"
	case StrategyDefaultFalse:
		return "default-false"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// FieldPolicy customizes one field of one type.
type FieldPolicy struct {
	// KeyArgs are the arguments that tell cached values apart. Nil means all
	// arguments; an empty slice means the field has a single cached value.
	KeyArgs  []string
	Strategy Strategy
}

// TypePolicy customizes identity and fields of one type.
type TypePolicy struct {
	// KeyFields identify an entity of this type. Nil falls back to id or _id.
	KeyFields []string
	Fields    map[string]FieldPolicy
}

// Policies is the resolved policy registry. It is read-only once built.
type Policies struct {
	types    map[string]TypePolicy
	possible map[string]map[string]bool
}

// NewPolicies builds a registry from per-type policies.
func NewPolicies(types map[string]TypePolicy) *Policies {
	p := &Policies{
		types:    make(map[string]TypePolicy, len(types)),
		possible: map[string]map[string]bool{},
	}
	for name, tp := range types {
		p.types[name] = tp
	}
	return p
}

// WithPossibleTypes declares that fragments on supertype apply to subtypes,
// for interfaces and unions the client cannot learn without a schema.
func (p *Policies) WithPossibleTypes(supertype string, subtypes ...string) *Policies {
	set := p.possible[supertype]
	if set == nil {
		set = map[string]bool{}
		p.possible[supertype] = set
	}
	for _, s := range subtypes {
		set[s] = true
	}
	return p
}

// Field returns the policy for typename.field, if one is registered.
func (p *Policies) Field(typename, field string) (FieldPolicy, bool) {
	tp, ok := p.types[typename]
	if !ok {
		return FieldPolicy{}, false
	}
	fp, ok := tp.Fields[field]
	return fp, ok
}

// KeyFields returns the registered identity fields of typename.
func (p *Policies) KeyFields(typename string) ([]string, bool) {
	tp, ok := p.types[typename]
	if !ok || tp.KeyFields == nil {
		return nil, false
	}
	return tp.KeyFields, true
}

// Matches reports whether a fragment with typeCondition applies to an
// object of typename.
func (p *Policies) Matches(typeCondition, typename string) bool {
	if typeCondition == "" || typename == "" || typeCondition == typename {
		return true
	}
	return p.possible[typeCondition][typename]
}

// DefaultPolicies returns the policies of the learning platform schema.
func DefaultPolicies() *Policies {
	pages := func(keyArgs ...string) FieldPolicy {
		return FieldPolicy{KeyArgs: keyArgs, Strategy: StrategyAppendPages}
	}
	return NewPolicies(map[string]TypePolicy{
		"Query": {
			Fields: map[string]FieldPolicy{
				"courses":   pages("filter", "sort"),
				"tutorials": pages("filter", "sort"),
				"search":    pages("query", "filter"),
			},
		},
		"Course": {
			KeyFields: []string{"id"},
			Fields: map[string]FieldPolicy{
				"isEnrolled": {Strategy: StrategyDefaultFalse},
			},
		},
		"User":    {KeyFields: []string{"id"}},
		"Comment": {KeyFields: []string{"id"}},
	})
}
