package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
)

func rootFor(kind operation.Kind) (key, typename string) {
	switch kind {
	case operation.KindMutation:
		return RootMutation, "Mutation"
	case operation.KindSubscription:
		return RootSubscription, "Subscription"
	default:
		return RootQuery, "Query"
	}
}

// Write normalizes the data of a response to op into the cache.
// Null or empty data is a no-op.
func (s *Store) Write(op *operation.Operation, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}

	rootKey, typename := rootFor(op.Kind())

	s.mu.Lock()
	root := s.records[rootKey]
	if root == nil {
		root = Record{}
		s.records[rootKey] = root
	}
	w := walker{store: s, op: op}
	err := w.write(typename, op.Definition().SelectionSet, obj, root)
	s.mu.Unlock()

	s.broadcast()
	if err != nil {
		return err
	}
	logger.WithComponent("cache").Tracef("wrote %s %s, %d records", op.Kind(), op.Name(), s.Size())
	return nil
}

// Read rebuilds the data of op from the cache. Any field the cache cannot
// provide makes the whole read a miss.
func (s *Store) Read(op *operation.Operation) (json.RawMessage, error) {
	rootKey, typename := rootFor(op.Kind())

	s.mu.RLock()
	root, ok := s.records[rootKey]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrMiss, rootKey)
	}
	w := walker{store: s, op: op}
	obj, err := w.read(typename, op.Definition().SelectionSet, root, "")
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// walker walks one operation's selection sets over response data or records.
// The caller holds the store lock.
type walker struct {
	store *Store
	op    *operation.Operation
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// collect flattens fragments into the fields that apply to typename.
// Fields sharing a response key are merged.
func (w walker) collect(typename string, set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	index := map[string]int{}
	visited := map[string]bool{}

	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch x := sel.(type) {
			case *ast.Field:
				if !w.op.Included(x.Directives) {
					continue
				}
				key := responseKey(x)
				if i, ok := index[key]; ok {
					merged := *out[i]
					merged.SelectionSet = append(append(ast.SelectionSet{}, out[i].SelectionSet...), x.SelectionSet...)
					out[i] = &merged
					continue
				}
				index[key] = len(out)
				out = append(out, x)
			case *ast.InlineFragment:
				if w.op.Included(x.Directives) && w.store.policies.Matches(x.TypeCondition, typename) {
					walk(x.SelectionSet)
				}
			case *ast.FragmentSpread:
				if visited[x.Name] || !w.op.Included(x.Directives) {
					continue
				}
				def := w.op.Fragment(x.Name)
				if def == nil {
					logger.WithComponent("cache").Warnf("unknown fragment %s in %s", x.Name, w.op.Name())
					continue
				}
				if w.store.policies.Matches(def.TypeCondition, typename) {
					visited[x.Name] = true
					walk(def.SelectionSet)
				}
			}
		}
	}
	walk(set)
	return out
}

// fieldKey is the storage key of f on typename: the field name, plus the key
// arguments when a policy names them, or all arguments otherwise.
func (w walker) fieldKey(typename string, f *ast.Field) (string, FieldPolicy, error) {
	policy, hasPolicy := w.store.policies.Field(typename, f.Name)
	args, err := w.op.Arguments(f)
	if err != nil {
		return "", policy, err
	}

	if hasPolicy && policy.KeyArgs != nil {
		if len(policy.KeyArgs) == 0 {
			return f.Name, policy, nil
		}
		keyed := make(map[string]any, len(policy.KeyArgs))
		for _, name := range policy.KeyArgs {
			if v, ok := args[name]; ok {
				keyed[name] = v
			}
		}
		raw, err := json.Marshal(keyed)
		if err != nil {
			return "", policy, err
		}
		return f.Name + ":" + string(raw), policy, nil
	}

	if len(args) == 0 {
		return f.Name, policy, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", policy, err
	}
	return f.Name + "(" + string(raw) + ")", policy, nil
}

func (w walker) write(typename string, set ast.SelectionSet, data map[string]any, target Record) error {
	for _, f := range w.collect(typename, set) {
		value, present := data[responseKey(f)]
		if !present {
			continue
		}
		if f.Name == "__typename" {
			target["__typename"] = value
			continue
		}

		key, policy, err := w.fieldKey(typename, f)
		if err != nil {
			return err
		}
		incoming := w.writeValue(f, value)
		if policy.Strategy == StrategyAppendPages {
			target[key] = mergePages(target[key], incoming)
		} else {
			target[key] = incoming
		}
	}
	return nil
}

func (w walker) writeValue(f *ast.Field, value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = w.writeValue(f, e)
		}
		return out
	case map[string]any:
		if len(f.SelectionSet) == 0 {
			return deepCopy(v)
		}
		typename, _ := v["__typename"].(string)
		if key, ok := w.store.identify(typename, v); ok {
			rec := w.store.records[key]
			if rec == nil {
				rec = Record{}
				w.store.records[key] = rec
			}
			rec["__typename"] = typename
			if err := w.write(typename, f.SelectionSet, v, rec); err != nil {
				logger.WithComponent("cache").Warnf("normalize %s: %v", key, err)
			}
			return Ref{Key: key}
		}
		rec := Record{}
		if typename != "" {
			rec["__typename"] = typename
		}
		if err := w.write(typename, f.SelectionSet, v, rec); err != nil {
			logger.WithComponent("cache").Warnf("normalize %s: %v", f.Name, err)
		}
		return rec
	default:
		return v
	}
}

// mergePages combines a cached page with an incoming one: the incoming page
// metadata wins and edges are the cached edges followed by the incoming ones.
// Overlapping pages are not deduplicated.
func mergePages(existing, incoming any) any {
	in, ok := incoming.(Record)
	if !ok {
		return incoming
	}
	ex, ok := existing.(Record)
	if !ok {
		return incoming
	}

	out := make(Record, len(in))
	for k, v := range in {
		out[k] = v
	}
	exEdges, _ := ex["edges"].([]any)
	inEdges, _ := in["edges"].([]any)
	edges := make([]any, 0, len(exEdges)+len(inEdges))
	edges = append(edges, exEdges...)
	edges = append(edges, inEdges...)
	out["edges"] = edges
	return out
}

func (w walker) read(typename string, set ast.SelectionSet, rec Record, path string) (map[string]any, error) {
	if t, ok := rec["__typename"].(string); ok && t != "" {
		typename = t
	}
	out := map[string]any{}
	for _, f := range w.collect(typename, set) {
		rk := responseKey(f)
		if f.Name == "__typename" {
			out[rk] = typename
			continue
		}

		key, policy, err := w.fieldKey(typename, f)
		if err != nil {
			return nil, err
		}
		stored, ok := rec[key]
		if !ok || stored == nil {
			if policy.Strategy == StrategyDefaultFalse {
				out[rk] = false
				continue
			}
			if ok {
				out[rk] = nil
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrMiss, joinPath(path, rk))
		}
		v, err := w.readValue(f, stored, joinPath(path, rk))
		if err != nil {
			return nil, err
		}
		out[rk] = v
	}
	return out, nil
}

func (w walker) readValue(f *ast.Field, stored any, path string) (any, error) {
	switch v := stored.(type) {
	case nil:
		return nil, nil
	case Ref:
		rec, ok := w.store.records[v.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %s (dangling %s)", ErrMiss, path, v.Key)
		}
		return w.read("", f.SelectionSet, rec, path)
	case Record:
		return w.read("", f.SelectionSet, v, path)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			item, err := w.readValue(f, e, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	default:
		return deepCopy(v), nil
	}
}
