package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// TransformFunc is a named transformation applied by a transformer step.
// It receives the node's current frame plus the step's kwargs and returns
// the next frame in the chain.
type TransformFunc func(ctx context.Context, fc *FuncContext) (*dataframe.Frame, error)

// FuncContext carries a transform step's inputs.
type FuncContext struct {
	// Frame is the output of the previous step (or the unioned sources
	// for the first step).
	Frame *dataframe.Frame

	// Kwargs are the step's declared arguments, minus any node
	// references, which are resolved into Frames.
	Kwargs map[string]any

	// Frames holds resolved {nodes.NAME} kwarg values, keyed by the
	// kwarg name they were declared under.
	Frames map[string]*dataframe.Frame
}

// String returns a required string kwarg.
func (fc *FuncContext) String(key string) (string, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return "", errors.MissingField("kwargs." + key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// OptionalString returns a string kwarg when present.
func (fc *FuncContext) OptionalString(key string) (string, bool, error) {
	if _, ok := fc.Kwargs[key]; !ok {
		return "", false, nil
	}
	s, err := fc.String(key)
	return s, err == nil, err
}

// Strings returns a required list-of-strings kwarg. A single string is
// accepted as a one-element list.
func (fc *FuncContext) Strings(key string) ([]string, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return nil, errors.MissingField("kwargs." + key)
	}
	return coerceStrings(key, v)
}

// OptionalStrings returns a list-of-strings kwarg when present.
func (fc *FuncContext) OptionalStrings(key string) ([]string, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return nil, nil
	}
	return coerceStrings(key, v)
}

func coerceStrings(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected string elements, got %T", item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected string list, got %T", v))
	}
}

// StringMap returns a required map-of-strings kwarg.
func (fc *FuncContext) StringMap(key string) (map[string]string, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return nil, errors.MissingField("kwargs." + key)
	}
	switch t := v.(type) {
	case map[string]string:
		return t, nil
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected string values, got %T", item))
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected string map, got %T", v))
	}
}

// Int returns a required integer kwarg. YAML numbers arrive as int or
// float64 depending on their spelling.
func (fc *FuncContext) Int(key string) (int, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return 0, errors.MissingField("kwargs." + key)
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	}
	return 0, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected integer, got %T", v))
}

// Bool returns a boolean kwarg, or the fallback when absent.
func (fc *FuncContext) Bool(key string, fallback bool) (bool, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected bool, got %T", v))
	}
	return b, nil
}

// Maps returns a required list-of-mappings kwarg (aggregation specs).
func (fc *FuncContext) Maps(key string) ([]map[string]any, error) {
	v, ok := fc.Kwargs[key]
	if !ok {
		return nil, errors.MissingField("kwargs." + key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected mapping list, got %T", v))
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.InvalidInput("kwargs."+key, fmt.Sprintf("expected mapping elements, got %T", item))
		}
		out = append(out, m)
	}
	return out, nil
}

// FrameArg returns the frame a {nodes.NAME} kwarg resolved to.
func (fc *FuncContext) FrameArg(key string) (*dataframe.Frame, error) {
	f, ok := fc.Frames[key]
	if !ok {
		return nil, errors.MissingField("kwargs." + key)
	}
	return f, nil
}

// Registry maps transform-function names to implementations. It is safe
// for concurrent use; pipelines validate against it at build time and call
// through it at run time.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TransformFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]TransformFunc)}
}

// Register adds a function under a name. Duplicate names are rejected.
func (r *Registry) Register(name string, fn TransformFunc) error {
	if name == "" {
		return errors.MissingField("function name")
	}
	if fn == nil {
		return errors.MissingField("function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return errors.AlreadyExists("transform function " + name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(name string, fn TransformFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup resolves a function name.
func (r *Registry) Lookup(name string) (TransformFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, errors.NotFound("transform function", name)
	}
	return fn, nil
}

// Names lists registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry the builtins are
// registered into. Pipelines use it unless given their own.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds a function to the default registry.
func Register(name string, fn TransformFunc) error {
	return defaultRegistry.Register(name, fn)
}
