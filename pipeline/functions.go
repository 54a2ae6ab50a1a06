package pipeline

import (
	"context"
	"sort"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Built-in transform functions. Each is registered in the default registry
// under the name transformer steps use.
func init() {
	defaultRegistry.MustRegister("select", fnSelect)
	defaultRegistry.MustRegister("drop", fnDrop)
	defaultRegistry.MustRegister("rename", fnRename)
	defaultRegistry.MustRegister("filter", fnFilter)
	defaultRegistry.MustRegister("with_column", fnWithColumn)
	defaultRegistry.MustRegister("with_columns", fnWithColumns)
	defaultRegistry.MustRegister("drop_duplicates", fnDropDuplicates)
	defaultRegistry.MustRegister("sort", fnSort)
	defaultRegistry.MustRegister("limit", fnLimit)
	defaultRegistry.MustRegister("union", fnUnion)
	defaultRegistry.MustRegister("group_by", fnGroupBy)
	defaultRegistry.MustRegister("smart_join", fnSmartJoin)
}

// select keeps the named columns, in order. Kwargs: columns []string.
func fnSelect(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	cols, err := fc.Strings("columns")
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Select(cols...)
	})
}

// drop removes the named columns. Kwargs: columns []string.
func fnDrop(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	cols, err := fc.Strings("columns")
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Drop(cols...)
	})
}

// rename maps old column names to new ones. Kwargs: columns map[old]new.
func fnRename(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	mapping, err := fc.StringMap("columns")
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Rename(mapping)
	})
}

// filter keeps rows satisfying a boolean expression. Kwargs: expr string.
func fnFilter(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	code, err := fc.String("expr")
	if err != nil {
		return nil, err
	}
	prog, err := dataframe.CompileBool(code)
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Filter(prog.Eval)
	})
}

// with_column adds or replaces one computed column.
// Kwargs: name string, expr string.
func fnWithColumn(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	name, err := fc.String("name")
	if err != nil {
		return nil, err
	}
	code, err := fc.String("expr")
	if err != nil {
		return nil, err
	}
	prog, err := dataframe.CompileValue(code)
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.WithColumn(name, prog.Eval)
	})
}

// with_columns adds or replaces several computed columns, applied in
// column-name order so the result is deterministic.
// Kwargs: columns map[name]expr.
func fnWithColumns(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	exprs, err := fc.StringMap("columns")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)
	progs := make(map[string]*dataframe.ValueProgram, len(names))
	for _, name := range names {
		prog, err := dataframe.CompileValue(exprs[name])
		if err != nil {
			return nil, err
		}
		progs[name] = prog
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		var err error
		for _, name := range names {
			ds, err = ds.WithColumn(name, progs[name].Eval)
			if err != nil {
				return nil, err
			}
		}
		return ds, nil
	})
}

// drop_duplicates removes duplicate rows. Kwargs: subset []string
// (optional; full-row identity when omitted).
func fnDropDuplicates(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	subset, err := fc.OptionalStrings("subset")
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.DropDuplicates(subset...), nil
	})
}

// sort orders rows by the given columns. Kwargs: by []string, desc bool.
func fnSort(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	by, err := fc.Strings("by")
	if err != nil {
		return nil, err
	}
	desc, err := fc.Bool("desc", false)
	if err != nil {
		return nil, err
	}
	keys := make([]dataframe.SortKey, len(by))
	for i, col := range by {
		keys[i] = dataframe.SortKey{Column: col, Desc: desc}
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Sort(keys...)
	})
}

// limit keeps the first n rows. Kwargs: n int.
func fnLimit(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	n, err := fc.Int("n")
	if err != nil {
		return nil, err
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Limit(n), nil
	})
}

// union appends another node's rows. Kwargs: other {nodes.NAME}.
func fnUnion(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	other, err := fc.FrameArg("other")
	if err != nil {
		return nil, err
	}
	if other.Streaming() {
		return nil, errors.InvalidInput("union", "the other frame must be materialized")
	}
	rhs := other.Dataset()
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Union(rhs), nil
	})
}

// group_by aggregates rows. Kwargs: by []string, agg []{col, func, as}
// with funcs count|sum|min|max|mean.
func fnGroupBy(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	by, err := fc.Strings("by")
	if err != nil {
		return nil, err
	}
	specs, err := fc.Maps("agg")
	if err != nil {
		return nil, err
	}
	aggs := make([]dataframe.Aggregation, 0, len(specs))
	for _, spec := range specs {
		var a dataframe.Aggregation
		if v, ok := spec["col"].(string); ok {
			a.Col = v
		}
		fn, ok := spec["func"].(string)
		if !ok || fn == "" {
			return nil, errors.MissingField("kwargs.agg.func")
		}
		a.Func = fn
		if v, ok := spec["as"].(string); ok {
			a.As = v
		}
		aggs = append(aggs, a)
	}
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.GroupBy(by, aggs)
	})
}

// smart_join joins another node's frame onto the current one, deduplicating
// the right side on the join keys and coalescing shared columns left-first.
// Kwargs: other {nodes.NAME}, on []string or left_on/other_on []string,
// how left|inner|outer (default left).
func fnSmartJoin(_ context.Context, fc *FuncContext) (*dataframe.Frame, error) {
	other, err := fc.FrameArg("other")
	if err != nil {
		return nil, err
	}
	if other.Streaming() {
		return nil, errors.InvalidInput("smart_join", "the other frame must be materialized")
	}
	on, err := fc.OptionalStrings("on")
	if err != nil {
		return nil, err
	}
	leftOn, err := fc.OptionalStrings("left_on")
	if err != nil {
		return nil, err
	}
	otherOn, err := fc.OptionalStrings("other_on")
	if err != nil {
		return nil, err
	}
	how, _, err := fc.OptionalString("how")
	if err != nil {
		return nil, err
	}
	spec := dataframe.JoinSpec{On: on, LeftOn: leftOn, RightOn: otherOn, How: how}
	rhs := other.Dataset()
	return fc.Frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Join(rhs, spec)
	})
}
