package dataframe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/util"
)

// Record is one row of data keyed by column name.
type Record = map[string]any

// Dataset is an ordered set of rows with a declared column order. All
// operations are pure: they return a new Dataset and leave the receiver
// untouched.
type Dataset struct {
	Columns []string
	Rows    []Record
}

// NewDataset builds a dataset from an explicit column order and rows.
func NewDataset(columns []string, rows []Record) *Dataset {
	return &Dataset{Columns: append([]string{}, columns...), Rows: rows}
}

// FromRecords builds a dataset from rows, deriving the column order as the
// sorted union of keys (map iteration gives no stable natural order).
func FromRecords(rows []Record) *Dataset {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	cols := util.Keys(seen)
	sort.Strings(cols)
	return &Dataset{Columns: cols, Rows: rows}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// HasColumn reports whether the dataset declares the column.
func (d *Dataset) HasColumn(name string) bool {
	return util.Contains(d.Columns, name)
}

// Clone deep-copies the dataset.
func (d *Dataset) Clone() *Dataset {
	rows := make([]Record, len(d.Rows))
	for i, r := range d.Rows {
		rows[i] = cloneRecord(r)
	}
	return &Dataset{Columns: append([]string{}, d.Columns...), Rows: rows}
}

// Select keeps only the given columns, in the given order.
func (d *Dataset) Select(cols ...string) (*Dataset, error) {
	if err := d.requireColumns("select", cols); err != nil {
		return nil, err
	}
	rows := make([]Record, len(d.Rows))
	for i, r := range d.Rows {
		out := make(Record, len(cols))
		for _, c := range cols {
			if v, ok := r[c]; ok {
				out[c] = v
			}
		}
		rows[i] = out
	}
	return &Dataset{Columns: append([]string{}, cols...), Rows: rows}, nil
}

// Drop removes the given columns.
func (d *Dataset) Drop(cols ...string) (*Dataset, error) {
	if err := d.requireColumns("drop", cols); err != nil {
		return nil, err
	}
	kept := util.Filter(d.Columns, func(c string) bool { return !util.Contains(cols, c) })
	return d.Select(kept...)
}

// Rename renames columns according to mapping (old name to new name).
func (d *Dataset) Rename(mapping map[string]string) (*Dataset, error) {
	olds := util.Keys(mapping)
	sort.Strings(olds)
	if err := d.requireColumns("rename", olds); err != nil {
		return nil, err
	}
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		if n, ok := mapping[c]; ok {
			cols[i] = n
		} else {
			cols[i] = c
		}
	}
	rows := make([]Record, len(d.Rows))
	for i, r := range d.Rows {
		out := make(Record, len(r))
		for k, v := range r {
			if n, ok := mapping[k]; ok {
				out[n] = v
			} else {
				out[k] = v
			}
		}
		rows[i] = out
	}
	return &Dataset{Columns: cols, Rows: rows}, nil
}

// Filter keeps rows for which pred returns true.
func (d *Dataset) Filter(pred func(Record) (bool, error)) (*Dataset, error) {
	var rows []Record
	for _, r := range d.Rows {
		keep, err := pred(r)
		if err != nil {
			return nil, err
		}
		if keep {
			rows = append(rows, r)
		}
	}
	return &Dataset{Columns: append([]string{}, d.Columns...), Rows: rows}, nil
}

// WithColumn sets a column computed per row, appending it to the column
// order when new.
func (d *Dataset) WithColumn(name string, fn func(Record) (any, error)) (*Dataset, error) {
	rows := make([]Record, len(d.Rows))
	for i, r := range d.Rows {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out := cloneRecord(r)
		out[name] = v
		rows[i] = out
	}
	cols := append([]string{}, d.Columns...)
	if !util.Contains(cols, name) {
		cols = append(cols, name)
	}
	return &Dataset{Columns: cols, Rows: rows}, nil
}

// DropDuplicates keeps the first occurrence of each distinct combination of
// the subset columns (all columns when the subset is empty).
func (d *Dataset) DropDuplicates(subset ...string) *Dataset {
	cols := subset
	if len(cols) == 0 {
		cols = d.Columns
	}
	seen := make(map[string]bool)
	var rows []Record
	for _, r := range d.Rows {
		k := rowKey(r, cols)
		if seen[k] {
			continue
		}
		seen[k] = true
		rows = append(rows, r)
	}
	return &Dataset{Columns: append([]string{}, d.Columns...), Rows: rows}
}

// SortKey orders rows by one column.
type SortKey struct {
	Column string
	Desc   bool
}

// Sort orders rows by the given keys. The sort is stable, so equal rows keep
// their relative order.
func (d *Dataset) Sort(keys ...SortKey) (*Dataset, error) {
	cols := util.Map(keys, func(k SortKey) string { return k.Column })
	if err := d.requireColumns("sort", cols); err != nil {
		return nil, err
	}
	rows := append([]Record{}, d.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := util.CompareValues(rows[i][k.Column], rows[j][k.Column])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return &Dataset{Columns: append([]string{}, d.Columns...), Rows: rows}, nil
}

// Limit keeps the first n rows.
func (d *Dataset) Limit(n int) *Dataset {
	if n < 0 {
		n = 0
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return &Dataset{Columns: append([]string{}, d.Columns...), Rows: append([]Record{}, d.Rows[:n]...)}
}

// Union concatenates two datasets. The column order is the receiver's
// columns followed by the other's new columns; rows keep whatever columns
// they carry.
func (d *Dataset) Union(other *Dataset) *Dataset {
	cols := append([]string{}, d.Columns...)
	for _, c := range other.Columns {
		if !util.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	rows := make([]Record, 0, len(d.Rows)+len(other.Rows))
	rows = append(rows, d.Rows...)
	rows = append(rows, other.Rows...)
	return &Dataset{Columns: cols, Rows: rows}
}

// Aggregation functions for GroupBy.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggMin   = "min"
	AggMax   = "max"
	AggMean  = "mean"
)

// Aggregation computes one output column per group.
type Aggregation struct {
	// Col is the aggregated column; ignored for count.
	Col string
	// Func is one of count, sum, min, max, mean.
	Func string
	// As names the output column; defaults to "<func>_<col>" (or "count").
	As string
}

func (a Aggregation) outputName() string {
	if a.As != "" {
		return a.As
	}
	if a.Func == AggCount {
		return AggCount
	}
	return a.Func + "_" + a.Col
}

// GroupBy groups rows by the key columns and computes one row per group with
// the requested aggregations. Groups appear in first-seen order.
func (d *Dataset) GroupBy(keys []string, aggs []Aggregation) (*Dataset, error) {
	if err := d.requireColumns("group_by", keys); err != nil {
		return nil, err
	}
	for _, a := range aggs {
		switch a.Func {
		case AggCount:
		case AggSum, AggMin, AggMax, AggMean:
			if !d.HasColumn(a.Col) {
				return nil, errors.InvalidInput("group_by", fmt.Sprintf("unknown column %q", a.Col))
			}
		default:
			return nil, errors.InvalidInput("group_by", fmt.Sprintf("unknown aggregation %q", a.Func))
		}
	}

	type group struct {
		key  Record
		rows []Record
	}
	idx := make(map[string]int)
	var groups []group
	for _, r := range d.Rows {
		k := rowKey(r, keys)
		if i, ok := idx[k]; ok {
			groups[i].rows = append(groups[i].rows, r)
			continue
		}
		idx[k] = len(groups)
		keyRec := make(Record, len(keys))
		for _, c := range keys {
			keyRec[c] = r[c]
		}
		groups = append(groups, group{key: keyRec, rows: []Record{r}})
	}

	rows := make([]Record, len(groups))
	for i, g := range groups {
		out := cloneRecord(g.key)
		for _, a := range aggs {
			v, err := aggregate(g.rows, a)
			if err != nil {
				return nil, err
			}
			out[a.outputName()] = v
		}
		rows[i] = out
	}

	cols := append([]string{}, keys...)
	for _, a := range aggs {
		cols = append(cols, a.outputName())
	}
	return &Dataset{Columns: cols, Rows: rows}, nil
}

func aggregate(rows []Record, a Aggregation) (any, error) {
	switch a.Func {
	case AggCount:
		return int64(len(rows)), nil
	case AggSum, AggMean:
		sum := 0.0
		n := 0
		for _, r := range rows {
			v := r[a.Col]
			if v == nil {
				continue
			}
			f, ok := util.NumericValue(v)
			if !ok {
				return nil, errors.InvalidInput("group_by", fmt.Sprintf("column %q is not numeric", a.Col))
			}
			sum += f
			n++
		}
		if a.Func == AggSum {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case AggMin, AggMax:
		var best any
		for _, r := range rows {
			v := r[a.Col]
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := util.CompareValues(v, best)
			if (a.Func == AggMin && c < 0) || (a.Func == AggMax && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, errors.InvalidInput("group_by", fmt.Sprintf("unknown aggregation %q", a.Func))
}

// JoinSpec configures a join. Key columns are named either via On (same
// name on both sides) or LeftOn/RightOn pairs.
type JoinSpec struct {
	On      []string
	LeftOn  []string
	RightOn []string
	// How is one of left, inner, outer. Defaults to left.
	How string
}

func (j *JoinSpec) normalize() error {
	if len(j.On) > 0 {
		if len(j.LeftOn) > 0 || len(j.RightOn) > 0 {
			return errors.InvalidInput("join", "on is mutually exclusive with left_on/other_on")
		}
		j.LeftOn = j.On
		j.RightOn = j.On
	}
	if len(j.LeftOn) == 0 || len(j.RightOn) == 0 {
		return errors.MissingField("join.on")
	}
	if len(j.LeftOn) != len(j.RightOn) {
		return errors.InvalidInput("join", "left_on and other_on must have equal length")
	}
	if j.How == "" {
		j.How = "left"
	}
	switch j.How {
	case "left", "inner", "outer":
	default:
		return errors.InvalidInput("join.how", fmt.Sprintf("unknown join type %q", j.How))
	}
	return nil
}

// Join joins the receiver with other. The right side is deduplicated on its
// join keys first; columns present on both sides coalesce (left value wins
// when set).
func (d *Dataset) Join(other *Dataset, spec JoinSpec) (*Dataset, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	if err := d.requireColumns("join", spec.LeftOn); err != nil {
		return nil, err
	}
	if err := other.requireColumns("join", spec.RightOn); err != nil {
		return nil, err
	}

	right := other.DropDuplicates(spec.RightOn...)

	rightIdx := make(map[string]Record, len(right.Rows))
	for _, r := range right.Rows {
		rightIdx[rowKey(r, spec.RightOn)] = r
	}

	// Output columns: all of the left's, then the right's non-key columns
	// that are new to the left.
	cols := append([]string{}, d.Columns...)
	for _, c := range right.Columns {
		if util.Contains(spec.RightOn, c) || util.Contains(cols, c) {
			continue
		}
		cols = append(cols, c)
	}

	merge := func(l, r Record) Record {
		out := make(Record, len(cols))
		for _, c := range d.Columns {
			if l != nil {
				if v, ok := l[c]; ok {
					out[c] = v
				}
			}
		}
		if r != nil {
			for _, c := range right.Columns {
				if util.Contains(spec.RightOn, c) {
					continue
				}
				v, ok := r[c]
				if !ok {
					continue
				}
				if existing, has := out[c]; !has || existing == nil {
					out[c] = v
				}
			}
			if l == nil {
				// Unmatched right row in an outer join: key values land
				// under the left-side key names.
				for i, rc := range spec.RightOn {
					out[spec.LeftOn[i]] = r[rc]
				}
			}
		}
		return out
	}

	var rows []Record
	matched := make(map[string]bool)
	for _, l := range d.Rows {
		k := rowKey(l, spec.LeftOn)
		r, ok := rightIdx[k]
		if ok {
			matched[k] = true
			rows = append(rows, merge(l, r))
			continue
		}
		if spec.How == "inner" {
			continue
		}
		rows = append(rows, merge(l, nil))
	}
	if spec.How == "outer" {
		for _, r := range right.Rows {
			if !matched[rowKey(r, spec.RightOn)] {
				rows = append(rows, merge(nil, r))
			}
		}
	}

	return &Dataset{Columns: cols, Rows: rows}, nil
}

func (d *Dataset) requireColumns(op string, cols []string) error {
	for _, c := range cols {
		if !d.HasColumn(c) {
			return errors.InvalidInput(op, fmt.Sprintf("unknown column %q", c))
		}
	}
	return nil
}

func rowKey(rec Record, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = util.ValueKey(rec[c])
	}
	return strings.Join(parts, "\x1f")
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
