package cdc

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/util"
)

// MergePlan describes how a change batch applies to a target table.
type MergePlan struct {
	SCDType int

	// Keys are the primary key columns the plan is keyed by.
	Keys []string

	// Inserts are complete new rows: new keys for SCD1, new version rows
	// (with validity bounds) for SCD2.
	Inserts []Record

	// Updates are full replacement rows keyed by primary key (SCD1 only).
	Updates []Record

	// Deletes carry only the primary key columns of rows to remove
	// (SCD1 only).
	Deletes []Record

	// Expirations close current versions (SCD2 only).
	Expirations []Expiration

	// Columns is the effective schema of the merged table.
	Columns []string
}

// Expiration marks the current version of a key as superseded at EndAt.
type Expiration struct {
	Keys  Record
	EndAt any
}

// Empty reports whether the plan changes nothing.
func (p MergePlan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0 && len(p.Expirations) == 0
}

// Plan computes the merge plan for applying changes to target. It is a pure
// function: neither slice is modified, and the same inputs always produce
// the same plan.
func Plan(target, changes []Record, opts Options) (MergePlan, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return MergePlan{}, err
	}

	var deleteWhere *predicate
	if opts.DeleteWhere != "" {
		p, err := compilePredicate(opts.DeleteWhere)
		if err != nil {
			return MergePlan{}, err
		}
		deleteWhere = p
	}

	changeCols := collectColumns(changes)
	updateCols := opts.updateColumns(changeCols)

	if opts.SCDType == 2 {
		return planSCD2(target, changes, opts, deleteWhere, updateCols)
	}
	return planSCD1(target, changes, opts, deleteWhere, updateCols)
}

func planSCD1(target, changes []Record, opts Options, deleteWhere *predicate, updateCols []string) (MergePlan, error) {
	plan := MergePlan{SCDType: 1, Keys: append([]string{}, opts.PrimaryKeys...)}

	targetIdx := indexByKey(target, opts.PrimaryKeys, false)

	for _, group := range groupByKey(changes, opts.PrimaryKeys) {
		winner := group.events[0]
		for _, ev := range group.events[1:] {
			if opts.OrderBy == "" || util.CompareValues(ev[opts.OrderBy], winner[opts.OrderBy]) >= 0 {
				winner = ev
			}
		}

		isDelete := false
		if deleteWhere != nil {
			del, err := deleteWhere.eval(winner)
			if err != nil {
				return MergePlan{}, err
			}
			isDelete = del
		}

		tgt, exists := targetIdx[group.key]

		if isDelete {
			if exists {
				plan.Deletes = append(plan.Deletes, project(winner, opts.PrimaryKeys))
			}
			continue
		}

		if !exists {
			plan.Inserts = append(plan.Inserts, project(winner, updateCols))
			continue
		}

		// Target already at or past this change.
		if opts.OrderBy != "" && util.CompareValues(tgt[opts.OrderBy], winner[opts.OrderBy]) >= 0 {
			continue
		}

		upd := cloneRecord(tgt)
		for _, c := range updateCols {
			v, ok := winner[c]
			if !ok {
				continue
			}
			if opts.IgnoreNullUpdates && v == nil {
				continue
			}
			upd[c] = v
		}
		plan.Updates = append(plan.Updates, upd)
	}

	plan.Columns = mergedColumns(collectColumns(target), updateCols, nil)
	return plan, nil
}

func planSCD2(target, changes []Record, opts Options, deleteWhere *predicate, updateCols []string) (MergePlan, error) {
	plan := MergePlan{SCDType: 2, Keys: append([]string{}, opts.PrimaryKeys...)}

	// Tracked columns for the no-op digest: everything an update may touch
	// except the ordering column, which differs on every event.
	trackCols := util.Filter(updateCols, func(c string) bool { return c != opts.OrderBy })

	targetIdx := indexByKey(target, opts.PrimaryKeys, true)

	for _, group := range groupByKey(changes, opts.PrimaryKeys) {
		events := make([]Record, len(group.events))
		copy(events, group.events)
		sort.SliceStable(events, func(i, j int) bool {
			return util.CompareValues(events[i][opts.OrderBy], events[j][opts.OrderBy]) < 0
		})

		tgt, exists := targetIdx[group.key]

		// Late-arriving events at or before the current version are stale.
		if exists {
			start := tgt[ColStartAt]
			events = util.Filter(events, func(ev Record) bool {
				return util.CompareValues(ev[opts.OrderBy], start) > 0
			})
		}
		if len(events) == 0 {
			continue
		}

		prevHash := ""
		if exists {
			prevHash, _ = tgt[ColHash].(string)
		}

		type happening struct {
			at     any
			delete bool
			row    Record
			hash   string
		}
		var timeline []happening
		alive := exists

		for _, ev := range events {
			at := ev[opts.OrderBy]

			if deleteWhere != nil {
				del, err := deleteWhere.eval(ev)
				if err != nil {
					return MergePlan{}, err
				}
				if del {
					if alive {
						timeline = append(timeline, happening{at: at, delete: true})
						alive = false
						prevHash = ""
					}
					continue
				}
			}

			h := hashRow(ev, trackCols)
			if alive && h == prevHash {
				continue
			}
			timeline = append(timeline, happening{at: at, row: project(ev, updateCols), hash: h})
			alive = true
			prevHash = h
		}

		if len(timeline) == 0 {
			continue
		}

		if exists {
			plan.Expirations = append(plan.Expirations, Expiration{
				Keys:  project(tgt, opts.PrimaryKeys),
				EndAt: timeline[0].at,
			})
		}

		for i, h := range timeline {
			if h.delete {
				continue
			}
			row := cloneRecord(h.row)
			row[ColStartAt] = h.at
			row[ColEndAt] = nil
			if i+1 < len(timeline) {
				row[ColEndAt] = timeline[i+1].at
			}
			row[ColHash] = h.hash
			plan.Inserts = append(plan.Inserts, row)
		}
	}

	plan.Columns = mergedColumns(collectColumns(target), updateCols, []string{ColStartAt, ColEndAt, ColHash})
	return plan, nil
}

// Apply replays a plan over the target rows, returning the merged row set.
// Surviving target rows keep their original order; inserts follow in plan
// order. Transactionality is the caller's concern.
func Apply(target []Record, plan MergePlan) []Record {
	out := make([]Record, 0, len(target)+len(plan.Inserts))

	if plan.SCDType == 2 {
		for _, row := range target {
			row = cloneRecord(row)
			for _, exp := range plan.Expirations {
				if row[ColEndAt] == nil && matchesKeys(row, exp.Keys) {
					row[ColEndAt] = exp.EndAt
				}
			}
			out = append(out, row)
		}
		for _, row := range plan.Inserts {
			out = append(out, cloneRecord(row))
		}
		return out
	}

	deleted := make(map[string]bool, len(plan.Deletes))
	for _, d := range plan.Deletes {
		deleted[keyOf(d, plan.Keys)] = true
	}
	updates := make(map[string]Record, len(plan.Updates))
	for _, u := range plan.Updates {
		updates[keyOf(u, plan.Keys)] = u
	}

	for _, row := range target {
		k := keyOf(row, plan.Keys)
		if deleted[k] {
			continue
		}
		if upd, ok := updates[k]; ok {
			out = append(out, cloneRecord(upd))
			continue
		}
		out = append(out, cloneRecord(row))
	}
	for _, row := range plan.Inserts {
		out = append(out, cloneRecord(row))
	}
	return out
}

type keyGroup struct {
	key    string
	events []Record
}

// groupByKey buckets records by primary key, preserving first-appearance
// order of keys and arrival order of events within a key.
func groupByKey(records []Record, keys []string) []keyGroup {
	idx := make(map[string]int)
	var groups []keyGroup
	for _, rec := range records {
		k := keyOf(rec, keys)
		if i, ok := idx[k]; ok {
			groups[i].events = append(groups[i].events, rec)
			continue
		}
		idx[k] = len(groups)
		groups = append(groups, keyGroup{key: k, events: []Record{rec}})
	}
	return groups
}

// indexByKey maps key fingerprint to row. With currentOnly, rows whose
// ColEndAt is set are skipped (SCD2: only current versions participate).
func indexByKey(records []Record, keys []string, currentOnly bool) map[string]Record {
	idx := make(map[string]Record, len(records))
	for _, rec := range records {
		if currentOnly && rec[ColEndAt] != nil {
			continue
		}
		idx[keyOf(rec, keys)] = rec
	}
	return idx
}

func keyOf(rec Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = util.ValueKey(rec[k])
	}
	return strings.Join(parts, "\x1f")
}

func matchesKeys(rec Record, keys Record) bool {
	for k, v := range keys {
		if util.ValueKey(rec[k]) != util.ValueKey(v) {
			return false
		}
	}
	return true
}

func project(rec Record, cols []string) Record {
	out := make(Record, len(cols))
	for _, c := range cols {
		if v, ok := rec[c]; ok {
			out[c] = v
		}
	}
	return out
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// collectColumns returns the sorted union of column names across records.
func collectColumns(records []Record) []string {
	seen := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			seen[k] = true
		}
	}
	cols := util.Keys(seen)
	sort.Strings(cols)
	return cols
}

// mergedColumns unions target and update columns (sorted), then appends any
// missing meta columns at the end.
func mergedColumns(targetCols, updateCols, meta []string) []string {
	merged := util.Unique(append(append([]string{}, targetCols...), updateCols...))
	merged = util.Filter(merged, func(c string) bool { return !util.Contains(meta, c) })
	sort.Strings(merged)
	return append(merged, meta...)
}

// hashRow digests the tracked column values; equal digests mean the change
// carries no new data for those columns.
func hashRow(rec Record, cols []string) string {
	sorted := append([]string{}, cols...)
	sort.Strings(sorted)
	h := sha1.New()
	for _, c := range sorted {
		fmt.Fprintf(h, "%s=%s\n", c, util.ValueKey(rec[c]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type predicate struct {
	prog *vm.Program
	src  string
}

func compilePredicate(code string) (*predicate, error) {
	prog, err := expr.Compile(code, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, errors.Expression(code, err)
	}
	return &predicate{prog: prog, src: code}, nil
}

func (p *predicate) eval(rec Record) (bool, error) {
	out, err := expr.Run(p.prog, rec)
	if err != nil {
		return false, errors.Expression(p.src, err)
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, errors.Expression(p.src, fmt.Errorf("expected boolean result, got %T", out))
	}
}
