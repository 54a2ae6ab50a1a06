package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aviral-bhardwaj/laktory/cdc"
	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/logger"
	"github.com/aviral-bhardwaj/laktory/resilience"
	"github.com/aviral-bhardwaj/laktory/util"
)

const deltaLogDir = "_delta_log"

// Table operations recorded in commits.
const (
	opAppend    = "append"
	opOverwrite = "overwrite"
	opMerge     = "merge"
)

// deltaAddFile registers one part file added by a commit.
type deltaAddFile struct {
	Path string `json:"path"`
	Rows int64  `json:"rows"`
}

// deltaCommit is one entry of the table's commit log, stored as
// _delta_log/<version padded to 20 digits>.json under the table root.
type deltaCommit struct {
	Version   int64          `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Mode      string         `json:"mode"`
	Schema    []string       `json:"schema"`
	Add       []deltaAddFile `json:"add,omitempty"`
	Remove    []string       `json:"remove,omitempty"`
}

// deltaSnapshot is the table state after replaying the commit log.
type deltaSnapshot struct {
	head   int64
	schema []string
	parts  []deltaAddFile
}

func (s deltaSnapshot) liveRows() int64 {
	var n int64
	for _, p := range s.parts {
		n += p.Rows
	}
	return n
}

func (e *Engine) deltaLogPath(table string) string {
	return filepath.Join(table, deltaLogDir)
}

func commitFileName(version int64) string {
	return fmt.Sprintf("%020d.json", version)
}

// deltaHead returns the latest committed version, or -1 for an empty log.
func (e *Engine) deltaHead(table string) (int64, error) {
	entries, err := afero.ReadDir(e.fs, e.deltaLogPath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, errors.Wrap(err, errors.ErrCodeInternal, "listing commit log of "+table)
	}
	head := int64(-1)
	for _, ent := range entries {
		name := ent.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		if v > head {
			head = v
		}
	}
	return head, nil
}

func (e *Engine) readCommit(table string, version int64) (deltaCommit, error) {
	path := filepath.Join(e.deltaLogPath(table), commitFileName(version))
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return deltaCommit{}, errors.NotFound("table version", path)
		}
		return deltaCommit{}, errors.Wrap(err, errors.ErrCodeInternal, "reading "+path)
	}
	var c deltaCommit
	if err := json.Unmarshal(data, &c); err != nil {
		return deltaCommit{}, errors.Wrap(err, errors.ErrCodeInvalidFormat, "decoding "+path)
	}
	return c, nil
}

// deltaSnapshotAt replays all commits. Removed part files stay on disk
// untouched so older versions remain readable; they just drop out of the
// active set.
func (e *Engine) deltaSnapshotAt(table string) (deltaSnapshot, error) {
	snap := deltaSnapshot{head: -1}
	head, err := e.deltaHead(table)
	if err != nil {
		return snap, err
	}
	snap.head = head

	var added []deltaAddFile
	removed := make(map[string]bool)
	for v := int64(0); v <= head; v++ {
		c, err := e.readCommit(table, v)
		if err != nil {
			return snap, err
		}
		for _, r := range c.Remove {
			removed[r] = true
		}
		added = append(added, c.Add...)
		snap.schema = c.Schema
	}
	for _, p := range added {
		if !removed[p.Path] {
			snap.parts = append(snap.parts, p)
		}
	}
	return snap, nil
}

func (e *Engine) readParts(table string, parts []deltaAddFile) ([]dataframe.Record, error) {
	var rows []dataframe.Record
	for _, p := range parts {
		recs, err := e.readJSONLines(filepath.Join(table, p.Path))
		if err != nil {
			return nil, err
		}
		rows = append(rows, recs...)
	}
	return rows, nil
}

// readDeltaSnapshot reads the table's current state as a dataset.
func (e *Engine) readDeltaSnapshot(table string) (*dataframe.Dataset, error) {
	snap, err := e.deltaSnapshotAt(table)
	if err != nil {
		return nil, err
	}
	if snap.head < 0 {
		return nil, errors.NotFound("table", table)
	}
	rows, err := e.readParts(table, snap.parts)
	if err != nil {
		return nil, err
	}
	return dataframe.NewDataset(snap.schema, rows), nil
}

func (e *Engine) deltaExists(table string) (bool, error) {
	snap, err := e.deltaSnapshotAt(table)
	if err != nil {
		return false, err
	}
	return snap.head >= 0 && snap.liveRows() > 0, nil
}

// writeDelta commits the dataset, retrying on commit conflicts so concurrent
// writers serialize through the version counter.
func (e *Engine) writeDelta(ctx context.Context, ds *dataframe.Dataset, req dataframe.WriteRequest) (dataframe.WriteResult, error) {
	return resilience.Retry(ctx, e.retry, func() (dataframe.WriteResult, error) {
		return e.tryCommitDelta(ds, req)
	})
}

func (e *Engine) tryCommitDelta(ds *dataframe.Dataset, req dataframe.WriteRequest) (dataframe.WriteResult, error) {
	var zero dataframe.WriteResult
	snap, err := e.deltaSnapshotAt(req.Path)
	if err != nil {
		return zero, err
	}

	commit := deltaCommit{
		Version:   snap.head + 1,
		Timestamp: time.Now().UTC(),
		Mode:      string(req.Mode),
	}
	var newRows []dataframe.Record
	var affected int64

	switch req.Mode {
	case dataframe.ModeAppend:
		commit.Operation = opAppend
		commit.Schema, err = appendedSchema(snap, ds, req.Options)
		if err != nil {
			return zero, err
		}
		newRows = ds.Rows
		affected = int64(ds.Len())

	case dataframe.ModeOverwrite, dataframe.ModeComplete:
		commit.Operation = opOverwrite
		commit.Schema, err = overwrittenSchema(snap, ds, req.Options)
		if err != nil {
			return zero, err
		}
		commit.Remove = partPaths(snap.parts)
		newRows = ds.Rows
		affected = int64(ds.Len())

	case dataframe.ModeMerge:
		if req.Merge == nil {
			return zero, errors.MissingField("merge_cdc_options")
		}
		commit.Operation = opMerge
		target, err := e.readParts(req.Path, snap.parts)
		if err != nil {
			return zero, err
		}
		plan, err := cdc.Plan(target, ds.Rows, *req.Merge)
		if err != nil {
			return zero, err
		}
		commit.Schema = mergeSchemas(snap.schema, plan.Columns)
		commit.Remove = partPaths(snap.parts)
		newRows = cdc.Apply(target, plan)
		affected = int64(len(plan.Inserts) + len(plan.Updates) + len(plan.Deletes) + len(plan.Expirations))

	default:
		return zero, errors.InvalidInput("mode", fmt.Sprintf("table writes do not support mode %s", req.Mode))
	}

	if len(newRows) > 0 {
		part := fmt.Sprintf("part-%05d-%s.json", commit.Version, uuid.NewString())
		if err := e.writeJSONLines(filepath.Join(req.Path, part), newRows); err != nil {
			return zero, err
		}
		commit.Add = []deltaAddFile{{Path: part, Rows: int64(len(newRows))}}
	}

	if err := e.commitDelta(req.Path, commit); err != nil {
		for _, add := range commit.Add {
			_ = e.fs.Remove(filepath.Join(req.Path, add.Path))
		}
		return zero, err
	}

	e.log.Debug("committed table version", logger.Fields(
		"path", req.Path,
		"version", commit.Version,
		"operation", commit.Operation,
		"rows", affected,
	))
	return dataframe.WriteResult{Rows: affected, Version: commit.Version}, nil
}

// commitDelta races to create the commit file. Losing the race surfaces as a
// retryable conflict; the caller re-reads the log and tries the next version.
func (e *Engine) commitDelta(table string, commit deltaCommit) error {
	data, err := json.MarshalIndent(commit, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "encoding commit")
	}
	logDir := e.deltaLogPath(table)
	if err := e.fs.MkdirAll(logDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+logDir)
	}
	path := filepath.Join(logDir, commitFileName(commit.Version))
	f, err := e.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.CommitConflict(table, commit.Version)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+path)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
	}
	return nil
}

// appendedSchema computes the post-append schema. New columns require the
// mergeSchema option; the first commit adopts the incoming schema as-is.
func appendedSchema(snap deltaSnapshot, ds *dataframe.Dataset, opts map[string]string) ([]string, error) {
	if snap.head < 0 {
		return append([]string{}, ds.Columns...), nil
	}
	var missing []string
	for _, c := range ds.Columns {
		if !util.Contains(snap.schema, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return snap.schema, nil
	}
	if opts[dataframe.OptionMergeSchema] != "true" {
		return nil, errors.InvalidInput("write", fmt.Sprintf(
			"columns %v are absent from the table schema; set %s to evolve it",
			missing, dataframe.OptionMergeSchema))
	}
	return append(append([]string{}, snap.schema...), missing...), nil
}

// overwrittenSchema replaces the schema on overwrite. Changing it requires
// the overwriteSchema option unless the table is empty.
func overwrittenSchema(snap deltaSnapshot, ds *dataframe.Dataset, opts map[string]string) ([]string, error) {
	if snap.head >= 0 && !sameColumnSet(snap.schema, ds.Columns) && opts[dataframe.OptionOverwriteSchema] != "true" {
		return nil, errors.InvalidInput("write", fmt.Sprintf(
			"overwriting with a different schema requires %s", dataframe.OptionOverwriteSchema))
	}
	return append([]string{}, ds.Columns...), nil
}

func mergeSchemas(existing, incoming []string) []string {
	out := append([]string{}, existing...)
	for _, c := range incoming {
		if !util.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, c := range a {
		if !util.Contains(b, c) {
			return false
		}
	}
	return true
}

func partPaths(parts []deltaAddFile) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Path
	}
	return out
}
