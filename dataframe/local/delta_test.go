package local

import (
	"context"
	"testing"

	"github.com/aviral-bhardwaj/laktory/cdc"
	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

func writeTable(t *testing.T, e *Engine, path string, mode dataframe.WriteMode, ds *dataframe.Dataset) dataframe.WriteResult {
	t.Helper()
	res, err := e.Write(context.Background(), dataframe.NewFrame(ds), dataframe.WriteRequest{
		Path: path, Format: dataframe.FormatDelta, Mode: mode,
	})
	if err != nil {
		t.Fatalf("Write(%s) error = %v", mode, err)
	}
	return res
}

func readTable(t *testing.T, e *Engine, path string) *dataframe.Dataset {
	t.Helper()
	frame, err := e.Read(context.Background(), dataframe.ReadRequest{Path: path, Format: dataframe.FormatDelta})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return frame.Dataset()
}

func TestDeltaAppendAndRead(t *testing.T) {
	e := newTestEngine()
	table := "/tables/orders"

	res := writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id", "qty"},
		[]dataframe.Record{{"id": int64(1), "qty": int64(10)}, {"id": int64(2), "qty": int64(20)}},
	))
	if res.Version != 0 {
		t.Errorf("first commit Version = %d, want 0", res.Version)
	}
	if res.Rows != 2 {
		t.Errorf("Rows = %d, want 2", res.Rows)
	}

	res = writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id", "qty"},
		[]dataframe.Record{{"id": int64(3), "qty": int64(30)}},
	))
	if res.Version != 1 {
		t.Errorf("second commit Version = %d, want 1", res.Version)
	}

	ds := readTable(t, e, table)
	if ds.Len() != 3 {
		t.Fatalf("snapshot Len() = %d, want 3", ds.Len())
	}
	if ds.Rows[2]["id"] != int64(3) {
		t.Errorf("rows out of commit order: %v", ds.Rows)
	}

	exists, err := e.Exists(context.Background(), table, dataframe.FormatDelta)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false for a table with rows")
	}
}

func TestDeltaOverwrite(t *testing.T) {
	e := newTestEngine()
	table := "/tables/orders"

	writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}, {"id": int64(2)}}))
	res := writeTable(t, e, table, dataframe.ModeOverwrite, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(9)}}))
	if res.Version != 1 {
		t.Errorf("Version = %d, want 1", res.Version)
	}

	ds := readTable(t, e, table)
	if ds.Len() != 1 || ds.Rows[0]["id"] != int64(9) {
		t.Errorf("snapshot = %v", ds.Rows)
	}
}

func TestDeltaReadMissingTable(t *testing.T) {
	e := newTestEngine()
	_, err := e.Read(context.Background(), dataframe.ReadRequest{Path: "/tables/none", Format: dataframe.FormatDelta})
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Read() error = %v, want NOT_FOUND", err)
	}
}

func TestDeltaExists(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	table := "/tables/orders"

	exists, err := e.Exists(ctx, table, dataframe.FormatDelta)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true for a missing table")
	}

	// A table truncated by an empty overwrite is present but empty.
	writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}}))
	writeTable(t, e, table, dataframe.ModeOverwrite, dataframe.NewDataset([]string{"id"}, nil))

	exists, err = e.Exists(ctx, table, dataframe.FormatDelta)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true for a truncated table")
	}
}

func TestDeltaSchemaEvolution(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	table := "/tables/orders"

	writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}}))

	t.Run("append evolves schema by default", func(t *testing.T) {
		writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
			[]string{"id", "note"}, []dataframe.Record{{"id": int64(2), "note": "n"}}))
		ds := readTable(t, e, table)
		if !ds.HasColumn("note") {
			t.Errorf("schema = %v, want note added", ds.Columns)
		}
	})

	t.Run("append with mergeSchema disabled rejects new columns", func(t *testing.T) {
		_, err := e.Write(ctx, dataframe.NewFrame(dataframe.NewDataset(
			[]string{"id", "extra"}, []dataframe.Record{{"id": int64(3), "extra": true}},
		)), dataframe.WriteRequest{
			Path: table, Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
			Options: map[string]string{dataframe.OptionMergeSchema: "false"},
		})
		if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
			t.Errorf("Write() error = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("overwrite with overwriteSchema disabled keeps schema fixed", func(t *testing.T) {
		_, err := e.Write(ctx, dataframe.NewFrame(dataframe.NewDataset(
			[]string{"other"}, []dataframe.Record{{"other": 1}},
		)), dataframe.WriteRequest{
			Path: table, Format: dataframe.FormatDelta, Mode: dataframe.ModeOverwrite,
			Options: map[string]string{dataframe.OptionOverwriteSchema: "false"},
		})
		if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
			t.Errorf("Write() error = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("overwrite replaces schema by default", func(t *testing.T) {
		writeTable(t, e, table, dataframe.ModeOverwrite, dataframe.NewDataset(
			[]string{"other"}, []dataframe.Record{{"other": int64(1)}}))
		ds := readTable(t, e, table)
		if ds.HasColumn("id") || !ds.HasColumn("other") {
			t.Errorf("schema = %v", ds.Columns)
		}
	})
}

func TestDeltaMergeSCD1(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	table := "/tables/customers"

	writeTable(t, e, table, dataframe.ModeOverwrite, dataframe.NewDataset(
		[]string{"id", "name", "ts"},
		[]dataframe.Record{
			{"id": int64(1), "name": "ann", "ts": int64(1)},
			{"id": int64(2), "name": "bob", "ts": int64(1)},
		}))

	changes := dataframe.NewDataset([]string{"id", "name", "ts", "op"}, []dataframe.Record{
		{"id": int64(1), "name": "anne", "ts": int64(2), "op": "u"},
		{"id": int64(2), "ts": int64(2), "op": "d"},
		{"id": int64(3), "name": "cy", "ts": int64(2), "op": "i"},
	})
	res, err := e.Write(ctx, dataframe.NewFrame(changes), dataframe.WriteRequest{
		Path: table, Format: dataframe.FormatDelta, Mode: dataframe.ModeMerge,
		Merge: &cdc.Options{
			PrimaryKeys: []string{"id"},
			OrderBy:     "ts",
			DeleteWhere: `op == "d"`,
		},
	})
	if err != nil {
		t.Fatalf("Write(MERGE) error = %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3 applied changes", res.Rows)
	}

	ds := readTable(t, e, table)
	if ds.Len() != 2 {
		t.Fatalf("snapshot Len() = %d, want 2", ds.Len())
	}
	byID := make(map[any]dataframe.Record)
	for _, r := range ds.Rows {
		byID[r["id"]] = r
	}
	if byID[int64(1)]["name"] != "anne" {
		t.Errorf("id 1 = %v, want updated name", byID[int64(1)])
	}
	if _, ok := byID[int64(2)]; ok {
		t.Error("id 2 survived its delete event")
	}
	if byID[int64(3)]["name"] != "cy" {
		t.Errorf("id 3 = %v, want inserted", byID[int64(3)])
	}
}

func TestDeltaMergeRequiresOptions(t *testing.T) {
	e := newTestEngine()
	ds := dataframe.NewDataset([]string{"id"}, []dataframe.Record{{"id": int64(1)}})
	_, err := e.Write(context.Background(), dataframe.NewFrame(ds), dataframe.WriteRequest{
		Path: "/tables/x", Format: dataframe.FormatDelta, Mode: dataframe.ModeMerge,
	})
	if !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Errorf("Write() error = %v, want MISSING_FIELD", err)
	}
}

func TestDeltaCommitConflict(t *testing.T) {
	e := newTestEngine()
	table := "/tables/orders"
	writeTable(t, e, table, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}}))

	// Claiming an already-committed version is the loser's view of a race.
	err := e.commitDelta(table, deltaCommit{Version: 0, Operation: opAppend})
	if !errors.HasCode(err, errors.ErrCodeCommitConflict) {
		t.Fatalf("commitDelta() error = %v, want COMMIT_CONFLICT", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("commit conflicts must be retryable")
	}
}

func TestStreamingAppend(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	src := "/tables/brz_orders"
	dst := "/tables/slv_orders"
	ckpt := "/ckpt/slv_orders/sink-1"

	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}, {"id": int64(2)}}))
	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(3)}}))

	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: src, Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	req := dataframe.WriteRequest{
		Path: dst, Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
		CheckpointLocation: ckpt,
	}

	// First drain picks up both source commits.
	res, err := e.Write(ctx, frame, req)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3", res.Rows)
	}
	if readTable(t, e, dst).Len() != 3 {
		t.Errorf("target rows = %d, want 3", readTable(t, e, dst).Len())
	}

	// No new data: nothing written, checkpoint untouched.
	res, err = e.Write(ctx, frame, req)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 0 {
		t.Errorf("Rows = %d, want 0 on an idle drain", res.Rows)
	}

	// New source commit: only the delta flows.
	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(4)}}))
	res, err = e.Write(ctx, frame, req)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 1 {
		t.Errorf("Rows = %d, want 1", res.Rows)
	}
	if readTable(t, e, dst).Len() != 4 {
		t.Errorf("target rows = %d, want 4", readTable(t, e, dst).Len())
	}

	var off streamOffset
	if err := e.LoadState(ctx, offsetPath(ckpt), &off); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if off.Version != 2 {
		t.Errorf("checkpoint version = %d, want 2", off.Version)
	}
}

func TestStreamingAppendWithPendingOps(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	src := "/tables/brz"
	dst := "/tables/slv"

	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id", "ok"},
		[]dataframe.Record{
			{"id": int64(1), "ok": true},
			{"id": int64(2), "ok": false},
			{"id": int64(3), "ok": true},
		}))

	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: src, Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	frame, err = frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
		return ds.Filter(func(r dataframe.Record) (bool, error) { return r["ok"] == true, nil })
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	res, err := e.Write(ctx, frame, dataframe.WriteRequest{
		Path: dst, Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
		CheckpointLocation: "/ckpt/slv/sink-1",
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("Rows = %d, want 2 after the pending filter", res.Rows)
	}
}

func TestStreamingRejectsNonAppendHistory(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	src := "/tables/brz"
	dst := "/tables/slv"
	ckpt := "/ckpt/slv/sink-1"

	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}}))

	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: src, Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	req := dataframe.WriteRequest{
		Path: dst, Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
		CheckpointLocation: ckpt,
	}
	if _, err := e.Write(ctx, frame, req); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// An overwrite lands in the unread range: incremental reads must refuse.
	writeTable(t, e, src, dataframe.ModeOverwrite, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(9)}}))

	_, err = e.Write(ctx, frame, req)
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Write() error = %v, want INVALID_INPUT", err)
	}
}

func TestStreamingComplete(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	src := "/tables/brz"
	dst := "/tables/gld"

	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}, {"id": int64(2)}}))
	writeTable(t, e, src, dataframe.ModeOverwrite, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(9)}}))

	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: src, Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	// COMPLETE ignores per-commit history and rewrites the target from the
	// current snapshot, so overwritten sources still work.
	res, err := e.Write(ctx, frame, dataframe.WriteRequest{
		Path: dst, Format: dataframe.FormatDelta, Mode: dataframe.ModeComplete,
		CheckpointLocation: "/ckpt/gld/sink-1",
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 1 {
		t.Errorf("Rows = %d, want 1", res.Rows)
	}
	ds := readTable(t, e, dst)
	if ds.Len() != 1 || ds.Rows[0]["id"] != int64(9) {
		t.Errorf("target = %v", ds.Rows)
	}
}

func TestStreamingRequiresCheckpoint(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	src := "/tables/brz"
	writeTable(t, e, src, dataframe.ModeAppend, dataframe.NewDataset(
		[]string{"id"}, []dataframe.Record{{"id": int64(1)}}))

	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: src, Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	_, err = e.Write(ctx, frame, dataframe.WriteRequest{
		Path: "/tables/slv", Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
	})
	if !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Errorf("Write() error = %v, want MISSING_FIELD", err)
	}
}

func TestStreamingMissingSource(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	frame, err := e.Read(ctx, dataframe.ReadRequest{Path: "/tables/none", Format: dataframe.FormatDelta, AsStream: true})
	if err != nil {
		t.Fatalf("Read() error = %v (streaming reads are lazy)", err)
	}
	_, err = e.Write(ctx, frame, dataframe.WriteRequest{
		Path: "/tables/out", Format: dataframe.FormatDelta, Mode: dataframe.ModeAppend,
		CheckpointLocation: "/ckpt/out/sink-1",
	})
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Write() error = %v, want NOT_FOUND", err)
	}
}
