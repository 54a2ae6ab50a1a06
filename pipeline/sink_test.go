package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/aviral-bhardwaj/laktory/cdc"
	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/dataframe/local"
	"github.com/aviral-bhardwaj/laktory/errors"
)

func newSinkEngine() *local.Engine {
	return local.New(local.WithFs(afero.NewMemMapFs()))
}

// boundSink validates a sink attached to a throwaway node so checkpoint
// paths resolve.
func boundSink(t *testing.T, s *Sink) *Sink {
	t.Helper()
	n := &Node{Name: "orders"}
	n.pipeline = &Pipeline{Name: "sales", RootPath: "/lake/sales"}
	s.node = n
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return s
}

func sinkFrame(rows ...dataframe.Record) *dataframe.Frame {
	return dataframe.NewFrame(dataframe.FromRecords(rows))
}

func TestSinkValidateMergeRequiresDelta(t *testing.T) {
	s := &Sink{
		Path: "/tables/orders.csv", Format: "CSV", Mode: "MERGE",
		Merge: &cdc.Options{PrimaryKeys: []string{"id"}},
	}
	err := s.Validate()
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
}

func TestSinkValidateMergeRequiresOptions(t *testing.T) {
	s := &Sink{Path: "/tables/orders", Format: "DELTA", Mode: "MERGE"}
	err := s.Validate()
	if !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Errorf("error = %v, want MISSING_FIELD", err)
	}
}

func TestSinkValidateMergeAppliesCDCDefaults(t *testing.T) {
	s := &Sink{
		Path: "/tables/orders", Format: "DELTA", Mode: "MERGE",
		Merge: &cdc.Options{PrimaryKeys: []string{"id"}},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if s.Merge.SCDType != 1 {
		t.Errorf("SCDType = %d, want default 1", s.Merge.SCDType)
	}
}

func TestSinkValidateClusterByRequiresDelta(t *testing.T) {
	s := &Sink{Path: "/tables/orders.csv", Format: "CSV", ClusterBy: []string{"region"}}
	if err := s.Validate(); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
	s = &Sink{Path: "/tables/orders", Format: "DELTA", ClusterBy: []string{"region"}}
	if err := s.Validate(); err != nil {
		t.Errorf("DELTA cluster_by should validate, got %v", err)
	}
}

func TestSinkPrimaryFlag(t *testing.T) {
	s := &Sink{Path: "/t", Format: "CSV"}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	if !s.Primary() {
		t.Error("sink should default to primary")
	}

	q := &Sink{Path: "/q", Format: "CSV", IsQuarantine: true}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Primary() {
		t.Error("quarantine sink should not default to primary")
	}

	no := false
	secondary := &Sink{Path: "/s", Format: "CSV", IsPrimary: &no}
	if err := secondary.Validate(); err != nil {
		t.Fatal(err)
	}
	if secondary.Primary() {
		t.Error("explicit is_primary=false should win")
	}

	yes := true
	both := &Sink{Path: "/b", Format: "CSV", IsPrimary: &yes, IsQuarantine: true}
	if err := both.Validate(); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("primary+quarantine error = %v, want INVALID_INPUT", err)
	}
}

func TestSinkExpectationSelectionRequiresQuarantine(t *testing.T) {
	s := &Sink{Path: "/t", Format: "CSV", Expectations: []string{"rule"}}
	if err := s.Validate(); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
}

func TestSinkCaptures(t *testing.T) {
	all := &Sink{IsQuarantine: true}
	if !all.captures("anything") {
		t.Error("empty selection should capture every rule")
	}
	some := &Sink{IsQuarantine: true, Expectations: []string{"a", "b"}}
	if !some.captures("a") || some.captures("c") {
		t.Error("selection should capture only the named rules")
	}
}

func TestSinkDeterministicCheckpoint(t *testing.T) {
	first := boundSink(t, &Sink{Path: "/tables/orders", Format: "DELTA"})
	second := boundSink(t, &Sink{Path: "/tables/orders", Format: "DELTA"})
	if first.ID() != second.ID() {
		t.Errorf("same identity should derive the same uuid: %s vs %s", first.ID(), second.ID())
	}
	if first.checkpointLocation() != second.checkpointLocation() {
		t.Errorf("checkpoint locations differ: %s vs %s", first.checkpointLocation(), second.checkpointLocation())
	}
	want := filepath.Join("/lake/sales", "orders", "checkpoints", "sink-"+first.ID().String())
	if first.checkpointLocation() != want {
		t.Errorf("checkpointLocation() = %s, want %s", first.checkpointLocation(), want)
	}

	other := boundSink(t, &Sink{Path: "/tables/other", Format: "DELTA"})
	if other.ID() == first.ID() {
		t.Error("different paths should derive different uuids")
	}
}

func TestSinkCheckpointLocationOverride(t *testing.T) {
	s := boundSink(t, &Sink{Path: "/tables/orders", Format: "DELTA", CheckpointLocation: "/ckpt/custom"})
	if s.checkpointLocation() != "/ckpt/custom" {
		t.Errorf("checkpointLocation() = %s, want /ckpt/custom", s.checkpointLocation())
	}
}

func TestSinkWriteAndAsSourceRoundTrip(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/orders.csv", Format: "CSV"})

	res, err := s.Write(ctx, e, sinkFrame(
		dataframe.Record{"id": int64(1), "qty": int64(5)},
		dataframe.Record{"id": int64(2), "qty": int64(7)},
	), SinkWriteOptions{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("Rows = %d, want 2", res.Rows)
	}

	exists, err := s.Exists(ctx, e)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	src := s.AsSource(false)
	if src.Path != s.Path || src.Format != "CSV" || src.AsStream {
		t.Errorf("AsSource() = %+v", src)
	}
	frame, err := s.Read(ctx, e, false)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	rows := frame.Records()
	if len(rows) != 2 {
		t.Fatalf("read %d rows, want 2", len(rows))
	}
	if rows[0]["id"] != int64(1) || rows[1]["qty"] != int64(7) {
		t.Errorf("round trip mismatch: %v", rows)
	}
}

func TestSinkWriteAbsentTargetOverwrites(t *testing.T) {
	// Configured APPEND, but the first write against an absent target
	// self-heals to OVERWRITE.
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/a.csv", Format: "CSV", Mode: "APPEND"})

	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(1)}), SinkWriteOptions{}); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(2)}), SinkWriteOptions{}); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	frame, err := s.Read(ctx, e, false)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(frame.Records()); n != 2 {
		t.Errorf("rows = %d, want 2 appended", n)
	}
}

func TestSinkWriteFullRefresh(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/fr.csv", Format: "CSV", Mode: "APPEND"})

	for i := 0; i < 2; i++ {
		if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(i)}), SinkWriteOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(99)}), SinkWriteOptions{FullRefresh: true}); err != nil {
		t.Fatal(err)
	}
	frame, err := s.Read(ctx, e, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := frame.Records()
	if len(rows) != 1 || rows[0]["id"] != int64(99) {
		t.Errorf("full refresh should leave only the new write, got %v", rows)
	}
}

func TestSinkWriteErrorMode(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/once.csv", Format: "CSV", Mode: "ERROR"})

	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(1)}), SinkWriteOptions{}); err != nil {
		t.Fatalf("write against absent target should pass, got %v", err)
	}
	_, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(2)}), SinkWriteOptions{})
	if !errors.HasCode(err, errors.ErrCodeAlreadyExists) {
		t.Errorf("error = %v, want ALREADY_EXISTS", err)
	}
}

func TestSinkWriteIgnoreMode(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/ign.csv", Format: "CSV", Mode: "IGNORE"})

	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(1)}), SinkWriteOptions{}); err != nil {
		t.Fatalf("write against absent target should pass, got %v", err)
	}
	res, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(2)}), SinkWriteOptions{})
	if err != nil {
		t.Fatalf("ignored write should not error, got %v", err)
	}
	if res.Rows != 0 {
		t.Errorf("ignored write Rows = %d, want 0", res.Rows)
	}
	frame, err := s.Read(ctx, e, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := frame.Records()
	if len(rows) != 1 || rows[0]["id"] != int64(1) {
		t.Errorf("target should be unchanged, got %v", rows)
	}
}

func TestSinkMergeWrite(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{
		Path: "/tables/cust", Format: "DELTA", Mode: "MERGE",
		Merge: &cdc.Options{PrimaryKeys: []string{"id"}},
	})

	if _, err := s.Write(ctx, e, sinkFrame(
		dataframe.Record{"id": int64(1), "name": "ann"},
		dataframe.Record{"id": int64(2), "name": "bob"},
	), SinkWriteOptions{}); err != nil {
		t.Fatalf("seed Write() error = %v", err)
	}
	if _, err := s.Write(ctx, e, sinkFrame(
		dataframe.Record{"id": int64(2), "name": "bobby"},
		dataframe.Record{"id": int64(3), "name": "cyn"},
	), SinkWriteOptions{}); err != nil {
		t.Fatalf("merge Write() error = %v", err)
	}

	frame, err := s.Read(ctx, e, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := frame.Records()
	if len(rows) != 3 {
		t.Fatalf("merged table has %d rows, want 3", len(rows))
	}
	names := map[int64]string{}
	for _, rec := range rows {
		names[rec["id"].(int64)] = rec["name"].(string)
	}
	if names[2] != "bobby" {
		t.Errorf("id 2 = %q, want updated to bobby", names[2])
	}
}

func TestSinkPurge(t *testing.T) {
	e := newSinkEngine()
	ctx := context.Background()
	s := boundSink(t, &Sink{Path: "/tables/purged", Format: "DELTA"})

	if _, err := s.Write(ctx, e, sinkFrame(dataframe.Record{"id": int64(1)}), SinkWriteOptions{}); err != nil {
		t.Fatal(err)
	}
	offsetPath := filepath.Join(s.checkpointLocation(), "offset.json")
	if err := e.SaveState(ctx, offsetPath, map[string]int64{"version": 0}); err != nil {
		t.Fatal(err)
	}

	if err := s.Purge(ctx, e); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	exists, err := s.Exists(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("target should be gone after purge")
	}
	var off map[string]int64
	if err := e.LoadState(ctx, offsetPath, &off); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("checkpoint state should be gone, got %v", err)
	}
}

func TestSinkAsSourceCarriesLayoutOptions(t *testing.T) {
	s := boundSink(t, &Sink{
		Path: "/tables/raw.csv", Format: "CSV",
		WriteOptions: map[string]string{"delimiter": ";"},
	})
	src := s.AsSource(true)
	if !src.AsStream {
		t.Error("AsSource(true) should request streaming")
	}
	if src.Options["delimiter"] != ";" {
		t.Errorf("options = %v, want delimiter carried over", src.Options)
	}
	if !strings.HasPrefix(src.Path, "/tables/") {
		t.Errorf("path = %s", src.Path)
	}
}
