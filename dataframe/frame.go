package dataframe

import (
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Op is a pure dataset transformation, applied eagerly on materialized
// frames and deferred until write time on streaming frames.
type Op func(*Dataset) (*Dataset, error)

// Scan describes where a streaming frame reads from. The engine resolves
// the scan against the sink's checkpoint at write time.
type Scan struct {
	Path    string
	Format  Format
	Options map[string]string
}

// Frame is the dataframe handle passed between pipeline nodes: either a
// materialized Dataset or a streaming scan with pending operations.
type Frame struct {
	dataset *Dataset
	scan    *Scan
	ops     []Op
}

// NewFrame wraps a materialized dataset.
func NewFrame(ds *Dataset) *Frame {
	if ds == nil {
		ds = &Dataset{}
	}
	return &Frame{dataset: ds}
}

// NewStreamingFrame creates a lazy frame over a scan descriptor.
func NewStreamingFrame(scan Scan) *Frame {
	return &Frame{scan: &scan}
}

// Streaming reports whether the frame is an unresolved streaming scan.
func (f *Frame) Streaming() bool { return f.scan != nil }

// Columns returns the column order of a materialized frame; nil for
// streaming frames, whose schema is only known at resolution.
func (f *Frame) Columns() []string {
	if f.dataset == nil {
		return nil
	}
	return f.dataset.Columns
}

// Count returns the number of rows of a materialized frame. Streaming
// frames have no bounded count.
func (f *Frame) Count() (int64, error) {
	if f.scan != nil {
		return 0, errors.InvalidInput("count", "streaming frame has no bounded row count")
	}
	return int64(len(f.dataset.Rows)), nil
}

// Records returns the rows of a materialized frame; nil for streaming
// frames.
func (f *Frame) Records() []Record {
	if f.dataset == nil {
		return nil
	}
	return f.dataset.Rows
}

// Dataset returns the underlying dataset of a materialized frame; nil for
// streaming frames.
func (f *Frame) Dataset() *Dataset { return f.dataset }

// ScanSpec returns the scan descriptor of a streaming frame; nil otherwise.
func (f *Frame) ScanSpec() *Scan { return f.scan }

// PendingOps returns the deferred operation chain of a streaming frame.
func (f *Frame) PendingOps() []Op { return f.ops }

// Apply runs op now on a materialized frame, or appends it to the pending
// chain of a streaming frame. Either way a new Frame is returned.
func (f *Frame) Apply(op Op) (*Frame, error) {
	if f.scan != nil {
		ops := make([]Op, 0, len(f.ops)+1)
		ops = append(ops, f.ops...)
		ops = append(ops, op)
		return &Frame{scan: f.scan, ops: ops}, nil
	}
	ds, err := op(f.dataset)
	if err != nil {
		return nil, err
	}
	return &Frame{dataset: ds}, nil
}

// ResolveOps applies the pending operation chain to a dataset the engine
// scanned for a streaming frame.
func (f *Frame) ResolveOps(ds *Dataset) (*Dataset, error) {
	var err error
	for _, op := range f.ops {
		ds, err = op(ds)
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}
