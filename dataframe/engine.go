package dataframe

import (
	"context"

	"github.com/aviral-bhardwaj/laktory/cdc"
)

// ReadRequest describes a source read.
type ReadRequest struct {
	// Path locates the data.
	Path string
	// Format is the storage format at Path.
	Format Format
	// AsStream requests an incremental frame instead of a materialized one.
	AsStream bool
	// Options are reader options (header, delimiter, sheet, ...).
	Options map[string]string
}

// WriteRequest describes a sink write.
type WriteRequest struct {
	// Path locates the target.
	Path string
	// Format is the storage format at Path.
	Format Format
	// Mode is the already-resolved write mode. Engines only ever receive
	// APPEND, OVERWRITE, COMPLETE or MERGE; ERROR and IGNORE are handled
	// before the engine is called.
	Mode WriteMode
	// Options are the resolved write options (see ResolveWriteOptions).
	Options map[string]string
	// CheckpointLocation tracks streaming progress for this sink. Required
	// when writing a streaming frame.
	CheckpointLocation string
	// ClusterBy hints at physical layout for table formats.
	ClusterBy []string
	// Merge carries the CDC policy for MERGE writes.
	Merge *cdc.Options
}

// WriteResult reports what a write did.
type WriteResult struct {
	// Rows is the number of rows written, merged or quarantined into the
	// target by this call.
	Rows int64
	// Version is the target's resulting table version, or -1 for formats
	// without versions.
	Version int64
}

// Engine executes reads and writes against storage. Implementations bind a
// frame's pending operations to actual data movement.
type Engine interface {
	// Name identifies the engine ("local", "spark", ...).
	Name() string

	// Read opens a frame over the data at the request's path. With AsStream
	// set, the returned frame is streaming and rows are only drained at
	// write time, advancing the write's checkpoint.
	Read(ctx context.Context, req ReadRequest) (*Frame, error)

	// Write persists the frame to the request's path, resolving any pending
	// operations first.
	Write(ctx context.Context, frame *Frame, req WriteRequest) (WriteResult, error)

	// Exists reports whether the target at path is present and non-empty.
	Exists(ctx context.Context, path string, format Format) (bool, error)

	// Remove deletes the data at path, recursively.
	Remove(ctx context.Context, path string) error

	// SaveState persists a small JSON state document at path, creating
	// parent directories as needed.
	SaveState(ctx context.Context, path string, doc any) error

	// LoadState reads a state document saved with SaveState into doc. A
	// missing document returns a NOT_FOUND error.
	LoadState(ctx context.Context, path string, doc any) error
}
