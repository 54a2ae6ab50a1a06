package local

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/logger"
)

// streamOffset is the per-sink checkpoint document: the last source table
// version whose rows have been written to the target.
type streamOffset struct {
	Version int64 `json:"version"`
}

const offsetFileName = "offset.json"

func offsetPath(checkpoint string) string {
	return filepath.Join(checkpoint, offsetFileName)
}

// writeStreaming drains the streaming frame's source once: rows committed to
// the source table after the checkpointed version are read, the frame's
// pending operations are applied, the result is written to the target, and
// the checkpoint advances. COMPLETE mode re-reads the full snapshot instead
// and overwrites the target.
func (e *Engine) writeStreaming(ctx context.Context, frame *dataframe.Frame, req dataframe.WriteRequest) (dataframe.WriteResult, error) {
	var zero dataframe.WriteResult
	scan := frame.ScanSpec()
	if scan == nil || scan.Format != dataframe.FormatDelta {
		return zero, errors.InvalidInput("source", "local engine streams DELTA tables only")
	}
	if req.CheckpointLocation == "" {
		return zero, errors.MissingField("checkpoint_location")
	}

	srcHead, err := e.deltaHead(scan.Path)
	if err != nil {
		return zero, err
	}
	if srcHead < 0 {
		return zero, errors.NotFound("table", scan.Path)
	}

	off := streamOffset{Version: -1}
	offPath := offsetPath(req.CheckpointLocation)
	if err := e.LoadState(ctx, offPath, &off); err != nil && !errors.HasCode(err, errors.ErrCodeNotFound) {
		return zero, err
	}

	if off.Version >= srcHead {
		e.log.Debug("no new source versions", logger.Fields("source", scan.Path, "version", off.Version))
		return dataframe.WriteResult{Rows: 0, Version: -1}, nil
	}

	var batch *dataframe.Dataset
	switch req.Mode {
	case dataframe.ModeComplete:
		batch, err = e.readDeltaSnapshot(scan.Path)
	case dataframe.ModeAppend, dataframe.ModeMerge:
		batch, err = e.readDeltaRange(scan.Path, off.Version, srcHead)
	default:
		return zero, errors.InvalidInput("mode", fmt.Sprintf("streaming writes do not support mode %s", req.Mode))
	}
	if err != nil {
		return zero, err
	}

	resolved, err := frame.ResolveOps(batch)
	if err != nil {
		return zero, err
	}

	res, err := e.writeBatch(ctx, resolved, req)
	if err != nil {
		return zero, err
	}

	if err := e.SaveState(ctx, offPath, streamOffset{Version: srcHead}); err != nil {
		return zero, err
	}
	e.log.Debug("advanced stream checkpoint", logger.Fields(
		"source", scan.Path,
		"from", off.Version,
		"to", srcHead,
		"rows", res.Rows,
	))
	return res, nil
}

// readDeltaRange reads the rows committed in versions (after, through]. The
// range must be append-only: any overwrite or merge in it invalidates
// incremental reading and requires a full refresh of the consumer.
func (e *Engine) readDeltaRange(table string, after, through int64) (*dataframe.Dataset, error) {
	var rows []dataframe.Record
	var schema []string
	for v := after + 1; v <= through; v++ {
		c, err := e.readCommit(table, v)
		if err != nil {
			return nil, err
		}
		if c.Operation != opAppend {
			return nil, errors.InvalidInput("source", fmt.Sprintf(
				"version %d of %s is a %s commit; incremental reads require append-only history (run a full refresh)",
				v, table, c.Operation))
		}
		schema = c.Schema
		for _, p := range c.Add {
			recs, err := e.readJSONLines(filepath.Join(table, p.Path))
			if err != nil {
				return nil, err
			}
			rows = append(rows, recs...)
		}
	}
	return dataframe.NewDataset(schema, rows), nil
}
