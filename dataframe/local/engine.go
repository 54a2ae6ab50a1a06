package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/logger"
	"github.com/aviral-bhardwaj/laktory/resilience"
)

// Engine executes reads and writes against a local filesystem.
type Engine struct {
	fs    afero.Fs
	log   *logger.Logger
	retry resilience.RetryConfig
}

// Option configures the engine.
type Option func(*Engine)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRetry sets the retry policy for optimistic table commits.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// New builds a local engine.
func New(opts ...Option) *Engine {
	retry := resilience.DefaultRetryConfig()
	retry.RetryIf = errors.IsRetryable
	e := &Engine{
		fs:    afero.NewOsFs(),
		log:   logger.NewDefault("local-engine"),
		retry: retry,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the engine.
func (e *Engine) Name() string { return "local" }

// Read opens a frame over the data at the request's path. Batch reads
// materialize immediately; streaming reads stay lazy, so a missing source
// only surfaces when the frame is drained at write time.
func (e *Engine) Read(ctx context.Context, req dataframe.ReadRequest) (*dataframe.Frame, error) {
	if !req.Format.Valid() {
		return nil, errors.InvalidFormat("format", "CSV|PARQUET|JSON|DELTA|EXCEL")
	}
	if req.AsStream {
		if req.Format != dataframe.FormatDelta {
			return nil, errors.InvalidInput("source", "local engine streams DELTA tables only")
		}
		return dataframe.NewStreamingFrame(dataframe.Scan{
			Path:    req.Path,
			Format:  req.Format,
			Options: req.Options,
		}), nil
	}

	e.log.Debug("reading source", logger.Fields("path", req.Path, "format", string(req.Format)))

	var ds *dataframe.Dataset
	var err error
	switch req.Format {
	case dataframe.FormatCSV:
		ds, err = e.readCSV(req.Path, req.Options)
	case dataframe.FormatJSON:
		ds, err = e.readJSON(req.Path)
	case dataframe.FormatExcel:
		ds, err = e.readExcel(req.Path, req.Options)
	case dataframe.FormatDelta:
		ds, err = e.readDeltaSnapshot(req.Path)
	default:
		return nil, errors.UnsupportedFormat(string(req.Format), e.Name())
	}
	if err != nil {
		return nil, err
	}
	return dataframe.NewFrame(ds), nil
}

// Write persists the frame at the request's path. Streaming frames drain
// newly committed source data and advance the sink checkpoint; batch frames
// write their materialized rows directly.
func (e *Engine) Write(ctx context.Context, frame *dataframe.Frame, req dataframe.WriteRequest) (dataframe.WriteResult, error) {
	if frame.Streaming() {
		return e.writeStreaming(ctx, frame, req)
	}
	ds, err := frame.ResolveOps(frame.Dataset())
	if err != nil {
		return dataframe.WriteResult{}, err
	}
	return e.writeBatch(ctx, ds, req)
}

func (e *Engine) writeBatch(ctx context.Context, ds *dataframe.Dataset, req dataframe.WriteRequest) (dataframe.WriteResult, error) {
	if req.Mode == dataframe.ModeMerge && !req.Format.SupportsMerge() {
		return dataframe.WriteResult{}, errors.InvalidInput("sink", "MERGE requires a DELTA target")
	}
	// Layering is idempotent, so options resolved upstream pass through
	// unchanged while direct engine calls still get the defaults.
	req.Options = dataframe.ResolveWriteOptions(req.Mode, req.Options)

	e.log.Debug("writing sink", logger.Fields(
		"path", req.Path,
		"format", string(req.Format),
		"mode", string(req.Mode),
		"rows", ds.Len(),
	))

	switch req.Format {
	case dataframe.FormatDelta:
		return e.writeDelta(ctx, ds, req)
	case dataframe.FormatCSV:
		return e.writeFile(req, ds, e.encodeCSV, e.readCSV)
	case dataframe.FormatJSON:
		return e.writeFile(req, ds, e.encodeJSON, func(path string, _ map[string]string) (*dataframe.Dataset, error) {
			return e.readJSON(path)
		})
	case dataframe.FormatExcel:
		return e.writeFile(req, ds, e.encodeExcel, e.readExcel)
	default:
		return dataframe.WriteResult{}, errors.UnsupportedFormat(string(req.Format), e.Name())
	}
}

// writeFile handles the single-file formats. APPEND reads the existing rows
// and rewrites the file with old and new rows; OVERWRITE and COMPLETE replace
// it.
func (e *Engine) writeFile(
	req dataframe.WriteRequest,
	ds *dataframe.Dataset,
	encode func(path string, ds *dataframe.Dataset, options map[string]string) error,
	read func(path string, options map[string]string) (*dataframe.Dataset, error),
) (dataframe.WriteResult, error) {
	out := ds
	if req.Mode == dataframe.ModeAppend {
		exists, err := e.fileExists(req.Path)
		if err != nil {
			return dataframe.WriteResult{}, err
		}
		if exists {
			prev, err := read(req.Path, req.Options)
			if err != nil {
				return dataframe.WriteResult{}, err
			}
			out = prev.Union(ds)
		}
	}
	if err := e.mkParent(req.Path); err != nil {
		return dataframe.WriteResult{}, err
	}
	if err := encode(req.Path, out, req.Options); err != nil {
		return dataframe.WriteResult{}, err
	}
	return dataframe.WriteResult{Rows: int64(ds.Len()), Version: -1}, nil
}

// Exists reports whether the target is present and non-empty: for DELTA, at
// least one commit with live rows; for files, a non-empty file.
func (e *Engine) Exists(ctx context.Context, path string, format dataframe.Format) (bool, error) {
	if format == dataframe.FormatDelta {
		return e.deltaExists(path)
	}
	return e.fileExists(path)
}

// Remove deletes the data at path, recursively.
func (e *Engine) Remove(ctx context.Context, path string) error {
	if err := e.fs.RemoveAll(path); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "removing "+path)
	}
	return nil
}

// SaveState persists a JSON state document, creating parent directories.
func (e *Engine) SaveState(ctx context.Context, path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "encoding state "+path)
	}
	if err := e.mkParent(path); err != nil {
		return err
	}
	if err := afero.WriteFile(e.fs, path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing state "+path)
	}
	return nil
}

// LoadState reads a state document saved with SaveState. Missing documents
// return a NOT_FOUND error.
func (e *Engine) LoadState(ctx context.Context, path string, doc any) error {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("state", path)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "reading state "+path)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "decoding state "+path)
	}
	return nil
}

func (e *Engine) fileExists(path string) (bool, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeInternal, "stat "+path)
	}
	if info.IsDir() {
		return false, nil
	}
	return info.Size() > 0, nil
}

func (e *Engine) mkParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+dir)
	}
	return nil
}
