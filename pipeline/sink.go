package pipeline

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aviral-bhardwaj/laktory/cdc"
	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Sink persists a node's output to a target location. A node has at most
// one primary sink (receives the passing rows and backs downstream reads)
// and any number of quarantine sinks (receive rows failing
// QUARANTINE-action expectations).
type Sink struct {
	// Path is the write target location. Required.
	Path string `yaml:"path" json:"path"`

	// Format of the target (CSV, PARQUET, JSON, DELTA, EXCEL). Required.
	Format string `yaml:"format" json:"format"`

	// Mode is the configured write mode (APPEND, OVERWRITE, MERGE,
	// COMPLETE, ERROR, IGNORE). Empty defaults to APPEND at write time;
	// full refreshes and absent targets override it.
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// CheckpointLocation overrides the derived per-sink checkpoint
	// directory used by streaming writes.
	CheckpointLocation string `yaml:"checkpoint_location,omitempty" json:"checkpoint_location,omitempty"`

	// Merge configures CDC merge semantics. Required when Mode is MERGE.
	Merge *cdc.Options `yaml:"merge_cdc_options,omitempty" json:"merge_cdc_options,omitempty"`

	// ClusterBy names clustering columns for DELTA targets.
	ClusterBy []string `yaml:"cluster_by,omitempty" json:"cluster_by,omitempty"`

	// WriteOptions are format-specific write options (mergeSchema,
	// delimiter, sheet and friends). Mode-implied defaults are layered
	// underneath at write time.
	WriteOptions map[string]string `yaml:"write_options,omitempty" json:"write_options,omitempty"`

	// IsPrimary marks the sink whose output downstream nodes read.
	// Defaults to true for non-quarantine sinks.
	IsPrimary *bool `yaml:"is_primary,omitempty" json:"is_primary,omitempty"`

	// IsQuarantine routes expectation failures to this sink instead of
	// node output.
	IsQuarantine bool `yaml:"is_quarantine,omitempty" json:"is_quarantine,omitempty"`

	// Expectations selects which QUARANTINE rules this sink captures by
	// name. Empty captures all of them.
	Expectations []string `yaml:"expectations,omitempty" json:"expectations,omitempty"`

	format dataframe.Format
	mode   dataframe.WriteMode
	node   *Node
}

// SinkWriteOptions carry per-run overrides into a sink write.
type SinkWriteOptions struct {
	// Mode overrides the sink's configured mode for this write.
	Mode dataframe.WriteMode

	// FullRefresh discards prior sink state: the checkpoint is cleared
	// and the target is overwritten.
	FullRefresh bool
}

// Validate checks the declaration. MERGE is only legal against DELTA
// targets and requires CDC options; clustering keys are DELTA-only.
func (s *Sink) Validate() error {
	if s.Path == "" {
		return errors.MissingField("sink.path")
	}
	f, err := dataframe.ParseFormat(s.Format)
	if err != nil {
		return err
	}
	s.format = f
	if s.Mode != "" {
		m, err := dataframe.ParseWriteMode(s.Mode)
		if err != nil {
			return err
		}
		s.mode = m
	}
	if s.mode == dataframe.ModeMerge {
		if s.format != dataframe.FormatDelta {
			return errors.InvalidInput("sink", "MERGE mode requires a DELTA target")
		}
		if s.Merge == nil {
			return errors.MissingField("sink.merge_cdc_options")
		}
	}
	if s.Merge != nil {
		s.Merge.ApplyDefaults()
		if err := s.Merge.Validate(); err != nil {
			return err
		}
	}
	if len(s.ClusterBy) > 0 && s.format != dataframe.FormatDelta {
		return errors.InvalidInput("sink", "cluster_by requires a DELTA target")
	}
	if s.IsQuarantine && s.IsPrimary != nil && *s.IsPrimary {
		return errors.InvalidInput("sink", "a sink cannot be both primary and quarantine")
	}
	if len(s.Expectations) > 0 && !s.IsQuarantine {
		return errors.InvalidInput("sink", "expectations selection applies to quarantine sinks only")
	}
	return nil
}

// Primary reports whether downstream nodes read from this sink.
func (s *Sink) Primary() bool {
	if s.IsPrimary != nil {
		return *s.IsPrimary
	}
	return !s.IsQuarantine
}

// captures reports whether a quarantine sink receives failures of the
// named rule.
func (s *Sink) captures(rule string) bool {
	if len(s.Expectations) == 0 {
		return true
	}
	for _, name := range s.Expectations {
		if name == rule {
			return true
		}
	}
	return false
}

// ID derives the sink's stable identity from its node and path. The same
// declaration always yields the same uuid, so checkpoint directories
// survive process restarts.
func (s *Sink) ID() uuid.UUID {
	name := ""
	if s.node != nil {
		name = s.node.Name
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("laktory://sink/"+name+"/"+s.Path))
}

// checkpointLocation is where streaming state for this sink lives.
func (s *Sink) checkpointLocation() string {
	if s.CheckpointLocation != "" {
		return s.CheckpointLocation
	}
	root := s.Path
	if s.node != nil {
		root = s.node.rootPath()
	}
	return filepath.Join(root, "checkpoints", "sink-"+s.ID().String())
}

// Exists reports whether the sink target is present and non-empty.
func (s *Sink) Exists(ctx context.Context, engine dataframe.Engine) (bool, error) {
	return engine.Exists(ctx, s.Path, s.format)
}

// Write persists a frame to the sink target. The effective mode is
// resolved from the configured mode, the per-run overrides and the state
// of the target; IGNORE against an existing target skips the write.
func (s *Sink) Write(ctx context.Context, engine dataframe.Engine, frame *dataframe.Frame, opts SinkWriteOptions) (dataframe.WriteResult, error) {
	exists, err := s.Exists(ctx, engine)
	if err != nil {
		return dataframe.WriteResult{}, err
	}
	mode, err := dataframe.ResolveWriteMode(dataframe.ModeRequest{
		Configured:   s.mode,
		Explicit:     opts.Mode,
		FullRefresh:  opts.FullRefresh,
		TargetExists: exists,
		Streaming:    frame.Streaming(),
	})
	if err != nil {
		return dataframe.WriteResult{}, err
	}
	if mode == dataframe.ModeIgnore {
		return dataframe.WriteResult{Version: -1}, nil
	}
	if opts.FullRefresh || !exists {
		// Discard streaming state so the source is re-read from the
		// beginning.
		if err := engine.Remove(ctx, s.checkpointLocation()); err != nil {
			return dataframe.WriteResult{}, err
		}
	}
	return engine.Write(ctx, frame, dataframe.WriteRequest{
		Path:               s.Path,
		Format:             s.format,
		Mode:               mode,
		Options:            dataframe.ResolveWriteOptions(mode, s.WriteOptions),
		CheckpointLocation: s.checkpointLocation(),
		ClusterBy:          s.ClusterBy,
		Merge:              s.Merge,
	})
}

// AsSource exposes the sink target as a source, so downstream nodes can
// read back what was written here.
func (s *Sink) AsSource(asStream bool) *Source {
	src := &Source{
		Path:     s.Path,
		Format:   string(s.format),
		AsStream: asStream,
		format:   s.format,
	}
	if len(s.WriteOptions) > 0 {
		// Layout options such as header, delimiter or sheet apply to
		// reading the files back as well.
		src.Options = make(map[string]string, len(s.WriteOptions))
		for k, v := range s.WriteOptions {
			src.Options[k] = v
		}
	}
	return src
}

// Read loads the sink target back through the engine.
func (s *Sink) Read(ctx context.Context, engine dataframe.Engine, asStream bool) (*dataframe.Frame, error) {
	return s.AsSource(asStream).read(ctx, engine)
}

// Purge deletes the sink target and its checkpoint state. Destructive:
// the next write starts from nothing.
func (s *Sink) Purge(ctx context.Context, engine dataframe.Engine) error {
	if err := engine.Remove(ctx, s.Path); err != nil {
		return err
	}
	return engine.Remove(ctx, s.checkpointLocation())
}
