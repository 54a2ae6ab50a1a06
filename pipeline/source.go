package pipeline

import (
	"context"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Source declares where a node's input data comes from: either an external
// location read through the engine, or the output of another node in the
// same pipeline.
type Source struct {
	// Path is the location of an external dataset. Mutually exclusive
	// with Node.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Format is the external dataset's storage format (CSV, PARQUET,
	// JSON, DELTA, EXCEL). Required when Path is set.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Node names an upstream node whose output feeds this source.
	// Mutually exclusive with Path.
	Node string `yaml:"node,omitempty" json:"node,omitempty"`

	// AsStream reads the source incrementally: only data arrived since
	// the consuming sink's checkpoint is processed.
	AsStream bool `yaml:"as_stream,omitempty" json:"as_stream,omitempty"`

	// Options are passed through to the engine read (header, delimiter,
	// sheet and friends).
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`

	format dataframe.Format
}

// Validate checks the source declaration and resolves its format.
func (s *Source) Validate() error {
	if s.Path == "" && s.Node == "" {
		return errors.MissingField("source.path or source.node")
	}
	if s.Path != "" && s.Node != "" {
		return errors.InvalidInput("source", "path and node are mutually exclusive")
	}
	if s.Node != "" {
		if s.Format != "" {
			return errors.InvalidInput("source", "format applies to external sources only")
		}
		return nil
	}
	f, err := dataframe.ParseFormat(s.Format)
	if err != nil {
		return err
	}
	s.format = f
	return nil
}

// IsNodeRef reports whether the source points at another pipeline node.
func (s *Source) IsNodeRef() bool { return s.Node != "" }

// read loads an external source through the engine. Node-backed sources are
// resolved by the owning node, not here.
func (s *Source) read(ctx context.Context, engine dataframe.Engine) (*dataframe.Frame, error) {
	return engine.Read(ctx, dataframe.ReadRequest{
		Path:     s.Path,
		Format:   s.format,
		AsStream: s.AsStream,
		Options:  s.Options,
	})
}
