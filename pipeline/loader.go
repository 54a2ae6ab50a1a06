package pipeline

import (
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/aviral-bhardwaj/laktory/errors"
)

// LoadPipeline reads a pipeline document from disk and finishes
// construction (defaults, validation, graph). JSON documents load through
// the same path since YAML is a superset.
func LoadPipeline(path string, opts ...Option) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("pipeline document", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "opening pipeline document")
	}
	defer f.Close()
	return NewFromYAML(f, opts...)
}

// NewFromYAML decodes a pipeline document from a reader. Unknown fields
// are rejected so declaration typos fail loudly.
func NewFromYAML(r io.Reader, opts ...Option) (*Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return nil, errors.InvalidInput("pipeline", "document is empty")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInvalidFormat, "parsing pipeline document failed")
	}
	return New(&p, opts...)
}
