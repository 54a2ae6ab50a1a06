package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aviral-bhardwaj/laktory/config"
	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/logger"
	"github.com/aviral-bhardwaj/laktory/observability"
	"github.com/aviral-bhardwaj/laktory/validation"
)

// Pipeline is a DAG of nodes executed in topological order against a
// dataframe engine. Pipelines are declared in YAML or built as Go values,
// validated once, then executed repeatedly.
type Pipeline struct {
	// Name identifies the pipeline in logs, metrics and run results.
	Name string `yaml:"name" json:"name" validate:"required"`

	// RootPath namespaces node state: checkpoints live under
	// <root_path>/<node_name>/checkpoints. Defaults under the
	// orchestrator settings root.
	RootPath string `yaml:"root_path,omitempty" json:"root_path,omitempty"`

	// Nodes in declaration order. Declaration order breaks ties in the
	// execution order.
	Nodes []*Node `yaml:"nodes" json:"nodes" validate:"required,min=1"`

	graph    *graph
	registry *Registry
	log      *logger.Logger
}

// Option configures a pipeline at construction.
type Option func(*Pipeline)

// WithRegistry resolves transform functions against a custom registry
// instead of the default one.
func WithRegistry(reg *Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// WithLogger routes pipeline and node logging through the given logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New finishes construction of a declaratively built pipeline: defaults,
// validation and the dependency graph.
func New(p *Pipeline, opts ...Option) (*Pipeline, error) {
	if p == nil {
		return nil, errors.MissingField("pipeline")
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ExecuteOptions carry per-run knobs, set through ExecuteOption values.
type ExecuteOptions struct {
	fullRefresh bool
	metrics     *observability.RunMetrics
	runID       string
}

// ExecuteOption configures one Execute call.
type ExecuteOption func(*ExecuteOptions)

// WithFullRefresh discards prior state for this run: sink checkpoints are
// cleared and targets rewritten from scratch.
func WithFullRefresh() ExecuteOption {
	return func(o *ExecuteOptions) { o.fullRefresh = true }
}

// WithMetrics records run metrics on the given instruments.
func WithMetrics(m *observability.RunMetrics) ExecuteOption {
	return func(o *ExecuteOptions) { o.metrics = m }
}

func withRunID(id string) ExecuteOption {
	return func(o *ExecuteOptions) { o.runID = id }
}

func newExecuteOptions(opts []ExecuteOption) *ExecuteOptions {
	cfg := &ExecuteOptions{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (p *Pipeline) ensureRuntime() {
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}
	if p.log == nil {
		p.log = logger.NewDefault("pipeline")
	}
}

// ApplyDefaults fills the root path from orchestrator settings and wires
// the default registry and logger.
func (p *Pipeline) ApplyDefaults() {
	p.ensureRuntime()
	if p.RootPath == "" {
		var s config.Settings
		s.ApplyDefaults()
		p.RootPath = filepath.Join(s.RootPath, p.Name)
	}
}

// Validate checks the declaration (struct tags plus node semantics) and
// builds the dependency graph.
func (p *Pipeline) Validate() error {
	p.ensureRuntime()
	if err := validation.Validate(p); err != nil {
		return err
	}
	for _, n := range p.Nodes {
		if n == nil {
			return errors.MissingField("pipeline.nodes")
		}
		n.bind(p)
		if err := n.Validate(p.registry); err != nil {
			return err
		}
	}
	return p.Rebuild()
}

// Rebuild re-derives the dependency graph and topological order from the
// current node set. On failure the previous graph is kept.
func (p *Pipeline) Rebuild() error {
	for _, n := range p.Nodes {
		n.bind(p)
	}
	g, err := buildGraph(p.Nodes)
	if err != nil {
		return err
	}
	p.graph = g
	return nil
}

// AddNode validates and appends a node, then rebuilds the graph. The
// pipeline is unchanged when either step fails.
func (p *Pipeline) AddNode(n *Node) error {
	if n == nil {
		return errors.MissingField("node")
	}
	p.ensureRuntime()
	n.bind(p)
	if err := n.Validate(p.registry); err != nil {
		return err
	}
	prev := p.Nodes
	p.Nodes = append(append([]*Node{}, p.Nodes...), n)
	if err := p.Rebuild(); err != nil {
		p.Nodes = prev
		return err
	}
	return nil
}

// RemoveNode removes a node by name and rebuilds the graph. Removal fails
// when remaining nodes still reference the removed one; the pipeline is
// unchanged in that case.
func (p *Pipeline) RemoveNode(name string) error {
	prev := p.Nodes
	next := make([]*Node, 0, len(p.Nodes))
	found := false
	for _, n := range p.Nodes {
		if n.Name == name {
			found = true
			continue
		}
		next = append(next, n)
	}
	if !found {
		return errors.NotFound("node", name)
	}
	p.Nodes = next
	if err := p.Rebuild(); err != nil {
		p.Nodes = prev
		return err
	}
	return nil
}

// Node looks up a node by name.
func (p *Pipeline) Node(name string) (*Node, error) {
	for _, n := range p.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return nil, errors.NotFound("node", name)
}

// TopologicalOrder returns node names in execution order.
func (p *Pipeline) TopologicalOrder() []string {
	if p.graph == nil {
		return nil
	}
	names := make([]string, len(p.graph.order))
	for i, n := range p.graph.order {
		names[i] = n.Name
	}
	return names
}

// Parents lists a node's direct upstream names.
func (p *Pipeline) Parents(name string) []string {
	if p.graph == nil {
		return nil
	}
	return p.graph.parentsOf(name)
}

// Children lists a node's direct downstream names.
func (p *Pipeline) Children(name string) []string {
	if p.graph == nil {
		return nil
	}
	return p.graph.childrenOf(name)
}

// Execute runs every node in topological order, one at a time. The first
// node failure aborts the run; remaining nodes are reported as skipped.
// Cancellation is honored between nodes.
func (p *Pipeline) Execute(ctx context.Context, engine dataframe.Engine, opts ...ExecuteOption) (*RunResult, error) {
	p.ensureRuntime()
	if p.graph == nil {
		if err := p.Rebuild(); err != nil {
			return nil, err
		}
	}

	cfg := newExecuteOptions(opts)
	runID := cfg.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.ContextWithRun(ctx, runID, p.Name)
	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineRun)
	observability.SetSpanAttribute(ctx, observability.AttrPipelineName, p.Name)
	observability.SetSpanAttribute(ctx, observability.AttrRunID, runID)

	p.log.Info("pipeline run started", logger.Fields(
		logger.FieldPipeline, p.Name,
		logger.FieldRunID, runID,
		"nodes", len(p.graph.order),
		"full_refresh", cfg.fullRefresh,
	))

	start := time.Now()
	result := &RunResult{Pipeline: p.Name, RunID: runID, StartedAt: start}
	nodeOpts := append(append([]ExecuteOption{}, opts...), withRunID(runID))
	var runErr error
	for _, n := range p.graph.order {
		if runErr == nil {
			if err := ctx.Err(); err != nil {
				runErr = err
			}
		}
		if runErr != nil {
			result.Nodes = append(result.Nodes, NodeResult{Node: n.Name, Status: StatusSkipped})
			continue
		}
		nodeRes, err := n.Execute(ctx, engine, nodeOpts...)
		result.Nodes = append(result.Nodes, nodeRes)
		if err != nil {
			runErr = err
		}
	}
	result.Duration = time.Since(start)

	if runErr != nil {
		observability.SetSpanError(ctx, runErr)
		p.log.Error("pipeline run failed", logger.Fields(
			logger.FieldPipeline, p.Name,
			logger.FieldRunID, runID,
			logger.FieldDuration, result.Duration.Milliseconds(),
			logger.FieldError, runErr.Error(),
		))
	} else {
		p.log.Info("pipeline run completed", logger.Fields(
			logger.FieldPipeline, p.Name,
			logger.FieldRunID, runID,
			logger.FieldDuration, result.Duration.Milliseconds(),
		))
	}
	span.End()
	return result, runErr
}

// ExecuteNode runs a single node by name. Upstream inputs resolve from
// cached outputs when present, otherwise from the upstream primary sinks.
func (p *Pipeline) ExecuteNode(ctx context.Context, engine dataframe.Engine, name string, opts ...ExecuteOption) (NodeResult, error) {
	p.ensureRuntime()
	if p.graph == nil {
		if err := p.Rebuild(); err != nil {
			return NodeResult{}, err
		}
	}
	n, err := p.Node(name)
	if err != nil {
		return NodeResult{}, err
	}
	return n.Execute(ctx, engine, opts...)
}

// nodeOutput resolves the frame downstream consumers read for a node:
// the cached output when batch-compatible, otherwise a read of the node's
// primary sink.
func (p *Pipeline) nodeOutput(ctx context.Context, engine dataframe.Engine, name string, asStream bool) (*dataframe.Frame, error) {
	up, err := p.Node(name)
	if err != nil {
		return nil, err
	}
	if !asStream && up.outputFrame != nil && !up.outputFrame.Streaming() {
		return up.outputFrame, nil
	}
	sink := up.primarySink()
	if sink == nil {
		return nil, errors.InvalidInput("node "+name, "no cached output and no primary sink to read back")
	}
	return sink.Read(ctx, engine, asStream)
}
