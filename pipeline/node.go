package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/logger"
	"github.com/aviral-bhardwaj/laktory/observability"
)

// Node is one step of a pipeline: read sources, apply the transform chain,
// enforce expectations, write sinks. Nodes referencing each other form the
// pipeline's dependency graph.
type Node struct {
	// Name identifies the node; unique within the pipeline and
	// referenced by other nodes as {nodes.NAME} or source `node:` keys.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Sources feed the node. Several batch sources are unioned; a
	// streaming source must be the only one.
	Sources []*Source `yaml:"sources" json:"sources"`

	// Transformer is the ordered chain of transform steps. Optional.
	Transformer *Transformer `yaml:"transformer,omitempty" json:"transformer,omitempty"`

	// Expectations are data-quality rules enforced on the transformed
	// output before it reaches the sinks.
	Expectations []*Expectation `yaml:"expectations,omitempty" json:"expectations,omitempty"`

	// Sinks persist the output: at most one primary plus any number of
	// quarantine sinks.
	Sinks []*Sink `yaml:"sinks,omitempty" json:"sinks,omitempty"`

	pipeline    *Pipeline
	outputFrame *dataframe.Frame
}

// expectationStats is the quality report persisted per run under the
// node's expectations checkpoint.
type expectationStats struct {
	RunID     string             `json:"run_id"`
	UpdatedAt time.Time          `json:"updated_at"`
	Checks    []expectationCheck `json:"checks"`
}

type expectationCheck struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Type   string `json:"type"`
	Rows   int64  `json:"rows"`
	Failed int64  `json:"failed"`
	Passed bool   `json:"passed"`
}

// quarantineTarget pairs a quarantine sink with the frame it receives.
type quarantineTarget struct {
	sink  *Sink
	frame *dataframe.Frame
}

// OutputFrame returns the frame produced by the last Execute, or nil.
func (n *Node) OutputFrame() *dataframe.Frame { return n.outputFrame }

// ClearOutput drops the cached output so downstream nodes re-read the
// persisted primary sink.
func (n *Node) ClearOutput() { n.outputFrame = nil }

// bind attaches the node and its sinks to their pipeline.
func (n *Node) bind(p *Pipeline) {
	n.pipeline = p
	for _, sink := range n.Sinks {
		if sink != nil {
			sink.node = n
		}
	}
}

// rootPath is the node's namespace under the pipeline root. Checkpoints
// live beneath it.
func (n *Node) rootPath() string {
	root := ""
	if n.pipeline != nil {
		root = n.pipeline.RootPath
	}
	return filepath.Join(root, n.Name)
}

// expectationsCheckpoint is where quality stats persist.
func (n *Node) expectationsCheckpoint() string {
	return filepath.Join(n.rootPath(), "checkpoints", "expectations")
}

// streaming reports whether the node reads incrementally.
func (n *Node) streaming() bool {
	for _, src := range n.Sources {
		if src != nil && src.AsStream {
			return true
		}
	}
	return false
}

// primarySink returns the sink downstream nodes read from, or nil.
func (n *Node) primarySink() *Sink {
	for _, sink := range n.Sinks {
		if sink.Primary() {
			return sink
		}
	}
	return nil
}

// quarantineSinks lists the sinks receiving expectation failures.
func (n *Node) quarantineSinks() []*Sink {
	var sinks []*Sink
	for _, sink := range n.Sinks {
		if sink.IsQuarantine {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// upstreamRefs lists the node names this node depends on: source
// references first, then transformer kwarg references.
func (n *Node) upstreamRefs() []string {
	var refs []string
	for _, src := range n.Sources {
		if src != nil && src.Node != "" {
			refs = append(refs, src.Node)
		}
	}
	if n.Transformer != nil {
		refs = append(refs, n.Transformer.nodeRefs()...)
	}
	return refs
}

func (n *Node) expectation(name string) *Expectation {
	for _, exp := range n.Expectations {
		if exp.Name == name {
			return exp
		}
	}
	return nil
}

// Validate checks the node declaration: sources, transform steps against
// the registry, expectation rules and sink wiring.
func (n *Node) Validate(reg *Registry) error {
	if n.Name == "" {
		return errors.MissingField("node.name")
	}
	if len(n.Sources) == 0 {
		return errors.MissingField("node.sources")
	}
	streams := 0
	for _, src := range n.Sources {
		if src == nil {
			return errors.MissingField("node.sources")
		}
		if err := src.Validate(); err != nil {
			return err
		}
		if src.AsStream {
			streams++
		}
	}
	if streams > 0 && len(n.Sources) > 1 {
		return errors.InvalidInput("node "+n.Name, "a streaming source must be the node's only source")
	}
	if n.Transformer != nil {
		if err := n.Transformer.Validate(reg); err != nil {
			return err
		}
	}
	names := make(map[string]bool, len(n.Expectations))
	quarantineRules := 0
	for _, exp := range n.Expectations {
		if exp == nil {
			return errors.MissingField("node.expectations")
		}
		if err := exp.Validate(); err != nil {
			return err
		}
		if names[exp.Name] {
			return errors.AlreadyExists("expectation named " + exp.Name)
		}
		names[exp.Name] = true
		if exp.Action == ActionQuarantine {
			quarantineRules++
		}
		if n.streaming() && (exp.Action == ActionFail || exp.Type == TypeAggregate) {
			return errors.InvalidInput("node "+n.Name, "streaming nodes support row-level WARN, DROP and QUARANTINE expectations only")
		}
	}
	primaries := 0
	for _, sink := range n.Sinks {
		if sink == nil {
			return errors.MissingField("node.sinks")
		}
		if err := sink.Validate(); err != nil {
			return err
		}
		if sink.Primary() {
			primaries++
		}
		if !sink.IsQuarantine {
			continue
		}
		if quarantineRules == 0 {
			return errors.InvalidInput("node "+n.Name, "quarantine sinks require at least one QUARANTINE expectation")
		}
		for _, ruleName := range sink.Expectations {
			exp := n.expectation(ruleName)
			if exp == nil {
				return errors.InvalidInput("node "+n.Name, fmt.Sprintf("quarantine sink references unknown expectation %q", ruleName))
			}
			if exp.Action != ActionQuarantine {
				return errors.InvalidInput("node "+n.Name, fmt.Sprintf("quarantine sink references non-QUARANTINE expectation %q", ruleName))
			}
		}
	}
	if primaries > 1 {
		return errors.InvalidInput("node "+n.Name, "at most one primary sink is allowed")
	}
	return nil
}

// Execute runs the node: resolve sources, transform, enforce expectations
// and write sinks. The node must belong to a pipeline.
func (n *Node) Execute(ctx context.Context, engine dataframe.Engine, opts ...ExecuteOption) (NodeResult, error) {
	cfg := newExecuteOptions(opts)
	if n.pipeline == nil {
		err := errors.InvalidInput("node "+n.Name, "node is not attached to a pipeline")
		return NodeResult{Node: n.Name, Status: StatusFailed, Err: err}, err
	}
	runID := cfg.runID
	if runID == "" {
		runID = uuid.NewString()
		ctx = logger.ContextWithRun(ctx, runID, n.pipeline.Name)
	}

	rc := observability.NewRunContext(n.pipeline.Name, n.Name, runID, cfg.metrics)
	ctx = observability.WithRunContext(ctx, rc)
	ctx, span := rc.StartSpanForNode(ctx, observability.SpanNodeExecute)

	log := n.logger()
	log.Info("node execution started", logger.Fields(
		logger.FieldNode, n.Name,
		"streaming", n.streaming(),
		"full_refresh", cfg.fullRefresh,
	))

	start := time.Now()
	written, quarantined, err := n.run(ctx, engine, cfg, runID)
	duration := time.Since(start)

	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
		log.Error("node execution failed", logger.Fields(
			logger.FieldNode, n.Name,
			logger.FieldDuration, duration.Milliseconds(),
			logger.FieldError, err.Error(),
		))
	} else {
		log.Info("node execution completed", logger.Fields(
			logger.FieldNode, n.Name,
			logger.FieldDuration, duration.Milliseconds(),
			"rows_written", written,
			"rows_quarantined", quarantined,
		))
	}
	rc.EndNode(ctx, span, string(status), err)
	if cfg.metrics != nil {
		cfg.metrics.RecordRowsWritten(ctx, n.pipeline.Name, n.Name, written)
		if quarantined > 0 {
			cfg.metrics.RecordRowsQuarantined(ctx, n.pipeline.Name, n.Name, quarantined)
		}
	}

	return NodeResult{
		Node:            n.Name,
		Status:          status,
		Duration:        duration,
		RowsWritten:     written,
		RowsQuarantined: quarantined,
		Err:             err,
	}, err
}

func (n *Node) run(ctx context.Context, engine dataframe.Engine, cfg *ExecuteOptions, runID string) (int64, int64, error) {
	frame, err := n.resolveInput(ctx, engine)
	if err != nil {
		return 0, 0, err
	}
	frame, err = n.applyTransforms(ctx, engine, frame)
	if err != nil {
		return 0, 0, err
	}

	passing := frame
	var targets []quarantineTarget
	var quarantined int64
	if len(n.Expectations) > 0 {
		if frame.Streaming() {
			passing, targets, err = n.streamExpectations(frame)
		} else {
			passing, targets, quarantined, err = n.evaluateExpectations(ctx, engine, frame, runID)
		}
		if err != nil {
			return 0, 0, err
		}
	}

	var written int64
	wrote := false
	for _, sink := range n.Sinks {
		if sink.IsQuarantine {
			continue
		}
		res, err := sink.Write(ctx, engine, passing, SinkWriteOptions{FullRefresh: cfg.fullRefresh})
		if err != nil {
			return 0, 0, err
		}
		if sink.Primary() || !wrote {
			written = res.Rows
		}
		wrote = true
	}
	for _, qt := range targets {
		res, err := qt.sink.Write(ctx, engine, qt.frame, SinkWriteOptions{FullRefresh: cfg.fullRefresh})
		if err != nil {
			return written, quarantined, err
		}
		if passing.Streaming() {
			quarantined += res.Rows
		}
	}

	n.outputFrame = passing
	return written, quarantined, nil
}

// resolveInput reads every source and unions them. Node references prefer
// the upstream's cached output; otherwise they read back the upstream's
// primary sink.
func (n *Node) resolveInput(ctx context.Context, engine dataframe.Engine) (*dataframe.Frame, error) {
	frames := make([]*dataframe.Frame, 0, len(n.Sources))
	for _, src := range n.Sources {
		var frame *dataframe.Frame
		var err error
		if src.IsNodeRef() {
			frame, err = n.pipeline.nodeOutput(ctx, engine, src.Node, src.AsStream)
		} else {
			frame, err = src.read(ctx, engine)
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	// Multiple sources are all batch (a streaming source must be sole).
	ds := frames[0].Dataset()
	for _, frame := range frames[1:] {
		ds = ds.Union(frame.Dataset())
	}
	return dataframe.NewFrame(ds), nil
}

// applyTransforms runs the step chain, resolving {nodes.NAME} kwargs into
// frames before each call.
func (n *Node) applyTransforms(ctx context.Context, engine dataframe.Engine, frame *dataframe.Frame) (*dataframe.Frame, error) {
	if n.Transformer == nil {
		return frame, nil
	}
	reg := n.registry()
	for i, step := range n.Transformer.Steps {
		fn, err := reg.Lookup(step.Func)
		if err != nil {
			return nil, err
		}
		kwargs := step.Kwargs
		var frames map[string]*dataframe.Frame
		if refs := step.frameKwargs(); len(refs) > 0 {
			frames = make(map[string]*dataframe.Frame, len(refs))
			kwargs = make(map[string]any, len(step.Kwargs))
			for k, v := range step.Kwargs {
				kwargs[k] = v
			}
			for key, upstream := range refs {
				resolved, err := n.pipeline.nodeOutput(ctx, engine, upstream, false)
				if err != nil {
					return nil, err
				}
				frames[key] = resolved
				delete(kwargs, key)
			}
		}
		out, err := fn(ctx, &FuncContext{Frame: frame, Kwargs: kwargs, Frames: frames})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExecution, fmt.Sprintf("transform step %d (%s) failed", i, step.Func))
		}
		frame = out
	}
	return frame, nil
}

// evaluateExpectations enforces the node's rules on a materialized frame:
// per-rule failing rows are collected, DROP and QUARANTINE failures leave
// the output, quarantine sinks receive the failures of the rules they
// capture, and FAIL aborts. Quality stats persist even for aborted runs.
func (n *Node) evaluateExpectations(ctx context.Context, engine dataframe.Engine, frame *dataframe.Frame, runID string) (*dataframe.Frame, []quarantineTarget, int64, error) {
	ds := frame.Dataset()
	total := int64(ds.Len())
	failures := make(map[string][]int, len(n.Expectations))
	checks := make([]expectationCheck, 0, len(n.Expectations))
	var failErr error

	for _, exp := range n.Expectations {
		if exp.Type != TypeRow {
			continue
		}
		var failed []int
		for i, rec := range ds.Rows {
			ok, err := exp.check(rec)
			if err != nil {
				return nil, nil, 0, errors.Wrap(err, errors.ErrCodeExecution, fmt.Sprintf("expectation %s evaluation failed", exp.Name))
			}
			if !ok {
				failed = append(failed, i)
			}
		}
		failures[exp.Name] = failed
		checks = append(checks, expectationCheck{
			Name: exp.Name, Action: exp.Action, Type: exp.Type,
			Rows: total, Failed: int64(len(failed)), Passed: len(failed) == 0,
		})
		if len(failed) == 0 {
			continue
		}
		switch exp.Action {
		case ActionFail:
			if failErr == nil {
				failErr = errors.QualityFailure(n.Name, exp.Name, int64(len(failed)))
			}
		case ActionWarn:
			n.logger().Warn("expectation failed", logger.Fields(
				logger.FieldNode, n.Name,
				logger.FieldExpectation, exp.Name,
				"failed_rows", len(failed),
				"total_rows", total,
			))
		}
	}

	removed := make(map[int]bool)
	quarantinedRows := make(map[int]bool)
	for _, exp := range n.Expectations {
		if exp.Type != TypeRow {
			continue
		}
		switch exp.Action {
		case ActionDrop:
			for _, i := range failures[exp.Name] {
				removed[i] = true
			}
		case ActionQuarantine:
			for _, i := range failures[exp.Name] {
				removed[i] = true
				quarantinedRows[i] = true
			}
		}
	}
	kept := make([]dataframe.Record, 0, ds.Len()-len(removed))
	for i, rec := range ds.Rows {
		if !removed[i] {
			kept = append(kept, rec)
		}
	}
	passing := dataframe.NewFrame(dataframe.NewDataset(ds.Columns, kept))

	// Aggregate rules see the frame that survived the row rules.
	for _, exp := range n.Expectations {
		if exp.Type != TypeAggregate {
			continue
		}
		ok, err := exp.checkAggregate(len(kept))
		if err != nil {
			return nil, nil, 0, errors.Wrap(err, errors.ErrCodeExecution, fmt.Sprintf("expectation %s evaluation failed", exp.Name))
		}
		check := expectationCheck{
			Name: exp.Name, Action: exp.Action, Type: exp.Type,
			Rows: int64(len(kept)), Passed: ok,
		}
		if !ok {
			check.Failed = int64(len(kept))
			if exp.Action == ActionFail {
				if failErr == nil {
					failErr = errors.QualityFailure(n.Name, exp.Name, int64(len(kept)))
				}
			} else {
				n.logger().Warn("expectation failed", logger.Fields(
					logger.FieldNode, n.Name,
					logger.FieldExpectation, exp.Name,
					logger.FieldRows, len(kept),
				))
			}
		}
		checks = append(checks, check)
	}

	if err := n.saveStats(ctx, engine, runID, checks); err != nil {
		return nil, nil, 0, err
	}
	if failErr != nil {
		return nil, nil, 0, failErr
	}

	var targets []quarantineTarget
	for _, sink := range n.quarantineSinks() {
		captured := make(map[int]bool)
		for _, exp := range n.Expectations {
			if exp.Type != TypeRow || exp.Action != ActionQuarantine || !sink.captures(exp.Name) {
				continue
			}
			for _, i := range failures[exp.Name] {
				captured[i] = true
			}
		}
		if len(captured) == 0 {
			continue
		}
		rows := make([]dataframe.Record, 0, len(captured))
		for i, rec := range ds.Rows {
			if captured[i] {
				rows = append(rows, rec)
			}
		}
		targets = append(targets, quarantineTarget{
			sink:  sink,
			frame: dataframe.NewFrame(dataframe.NewDataset(ds.Columns, rows)),
		})
	}
	return passing, targets, int64(len(quarantinedRows)), nil
}

// streamExpectations appends rule filters to a streaming frame's lazy
// chain: enforcing rules filter the output, quarantine sinks get the
// inverse. WARN rules are not counted row by row on streaming nodes.
func (n *Node) streamExpectations(frame *dataframe.Frame) (*dataframe.Frame, []quarantineTarget, error) {
	passing := frame
	for _, exp := range n.Expectations {
		switch exp.Action {
		case ActionDrop, ActionQuarantine:
			prog := exp.filter()
			next, err := passing.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
				return ds.Filter(prog.Eval)
			})
			if err != nil {
				return nil, nil, err
			}
			passing = next
		case ActionWarn:
			n.logger().Debug("expectation enforced as warning only on streaming node", logger.Fields(
				logger.FieldNode, n.Name,
				logger.FieldExpectation, exp.Name,
			))
		}
	}

	var targets []quarantineTarget
	for _, sink := range n.quarantineSinks() {
		var progs []*dataframe.BoolProgram
		for _, exp := range n.Expectations {
			if exp.Action == ActionQuarantine && sink.captures(exp.Name) {
				progs = append(progs, exp.filter())
			}
		}
		if len(progs) == 0 {
			continue
		}
		qframe, err := frame.Apply(func(ds *dataframe.Dataset) (*dataframe.Dataset, error) {
			return ds.Filter(func(rec dataframe.Record) (bool, error) {
				for _, prog := range progs {
					ok, err := prog.Eval(rec)
					if err != nil {
						return false, err
					}
					if !ok {
						return true, nil
					}
				}
				return false, nil
			})
		})
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, quarantineTarget{sink: sink, frame: qframe})
	}
	return passing, targets, nil
}

func (n *Node) saveStats(ctx context.Context, engine dataframe.Engine, runID string, checks []expectationCheck) error {
	if len(checks) == 0 {
		return nil
	}
	doc := expectationStats{RunID: runID, UpdatedAt: time.Now().UTC(), Checks: checks}
	return engine.SaveState(ctx, filepath.Join(n.expectationsCheckpoint(), "stats.json"), doc)
}

func (n *Node) registry() *Registry {
	if n.pipeline != nil && n.pipeline.registry != nil {
		return n.pipeline.registry
	}
	return DefaultRegistry()
}

func (n *Node) logger() *logger.Logger {
	if n.pipeline != nil && n.pipeline.log != nil {
		return n.pipeline.log
	}
	return logger.GetGlobalLogger()
}
