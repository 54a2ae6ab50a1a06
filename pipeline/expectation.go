package pipeline

import (
	"strings"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Expectation actions decide what happens to data that fails a rule.
const (
	// ActionWarn logs the failure and keeps the rows.
	ActionWarn = "WARN"
	// ActionDrop silently removes failing rows from the output.
	ActionDrop = "DROP"
	// ActionQuarantine removes failing rows from the output and routes
	// them to the node's quarantine sinks.
	ActionQuarantine = "QUARANTINE"
	// ActionFail aborts the node when any row fails.
	ActionFail = "FAIL"
)

// Expectation rule types.
const (
	// TypeRow evaluates the expression against every row.
	TypeRow = "ROW"
	// TypeAggregate evaluates the expression once against frame-level
	// statistics (currently `count`).
	TypeAggregate = "AGGREGATE"
)

// Expectation is a data-quality rule attached to a node. The expression is
// a boolean predicate over row columns (ROW) or frame statistics
// (AGGREGATE); rows or frames where it evaluates false have failed.
type Expectation struct {
	// Name identifies the rule in logs, stats and quarantine-sink
	// selection. Required and unique within a node.
	Name string `yaml:"name" json:"name"`

	// Expr is the boolean expression rows (or stats) must satisfy,
	// e.g. "close > 0" or "count >= 100".
	Expr string `yaml:"expr" json:"expr"`

	// Action taken on failures: WARN (default), DROP, QUARANTINE, FAIL.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// Type of evaluation: ROW (default) or AGGREGATE.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	prog *dataframe.BoolProgram
}

// ApplyDefaults fills the action and type when omitted.
func (e *Expectation) ApplyDefaults() {
	e.Action = strings.ToUpper(strings.TrimSpace(e.Action))
	e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
	if e.Action == "" {
		e.Action = ActionWarn
	}
	if e.Type == "" {
		e.Type = TypeRow
	}
}

// Validate checks the rule and compiles its expression.
func (e *Expectation) Validate() error {
	e.ApplyDefaults()
	if e.Name == "" {
		return errors.MissingField("expectation.name")
	}
	if e.Expr == "" {
		return errors.MissingField("expectation.expr")
	}
	switch e.Action {
	case ActionWarn, ActionDrop, ActionQuarantine, ActionFail:
	default:
		return errors.InvalidFormat("expectation.action", "WARN|DROP|QUARANTINE|FAIL")
	}
	switch e.Type {
	case TypeRow:
	case TypeAggregate:
		// Row-level actions have nothing to drop or route when the
		// whole frame fails.
		if e.Action == ActionDrop || e.Action == ActionQuarantine {
			return errors.InvalidInput("expectation "+e.Name, "AGGREGATE rules support WARN and FAIL only")
		}
	default:
		return errors.InvalidFormat("expectation.type", "ROW|AGGREGATE")
	}
	prog, err := dataframe.CompileBool(e.Expr)
	if err != nil {
		return err
	}
	e.prog = prog
	return nil
}

// check evaluates the rule against a single row. Returns whether the row
// passes; evaluation errors are execution failures, not rule failures.
func (e *Expectation) check(rec dataframe.Record) (bool, error) {
	return e.prog.Eval(rec)
}

// checkAggregate evaluates an AGGREGATE rule against frame statistics.
func (e *Expectation) checkAggregate(rowCount int) (bool, error) {
	return e.prog.Eval(dataframe.Record{"count": int64(rowCount)})
}

// filter returns the compiled predicate for use in streaming chains.
func (e *Expectation) filter() *dataframe.BoolProgram { return e.prog }
