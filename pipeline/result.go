package pipeline

import "time"

// NodeStatus is the outcome of one node in a run.
type NodeStatus string

const (
	// StatusSucceeded means the node transformed and wrote its output.
	StatusSucceeded NodeStatus = "succeeded"
	// StatusFailed means the node aborted with an error.
	StatusFailed NodeStatus = "failed"
	// StatusSkipped means the node never ran because an earlier node
	// failed.
	StatusSkipped NodeStatus = "skipped"
)

// NodeResult reports one node's execution.
type NodeResult struct {
	Node            string
	Status          NodeStatus
	Duration        time.Duration
	RowsWritten     int64
	RowsQuarantined int64
	Err             error
}

// RunResult reports a whole pipeline run, nodes in execution order.
type RunResult struct {
	Pipeline  string
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Nodes     []NodeResult
}

// Completed reports whether every node succeeded.
func (r *RunResult) Completed() bool {
	for _, n := range r.Nodes {
		if n.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Failed returns the node that aborted the run, or nil.
func (r *RunResult) Failed() *NodeResult {
	for i := range r.Nodes {
		if r.Nodes[i].Status == StatusFailed {
			return &r.Nodes[i]
		}
	}
	return nil
}

// Result looks up a node's outcome by name.
func (r *RunResult) Result(node string) *NodeResult {
	for i := range r.Nodes {
		if r.Nodes[i].Node == node {
			return &r.Nodes[i]
		}
	}
	return nil
}
