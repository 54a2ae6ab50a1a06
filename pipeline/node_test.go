package pipeline

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aviral-bhardwaj/laktory/errors"
)

func validNode() *Node {
	return &Node{
		Name:    "orders",
		Sources: []*Source{{Path: "/in/orders.csv", Format: "CSV"}},
		Sinks:   []*Sink{{Path: "/out/orders.csv", Format: "CSV"}},
	}
}

func TestNodeValidateAccepts(t *testing.T) {
	if err := validNode().Validate(DefaultRegistry()); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNodeValidateDeclarationErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Node)
		code errors.ErrorCode
		want string
	}{
		{
			name: "missing name",
			mod:  func(n *Node) { n.Name = "" },
			code: errors.ErrCodeMissingField,
		},
		{
			name: "no sources",
			mod:  func(n *Node) { n.Sources = nil },
			code: errors.ErrCodeMissingField,
		},
		{
			name: "streaming source with siblings",
			mod: func(n *Node) {
				n.Sources = []*Source{
					{Path: "/in/a", Format: "DELTA", AsStream: true},
					{Path: "/in/b.csv", Format: "CSV"},
				}
			},
			code: errors.ErrCodeInvalidInput,
			want: "only source",
		},
		{
			name: "two primary sinks",
			mod: func(n *Node) {
				n.Sinks = append(n.Sinks, &Sink{Path: "/out/copy.csv", Format: "CSV"})
			},
			code: errors.ErrCodeInvalidInput,
			want: "at most one primary sink",
		},
		{
			name: "quarantine sink without quarantine rule",
			mod: func(n *Node) {
				n.Sinks = append(n.Sinks, &Sink{Path: "/out/q.csv", Format: "CSV", IsQuarantine: true})
			},
			code: errors.ErrCodeInvalidInput,
			want: "QUARANTINE expectation",
		},
		{
			name: "quarantine selection names unknown rule",
			mod: func(n *Node) {
				n.Expectations = []*Expectation{{Name: "pos", Expr: "qty > 0", Action: "QUARANTINE"}}
				n.Sinks = append(n.Sinks, &Sink{
					Path: "/out/q.csv", Format: "CSV", IsQuarantine: true,
					Expectations: []string{"nope"},
				})
			},
			code: errors.ErrCodeInvalidInput,
			want: `unknown expectation "nope"`,
		},
		{
			name: "quarantine selection names non-quarantine rule",
			mod: func(n *Node) {
				n.Expectations = []*Expectation{
					{Name: "pos", Expr: "qty > 0", Action: "QUARANTINE"},
					{Name: "soft", Expr: "qty < 100", Action: "WARN"},
				}
				n.Sinks = append(n.Sinks, &Sink{
					Path: "/out/q.csv", Format: "CSV", IsQuarantine: true,
					Expectations: []string{"soft"},
				})
			},
			code: errors.ErrCodeInvalidInput,
			want: `non-QUARANTINE expectation "soft"`,
		},
		{
			name: "duplicate expectation names",
			mod: func(n *Node) {
				n.Expectations = []*Expectation{
					{Name: "pos", Expr: "qty > 0"},
					{Name: "pos", Expr: "qty < 100"},
				}
			},
			code: errors.ErrCodeAlreadyExists,
		},
		{
			name: "unknown transform function",
			mod: func(n *Node) {
				n.Transformer = &Transformer{Steps: []*TransformStep{{Func: "no_such_fn"}}}
			},
			code: errors.ErrCodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNode()
			tt.mod(n)
			err := n.Validate(DefaultRegistry())
			if !errors.HasCode(err, tt.code) {
				t.Fatalf("error = %v, want code %s", err, tt.code)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestNodeValidateSecondarySinkAllowed(t *testing.T) {
	no := false
	n := validNode()
	n.Sinks = append(n.Sinks, &Sink{Path: "/out/mirror.csv", Format: "CSV", IsPrimary: &no})
	if err := n.Validate(DefaultRegistry()); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if n.primarySink() != n.Sinks[0] {
		t.Error("first sink should stay the primary")
	}
}

func TestNodeValidateStreamingExpectationRules(t *testing.T) {
	stream := func() *Node {
		n := validNode()
		n.Sources = []*Source{{Path: "/in/orders", Format: "DELTA", AsStream: true}}
		return n
	}

	n := stream()
	n.Expectations = []*Expectation{{Name: "pos", Expr: "qty > 0", Action: "FAIL"}}
	if err := n.Validate(DefaultRegistry()); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("streaming FAIL error = %v, want INVALID_INPUT", err)
	}

	n = stream()
	n.Expectations = []*Expectation{{Name: "vol", Expr: "count > 10", Type: "AGGREGATE"}}
	if err := n.Validate(DefaultRegistry()); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("streaming AGGREGATE error = %v, want INVALID_INPUT", err)
	}

	n = stream()
	n.Expectations = []*Expectation{
		{Name: "pos", Expr: "qty > 0", Action: "DROP"},
		{Name: "cap", Expr: "qty < 1000", Action: "QUARANTINE"},
	}
	n.Sinks = append(n.Sinks, &Sink{Path: "/out/q.csv", Format: "CSV", IsQuarantine: true})
	if err := n.Validate(DefaultRegistry()); err != nil {
		t.Errorf("streaming DROP/QUARANTINE should validate, got %v", err)
	}
	if !n.streaming() {
		t.Error("streaming() should report true")
	}
}

func TestNodeUpstreamRefs(t *testing.T) {
	n := &Node{
		Name: "gold",
		Sources: []*Source{
			{Node: "silver"},
		},
		Transformer: &Transformer{Steps: []*TransformStep{
			{Func: "smart_join", Kwargs: map[string]any{"other": "{nodes.dims}", "on": []any{"id"}}},
		}},
	}
	got := n.upstreamRefs()
	want := []string{"silver", "dims"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("upstreamRefs() = %v, want %v", got, want)
	}
}

func TestNodePathLayout(t *testing.T) {
	p := &Pipeline{Name: "sales", RootPath: "/lake/sales"}
	n := validNode()
	n.bind(p)

	if got, want := n.rootPath(), filepath.Join("/lake/sales", "orders"); got != want {
		t.Errorf("rootPath() = %s, want %s", got, want)
	}
	wantCkpt := filepath.Join("/lake/sales", "orders", "checkpoints", "expectations")
	if got := n.expectationsCheckpoint(); got != wantCkpt {
		t.Errorf("expectationsCheckpoint() = %s, want %s", got, wantCkpt)
	}
	for _, sink := range n.Sinks {
		if sink.node != n {
			t.Error("bind should attach sinks to the node")
		}
	}
}

func TestNodeExecuteRequiresPipeline(t *testing.T) {
	n := validNode()
	res, err := n.Execute(context.Background(), newSinkEngine())
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("error = %v, want INVALID_INPUT", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", res.Status, StatusFailed)
	}
}
