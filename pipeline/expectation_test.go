package pipeline

import (
	"testing"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

func TestExpectationDefaults(t *testing.T) {
	e := &Expectation{Name: "positive_close", Expr: "close > 0"}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if e.Action != ActionWarn {
		t.Errorf("Action = %q, want WARN default", e.Action)
	}
	if e.Type != TypeRow {
		t.Errorf("Type = %q, want ROW default", e.Type)
	}
}

func TestExpectationNormalizesCase(t *testing.T) {
	e := &Expectation{Name: "r", Expr: "x > 0", Action: "quarantine", Type: "row"}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if e.Action != ActionQuarantine || e.Type != TypeRow {
		t.Errorf("normalized to %s/%s", e.Action, e.Type)
	}
}

func TestExpectationValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		exp  *Expectation
		code errors.ErrorCode
	}{
		{"missing name", &Expectation{Expr: "x > 0"}, errors.ErrCodeMissingField},
		{"missing expr", &Expectation{Name: "r"}, errors.ErrCodeMissingField},
		{"bad action", &Expectation{Name: "r", Expr: "x > 0", Action: "EXPLODE"}, errors.ErrCodeInvalidFormat},
		{"bad type", &Expectation{Name: "r", Expr: "x > 0", Type: "COLUMN"}, errors.ErrCodeInvalidFormat},
		{"aggregate drop", &Expectation{Name: "r", Expr: "count > 0", Action: "DROP", Type: "AGGREGATE"}, errors.ErrCodeInvalidInput},
		{"aggregate quarantine", &Expectation{Name: "r", Expr: "count > 0", Action: "QUARANTINE", Type: "AGGREGATE"}, errors.ErrCodeInvalidInput},
		{"bad expression", &Expectation{Name: "r", Expr: "close >"}, errors.ErrCodeExpression},
	}
	for _, tc := range cases {
		if err := tc.exp.Validate(); !errors.HasCode(err, tc.code) {
			t.Errorf("%s: error = %v, want %s", tc.name, err, tc.code)
		}
	}
}

func TestExpectationAggregateAllowsWarnAndFail(t *testing.T) {
	for _, action := range []string{"WARN", "FAIL"} {
		e := &Expectation{Name: "min_rows", Expr: "count >= 10", Action: action, Type: "AGGREGATE"}
		if err := e.Validate(); err != nil {
			t.Errorf("action %s: Validate() error = %v", action, err)
		}
	}
}

func TestExpectationCheck(t *testing.T) {
	e := &Expectation{Name: "positive_close", Expr: "close > 0", Action: "DROP"}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	ok, err := e.check(dataframe.Record{"close": 12.5})
	if err != nil || !ok {
		t.Errorf("check(12.5) = %v, %v, want pass", ok, err)
	}
	ok, err = e.check(dataframe.Record{"close": -1.0})
	if err != nil || ok {
		t.Errorf("check(-1.0) = %v, %v, want fail", ok, err)
	}
}

func TestExpectationCheckAggregate(t *testing.T) {
	e := &Expectation{Name: "min_rows", Expr: "count >= 10", Action: "FAIL", Type: "AGGREGATE"}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	ok, err := e.checkAggregate(12)
	if err != nil || !ok {
		t.Errorf("checkAggregate(12) = %v, %v, want pass", ok, err)
	}
	ok, err = e.checkAggregate(3)
	if err != nil || ok {
		t.Errorf("checkAggregate(3) = %v, %v, want fail", ok, err)
	}
}
