package sandbox

import (
	"context"
	"time"

	"sql_arena/internal/domain/model"
)

// Dataset is the seed a problem's test case is materialized from.
type Dataset struct {
	Schema string // DDL
	Data   string // DML
}

type Limits struct {
	MaxRows        int
	Timeout        time.Duration
	WorkMemKb      int
	MaxResultBytes int
}

// LimitsFor overlays a problem's configured limits on the process defaults.
func LimitsFor(l model.ResourceLimits, defaults Limits) Limits {
	out := defaults
	if l.MaxRows > 0 {
		out.MaxRows = l.MaxRows
	}
	if l.TimeoutMs > 0 {
		out.Timeout = l.Timeout()
	}
	if l.WorkMemKb > 0 {
		out.WorkMemKb = l.WorkMemKb
	}
	if l.MaxResultBytes > 0 {
		out.MaxResultBytes = l.MaxResultBytes
	}
	return out
}

// RunResult is a successful execution. Cells are nil, bool, float64 or the database's text form.
type RunResult struct {
	Columns       []string
	Rows          [][]any
	ExecutionTime time.Duration
	Truncated     bool
	Bytes         int
}

// Runner executes one untrusted statement against a disposable copy of a dataset.
//
// Failures caused by the query are returned as *RunnerError. Any other error is an
// infrastructure failure (ErrSandboxUnavailable, ErrDatasetUnavailable) and says nothing
// about the query.
type Runner interface {
	Execute(ctx context.Context, ds Dataset, query string, limits Limits) (*RunResult, error)
}
