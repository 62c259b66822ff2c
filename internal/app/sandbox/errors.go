package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sql_arena/internal/common"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies a failure caused by the submitted query itself.
type ErrorKind string

const (
	KindSyntaxError      ErrorKind = "syntax_error"
	KindRuntimeError     ErrorKind = "runtime_error"
	KindTimeout          ErrorKind = "timeout"
	KindResourceExceeded ErrorKind = "resource_exceeded"
	KindForbidden        ErrorKind = "forbidden"
)

// Infrastructure failures. They are never a property of the query and must not become a verdict.
var (
	ErrSandboxUnavailable = fmt.Errorf("sandbox unavailable: %w", common.ErrServiceUnavailable)
	ErrDatasetUnavailable = fmt.Errorf("dataset unavailable: %w", common.ErrServiceUnavailable)
)

type RunnerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RunnerError) Error() string {
	if e.Message == "" && e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *RunnerError) Unwrap() error { return e.Err }

func newRunnerError(kind ErrorKind, format string, args ...any) *RunnerError {
	return &RunnerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsRunnerError unwraps err into a *RunnerError when the failure belongs to the query.
func AsRunnerError(err error) (*RunnerError, bool) {
	var re *RunnerError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// classifyQueryError maps an error raised while the participant query ran. parent is the
// caller's context; a cancelled parent is an infrastructure condition, not a query timeout.
// connLost reports whether the connection died with the query. A client-side failure on a
// healthy connection (pgx refusing the statement before sending it) belongs to the query.
func classifyQueryError(parent, query context.Context, err error, connLost bool) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSandboxUnavailable, parent.Err())
	}
	if errors.Is(query.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &RunnerError{Kind: KindTimeout, Message: "query exceeded the time limit", Err: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if connLost {
			return fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
		}
		return &RunnerError{Kind: KindRuntimeError, Message: err.Error(), Err: err}
	}
	return &RunnerError{Kind: kindForSQLState(pgErr.Code), Message: pgErr.Message, Err: err}
}

func kindForSQLState(code string) ErrorKind {
	switch {
	case code == "57014": // query_canceled, raised by statement_timeout
		return KindTimeout
	case code == "42501", code == "25006": // insufficient_privilege, read_only_sql_transaction
		return KindForbidden
	case strings.HasPrefix(code, "42"):
		return KindSyntaxError
	case strings.HasPrefix(code, "53"), strings.HasPrefix(code, "54"):
		return KindResourceExceeded
	}
	return KindRuntimeError
}
