package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const rollbackTimeout = 5 * time.Second

// PgRunner materializes every execution in a throwaway schema inside a transaction that is
// always rolled back, so nothing a query does outlives the call.
//
// When role is set the query runs as that role, which is granted read access to the
// throwaway schema only. It must not share privileges with the login role, otherwise
// pg_stat_activity would show it the text of concurrent executions.
type PgRunner struct {
	pool *pgxpool.Pool
	role string
	log  *zap.Logger
}

func NewPgRunner(pool *pgxpool.Pool, role string, log *zap.Logger) *PgRunner {
	return &PgRunner{pool: pool, role: role, log: log.Named("sandbox")}
}

// NewPool opens the sandbox pool. maxConns is the ceiling on concurrent executions.
// Context expiry sends a cancel request to the backend so a runaway query is terminated
// rather than abandoned.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse sandbox dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:               pgConn,
			CancelRequestDelay: 50 * time.Millisecond,
			DeadlineDelay:      2 * time.Second,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sandbox pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}
	return pool, nil
}

// CheckQueryRole verifies that the login role can switch to role and that role does not
// inherit the login role's privileges.
func CheckQueryRole(ctx context.Context, pool *pgxpool.Pool, role string) error {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, role).Scan(&exists); err != nil {
		return fmt.Errorf("%w: look up query role: %v", ErrSandboxUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("sandbox query role %q does not exist", role)
	}

	var member, inherits bool
	err := pool.QueryRow(ctx, `SELECT pg_has_role(current_user, $1, 'MEMBER'), pg_has_role($1, current_user, 'USAGE')`,
		role).Scan(&member, &inherits)
	if err != nil {
		return fmt.Errorf("%w: check query role: %v", ErrSandboxUnavailable, err)
	}
	if !member {
		return fmt.Errorf("sandbox login role cannot SET ROLE %q; grant it membership", role)
	}
	if inherits {
		return fmt.Errorf("sandbox query role %q has the login role's privileges", role)
	}
	return nil
}

func (r *PgRunner) Execute(ctx context.Context, ds Dataset, query string, limits Limits) (*RunResult, error) {
	if err := Guard(query); err != nil {
		return nil, err
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrSandboxUnavailable, err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrSandboxUnavailable, err)
	}
	defer func() {
		// The caller's context may already be done; rollback must still happen.
		rbCtx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
		defer cancel()
		if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			// pgxpool discards connections released in a broken transaction state.
			r.log.Warn("sandbox rollback failed", zap.Error(err))
		}
	}()

	schema, err := r.seed(ctx, tx, ds)
	if err != nil {
		return nil, err
	}
	if err := r.restrict(ctx, tx, schema, limits); err != nil {
		return nil, err
	}
	return r.run(ctx, tx, query, limits)
}

func (r *PgRunner) seed(ctx context.Context, tx pgx.Tx, ds Dataset) (string, error) {
	schema := "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := tx.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		return "", fmt.Errorf("%w: create schema: %v", ErrSandboxUnavailable, err)
	}
	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+schema); err != nil {
		return "", fmt.Errorf("%w: search_path: %v", ErrSandboxUnavailable, err)
	}
	for _, script := range []string{ds.Schema, ds.Data} {
		if strings.TrimSpace(script) == "" {
			continue
		}
		// No arguments: pgx sends this over the simple protocol, so seed scripts may hold many statements.
		if _, err := tx.Exec(ctx, script); err != nil {
			return "", fmt.Errorf("%w: seed: %v", ErrDatasetUnavailable, err)
		}
	}
	return schema, nil
}

func (r *PgRunner) restrict(ctx context.Context, tx pgx.Tx, schema string, limits Limits) error {
	var stmts []string
	if r.role != "" {
		role := pgx.Identifier{r.role}.Sanitize()
		// grants are rolled back with the schema
		stmts = append(stmts,
			"GRANT USAGE ON SCHEMA "+schema+" TO "+role,
			"GRANT SELECT ON ALL TABLES IN SCHEMA "+schema+" TO "+role,
		)
	}
	stmts = append(stmts, "SET TRANSACTION READ ONLY")
	if r.role != "" {
		stmts = append(stmts, "SET LOCAL ROLE "+pgx.Identifier{r.role}.Sanitize())
	}
	if limits.Timeout > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL statement_timeout = %d", limits.Timeout.Milliseconds()))
	}
	if limits.WorkMemKb > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL work_mem = '%dkB'", limits.WorkMemKb))
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSandboxUnavailable, stmt, err)
		}
	}
	return nil
}

func (r *PgRunner) run(ctx context.Context, tx pgx.Tx, query string, limits Limits) (*RunResult, error) {
	qctx := ctx
	cancel := func() {}
	if limits.Timeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, limits.Timeout)
	}
	defer cancel()

	start := time.Now()
	// Describe-exec goes over the extended protocol, which refuses multiple statements.
	rows, err := tx.Query(qctx, query, pgx.QueryExecModeDescribeExec, pgx.QueryResultFormats{pgx.TextFormatCode})
	if err != nil {
		return nil, classifyQueryError(ctx, qctx, err, tx.Conn().IsClosed())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &RunResult{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		res.Columns[i] = fd.Name
	}

	for rows.Next() {
		if limits.MaxRows > 0 && len(res.Rows) == limits.MaxRows {
			res.Truncated = true
			break
		}
		raw := rows.RawValues()
		row := make([]any, len(raw))
		for i, v := range raw {
			row[i] = normalizeCell(fields[i].DataTypeOID, v)
			res.Bytes += len(v)
		}
		if limits.MaxResultBytes > 0 && res.Bytes > limits.MaxResultBytes {
			cancel()
			return nil, newRunnerError(KindResourceExceeded, "result exceeds %d bytes", limits.MaxResultBytes)
		}
		res.Rows = append(res.Rows, row)
	}
	if res.Truncated {
		// stop the server producing rows nobody will read
		cancel()
		res.ExecutionTime = time.Since(start)
		return res, nil
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(ctx, qctx, err, tx.Conn().IsClosed())
	}
	res.ExecutionTime = time.Since(start)
	return res, nil
}

func normalizeCell(oid uint32, raw []byte) any {
	if raw == nil {
		return nil
	}
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return f
		}
	case pgtype.BoolOID:
		return string(raw) == "t"
	}
	return string(raw)
}
