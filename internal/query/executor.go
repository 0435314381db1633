// Package query runs caller-supplied SQL inside a read-only transaction that
// is always rolled back.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/failure"
)

const (
	defaultQueryTimeout = 25 * time.Second
	defaultMaxRows      = 1000
	rollbackTimeout     = 5 * time.Second
)

// WithReadOnlyTx runs fn in a READ ONLY transaction on a dedicated pooled
// connection. The transaction is rolled back and the connection released on
// every exit path, including a successful fn, an error and a panic. The
// rollback is detached from ctx so a cancelled call still rolls back.
func WithReadOnlyTx(ctx context.Context, db *pgxpool.Pool, fn func(pgx.Tx) error) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return failure.New(failure.Database, "acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return failure.New(failure.Database, "begin read-only transaction", err)
	}
	defer func() {
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Warn().Err(err).Msg("could not roll back transaction")
		}
	}()

	return fn(tx)
}

type Options struct {
	Timeout time.Duration
	MaxRows int
	Guard   Guard
}

type Executor struct {
	db      *pgxpool.Pool
	timeout time.Duration
	maxRows int
	guard   Guard
}

func NewExecutor(db *pgxpool.Pool, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultQueryTimeout
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaultMaxRows
	}
	if opts.Guard.Mode == "" {
		opts.Guard.Mode = GuardWarn
	}
	return &Executor{db: db, timeout: opts.Timeout, maxRows: opts.MaxRows, guard: opts.Guard}
}

// RunReadOnly executes sql and returns at most MaxRows rows keyed by column
// name. Nothing it does is ever committed.
func (e *Executor) RunReadOnly(ctx context.Context, sql string) ([]map[string]any, error) {
	if err := e.guard.Check(sql); err != nil {
		return nil, err
	}
	ctxTO, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out []map[string]any
	err := WithReadOnlyTx(ctxTO, e.db, func(tx pgx.Tx) error {
		var err error
		out, err = collect(ctxTO, tx, sql, e.maxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SampleRows returns the first n rows of schemaName.table.
func (e *Executor) SampleRows(ctx context.Context, schemaName, table string, n int) ([]map[string]any, error) {
	if n <= 0 {
		n = 5
	}
	sql := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{schemaName, table}.Sanitize(), n)

	ctxTO, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out []map[string]any
	err := WithReadOnlyTx(ctxTO, e.db, func(tx pgx.Tx) error {
		var err error
		out, err = collect(ctxTO, tx, sql, n)
		return err
	})
	return out, err
}

func collect(ctx context.Context, tx pgx.Tx, sql string, limit int) ([]map[string]any, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, failure.New(failure.Database, "run query", err)
	}
	defer rows.Close()

	flds := rows.FieldDescriptions()
	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		if len(out) >= limit {
			log.Debug().Int("max_rows", limit).Msg("row cap reached, dropping remaining rows")
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, failure.New(failure.Database, "decode row", err)
		}
		row := make(map[string]any, len(flds))
		for i, f := range flds {
			row[f.Name] = normalize(vals[i])
		}
		out = append(out, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, failure.New(failure.Database, "run query", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	default:
		return v
	}
}

// RowsJSON renders rows as indented JSON. No rows renders as [].
func RowsJSON(rows []map[string]any) (string, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(b), nil
}
