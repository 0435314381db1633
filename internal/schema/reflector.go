package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/you/sqlbridge/internal/failure"
)

const (
	listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name`

	listColumnsSQL = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
)

// Reflector reads the catalog on every call. Results are never cached so a
// schema change between two calls is always visible to the second one.
type Reflector struct {
	db      *pgxpool.Pool
	schema  string
	catalog *Catalog
}

func NewReflector(db *pgxpool.Pool, schemaName string, catalog *Catalog) *Reflector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Reflector{db: db, schema: schemaName, catalog: catalog}
}

func (r *Reflector) SchemaName() string { return r.schema }

func (r *Reflector) ListTables(ctx context.Context) ([]string, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, failure.New(failure.Database, "acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, listTablesSQL, r.schema)
	if err != nil {
		return nil, failure.New(failure.Database, "list tables", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, failure.New(failure.Database, "scan table name", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.New(failure.Database, "list tables", err)
	}
	return out, nil
}

func (r *Reflector) ListColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, failure.New(failure.Database, "acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, listColumnsSQL, r.schema, table)
	if err != nil {
		return nil, failure.New(failure.Database, fmt.Sprintf("list columns of %s", table), err)
	}
	defer rows.Close()

	var out []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, failure.New(failure.Database, "scan column", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.New(failure.Database, fmt.Sprintf("list columns of %s", table), err)
	}
	return out, nil
}

// Tables returns the current tables as selection candidates, with
// descriptions merged in from the context catalog when one is loaded.
func (r *Reflector) Tables(ctx context.Context) ([]TableInfo, error) {
	names, err := r.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableInfo, 0, len(names))
	for _, n := range names {
		info := TableInfo{TableName: n, FileName: r.schema + "." + n}
		if d, ok := r.catalog.Describe(n); ok {
			info.Description = d.Description
			if d.FileName != "" {
				info.FileName = d.FileName
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *Reflector) TableContext(ctx context.Context, table string) (TableContext, error) {
	cols, err := r.ListColumns(ctx, table)
	if err != nil {
		return TableContext{}, err
	}
	r.catalog.annotate(table, cols)
	return TableContext{TableName: table, Fields: cols}, nil
}

// TableContexts reflects every table in the schema, in ListTables order.
func (r *Reflector) TableContexts(ctx context.Context) ([]TableContext, error) {
	names, err := r.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableContext, 0, len(names))
	for _, n := range names {
		tc, err := r.TableContext(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}
