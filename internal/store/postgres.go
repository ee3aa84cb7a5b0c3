package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

const defaultStatementTimeout = 5 * time.Second

// PostgresStore implements Store over database/sql with lib/pq. Table and
// column names arrive from ranked candidate lists, so every statement is
// built dynamically and identifiers are always quoted.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db, timeout: defaultStatementTimeout}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Select(ctx context.Context, table string, filters []Filter, limit int) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(pq.QuoteIdentifier(table))

	args := appendWhere(&sb, filters, nil)
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapPQError("select", table, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func (s *PostgresStore) Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(pq.QuoteIdentifier(table))
	sb.WriteString(" SET ")

	args := make([]any, 0, len(patch)+len(filters))
	for i, column := range sortedColumns(patch) {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, patch[column])
		fmt.Fprintf(&sb, "%s = $%d", pq.QuoteIdentifier(column), len(args))
	}

	args = appendWhere(&sb, filters, args)
	sb.WriteString(" RETURNING *")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapPQError("update", table, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if len(row) == 0 {
		return nil, fmt.Errorf("insert %s: empty row", table)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	columns := sortedColumns(row)
	args := make([]any, 0, len(columns))

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pq.QuoteIdentifier(table))
	sb.WriteString(" (")
	for i, column := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pq.QuoteIdentifier(column))
	}
	sb.WriteString(") VALUES (")
	for i, column := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, row[column])
		fmt.Fprintf(&sb, "$%d", len(args))
	}
	sb.WriteString(") RETURNING *")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapPQError("insert", table, err)
	}
	defer rows.Close()

	inserted, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return inserted[0], nil
}

func (s *PostgresStore) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(pq.QuoteIdentifier(table))
	args := appendWhere(&sb, filters, nil)

	result, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, mapPQError("delete", table, err)
	}
	return result.RowsAffected()
}

func appendWhere(sb *strings.Builder, filters []Filter, args []any) []any {
	for i, f := range filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(sb, "%s = $%d", pq.QuoteIdentifier(f.Column), len(args))
	}
	return args
}

func sortedColumns(row Row) []string {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	// Deterministic statement text keeps query logs diffable.
	sort.Strings(columns)
	return columns
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// mapPQError folds driver errors into the store taxonomy: a missing table
// becomes ErrNoTable so probing can tell "absent" from "unreachable";
// everything else keeps its cause wrapped.
func mapPQError(op, table string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "42P01" {
		return fmt.Errorf("%s %s: %w", op, table, ErrNoTable)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}
