// Package query runs SQL against SQLite database files inside the sandbox.
//
// The database path goes through sandbox validation and must already exist,
// so a query can never create a database outside the root or conjure an
// empty one inside it. Queries run verbatim with a row cap and deadline.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools"
)

const (
	defaultMaxRows = 1000
	defaultTimeout = 20 * time.Second
)

// Config configures query restrictions.
type Config struct {
	MaxRows int           // Maximum rows returned. 0 = 1000 default.
	Timeout time.Duration // Per-query deadline. 0 = 20s default.
}

// Result holds the outcome of a query.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Tool executes SQL queries against sandboxed SQLite files.
type Tool struct {
	root    *sandbox.Root
	maxRows int
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a query tool restricted to the sandbox root.
func New(root *sandbox.Root, cfg Config, logger *slog.Logger) *Tool {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tool{root: root, maxRows: maxRows, timeout: timeout, logger: logger}
}

// Query opens the SQLite file at dbPath and runs the statement verbatim.
func (t *Tool) Query(ctx context.Context, dbPath, query string) (*Result, error) {
	resolved, err := t.root.Validate(dbPath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(resolved); err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", tools.ErrNotFound, dbPath)
	}

	db, err := gorm.Open(sqlite.Open(resolved), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", resolved, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	rows, err := sqlDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}

	result := &Result{Columns: cols, Rows: make([][]any, 0)}
	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= t.maxRows {
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row %d: %w", len(result.Rows), err)
		}
		row := make([]any, len(cols))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	t.logger.InfoContext(ctx, "query executed",
		slog.String("db_path", resolved),
		slog.Int("rows_returned", len(result.Rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// normalizeValue converts driver values into JSON-friendly forms.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
