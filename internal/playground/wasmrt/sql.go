package wasmrt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"codeloom/internal/domain/model"

	_ "modernc.org/sqlite" // Embedded SQL engine
)

// SQLSession owns one persistent in-memory database connection for a
// playground session. Schema and data from one statement are visible
// to the next; Reset discards the connection entirely so nothing
// leaks into the following session.
type SQLSession struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLSession() (*SQLSession, error) {
	s := &SQLSession{}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSession) open() error {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("open sql session: %w", err)
	}
	// A pooled second connection would get its own empty in-memory
	// database; the session must stay on a single connection.
	db.SetMaxOpenConns(1)
	s.db = db
	return nil
}

// Execute splits script on ';' and runs each statement independently.
// A failing statement contributes an error entry and does not abort
// the rest, so partial successes of a multi-statement script remain
// visible.
func (s *SQLSession) Execute(ctx context.Context, script string) []model.SQLStatementResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []model.SQLStatementResult
	for _, raw := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		results = append(results, s.runStatement(ctx, stmt))
	}
	return results
}

func (s *SQLSession) runStatement(ctx context.Context, stmt string) model.SQLStatementResult {
	result := model.SQLStatementResult{Statement: stmt}

	if isRowQuery(stmt) {
		rows, err := s.db.QueryContext(ctx, stmt)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Columns = columns
		result.Rows = [][]string{}

		for rows.Next() {
			values := make([]any, len(columns))
			scanTargets := make([]any, len(columns))
			for i := range values {
				scanTargets[i] = &values[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				result.Error = err.Error()
				return result
			}
			row := make([]string, len(columns))
			for i, v := range values {
				row[i] = formatValue(v)
			}
			result.Rows = append(result.Rows, row)
		}
		if err := rows.Err(); err != nil {
			result.Error = err.Error()
		}
		return result
	}

	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		result.Message = fmt.Sprintf("%d row(s) affected", affected)
	} else {
		result.Message = "Statement executed successfully"
	}
	return result
}

// Reset discards the database connection and creates a fresh one.
func (s *SQLSession) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
	}
	return s.open()
}

func (s *SQLSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func isRowQuery(stmt string) bool {
	head := strings.ToUpper(firstWord(stmt))
	switch head {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	}
	return false
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}
