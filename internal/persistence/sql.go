package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/logimos/reactor/internal/engine"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
)

// SQLStore persists executions to a single table, driver-agnostic over
// anything database/sql supports via a blank-imported driver. The schema:
//
//	CREATE TABLE workflow_executions (
//		id            VARCHAR(64) PRIMARY KEY,
//		workflow_name VARCHAR(255) NOT NULL,
//		status        VARCHAR(32) NOT NULL,
//		execution     TEXT NOT NULL,
//		updated_at    BIGINT NOT NULL
//	);
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ engine.Store = (*SQLStore)(nil)
var _ Store = (*SQLStore)(nil)

// NewSQLStore opens driver/dsn (e.g. "postgres"/"mysql") and verifies
// connectivity before returning.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// placeholder returns the positional parameter marker for this store's
// driver: postgres/lib-pq wants $N, everything else (mysql included)
// wants ?.
func (s *SQLStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Save(execution *engine.WorkflowExecution) error {
	return s.upsert(execution)
}

func (s *SQLStore) Update(_ string, execution *engine.WorkflowExecution) error {
	return s.upsert(execution)
}

func (s *SQLStore) upsert(execution *engine.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	var query string
	switch s.driver {
	case "postgres":
		query = fmt.Sprintf(`INSERT INTO workflow_executions (id, workflow_name, status, execution, updated_at)
			VALUES (%s, %s, %s, %s, %s)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, execution = EXCLUDED.execution, updated_at = EXCLUDED.updated_at`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	default:
		query = `INSERT INTO workflow_executions (id, workflow_name, status, execution, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), execution = VALUES(execution), updated_at = VALUES(updated_at)`
	}

	updatedAt := execution.Context.Metadata.UpdatedAt.Unix()
	_, err = s.db.Exec(query, execution.ID, execution.WorkflowName, string(execution.Status), string(data), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(id string) (*engine.WorkflowExecution, error) {
	query := fmt.Sprintf("SELECT execution FROM workflow_executions WHERE id = %s", s.placeholder(1))

	var raw string
	if err := s.db.QueryRow(query, id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{ID: id}
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	var execution engine.WorkflowExecution
	if err := json.Unmarshal([]byte(raw), &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

func (s *SQLStore) Find(filter Filter) ([]*engine.WorkflowExecution, error) {
	query := "SELECT execution FROM workflow_executions WHERE 1=1"
	var args []interface{}
	n := 1

	if filter.WorkflowName != "" {
		query += fmt.Sprintf(" AND workflow_name = %s", s.placeholder(n))
		args = append(args, filter.WorkflowName)
		n++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = %s", s.placeholder(n))
		args = append(args, string(filter.Status))
		n++
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []*engine.WorkflowExecution
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		var execution engine.WorkflowExecution
		if err := json.Unmarshal([]byte(raw), &execution); err != nil {
			continue
		}
		out = append(out, &execution)
	}
	return out, rows.Err()
}
