package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/config"
	"github.com/watzon/loom/internal/database"
	"github.com/watzon/loom/internal/workflow"
)

// ErrNotFound is returned when an execution or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoint snapshots are small JSON documents that compress well; a
// shared encoder pair avoids per-call allocation.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Store handles database operations for executions and checkpoints.
type Store struct {
	db             *database.DB
	maxCheckpoints int
}

// NewStore creates an execution state store. maxCheckpoints bounds the
// checkpoints retained per execution; values below 1 pick the default.
func NewStore(db *database.DB, maxCheckpoints int) *Store {
	if maxCheckpoints < 1 {
		maxCheckpoints = config.DefaultMaxCheckpoints
	}
	return &Store{db: db, maxCheckpoints: maxCheckpoints}
}

// CreateExecution inserts a new execution record.
func (s *Store) CreateExecution(ctx context.Context, exec *ExecutionState) error {
	query := `
		INSERT INTO executions (
			id, template_id, schedule_id, status,
			current_node_index, total_nodes,
			completed_nodes, failed_nodes, skipped_nodes,
			node_states, variables, error,
			started_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.TemplateID,
		exec.ScheduleID,
		string(exec.Status),
		exec.CurrentNodeIndex,
		exec.TotalNodes,
		marshalJSON(exec.CompletedNodes, "[]"),
		marshalJSON(exec.FailedNodes, "[]"),
		marshalJSON(exec.SkippedNodes, "[]"),
		marshalJSON(exec.NodeStates, "[]"),
		marshalJSON(exec.Variables, "{}"),
		exec.Error,
		exec.StartedAt.UTC().Format(time.RFC3339),
		exec.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	return nil
}

// UpdateExecution rewrites the mutable fields of an execution record.
func (s *Store) UpdateExecution(ctx context.Context, exec *ExecutionState) error {
	query := `
		UPDATE executions
		SET status = ?, current_node_index = ?,
		    completed_nodes = ?, failed_nodes = ?, skipped_nodes = ?,
		    node_states = ?, variables = ?, error = ?,
		    updated_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(exec.Status),
		exec.CurrentNodeIndex,
		marshalJSON(exec.CompletedNodes, "[]"),
		marshalJSON(exec.FailedNodes, "[]"),
		marshalJSON(exec.SkippedNodes, "[]"),
		marshalJSON(exec.NodeStates, "[]"),
		marshalJSON(exec.Variables, "{}"),
		exec.Error,
		exec.UpdatedAt.UTC().Format(time.RFC3339),
		nullTime(exec.CompletedAt),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}

	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*ExecutionState, error) {
	query := selectExecution + " WHERE id = ?"

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}

	return exec, nil
}

// ListExecutions retrieves executions, optionally filtered by status,
// most recent first. Rows that fail to decode are skipped with a
// warning rather than failing the listing.
func (s *Store) ListExecutions(ctx context.Context, status workflow.Status, limit, offset int) ([]*ExecutionState, error) {
	query := selectExecution + " WHERE 1=1"
	args := []any{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY started_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var execs []*ExecutionState
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable execution row")
			continue
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	return execs, nil
}

// ListRecoverable returns non-terminal executions that have at least one
// checkpoint to restore from. Called during startup recovery; rows that
// fail to decode are skipped with a warning so one corrupt record cannot
// block recovery of the rest.
func (s *Store) ListRecoverable(ctx context.Context) ([]*ExecutionState, error) {
	query := selectExecution + `
		WHERE status IN (?, ?)
		  AND EXISTS (SELECT 1 FROM checkpoints WHERE checkpoints.execution_id = executions.id)
		ORDER BY started_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(workflow.StatusRunning), string(workflow.StatusPaused))
	if err != nil {
		return nil, fmt.Errorf("querying recoverable executions: %w", err)
	}
	defer rows.Close()

	var execs []*ExecutionState
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable execution row")
			continue
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recoverable executions: %w", err)
	}

	return execs, nil
}

// DeleteOlderThan removes terminal executions whose last update is older
// than retention. Checkpoints cascade. Non-terminal runs are never expired.
func (s *Store) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	query := `
		DELETE FROM executions
		WHERE updated_at < ?
		  AND status IN (?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, cutoff,
		string(workflow.StatusCompleted),
		string(workflow.StatusFailed),
		string(workflow.StatusCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired executions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// SaveCheckpoint writes a compressed snapshot and evicts the oldest
// checkpoints beyond the retention cap. The checkpoint is durable when
// this returns.
func (s *Store) SaveCheckpoint(ctx context.Context, executionID, reason string, snap Snapshot) (*Checkpoint, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	blob := zstdEncoder.EncodeAll(data, nil)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE execution_id = ?`,
		executionID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("computing checkpoint sequence: %w", err)
	}

	cp := &Checkpoint{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Seq:         seq,
		Reason:      reason,
		Snapshot:    snap,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, execution_id, seq, reason, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ExecutionID, cp.Seq, cp.Reason, blob,
		cp.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting checkpoint: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM checkpoints
		 WHERE execution_id = ?
		   AND seq <= (SELECT MAX(seq) FROM checkpoints WHERE execution_id = ?) - ?`,
		executionID, executionID, s.maxCheckpoints,
	)
	if err != nil {
		return nil, fmt.Errorf("trimming checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing checkpoint: %w", err)
	}

	return cp, nil
}

// LatestCheckpoint retrieves the newest checkpoint for an execution.
func (s *Store) LatestCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	query := `
		SELECT id, execution_id, seq, reason, snapshot, created_at
		FROM checkpoints
		WHERE execution_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint for execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}

	return cp, nil
}

// GetCheckpoint retrieves a single checkpoint by ID.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	query := `
		SELECT id, execution_id, seq, reason, snapshot, created_at
		FROM checkpoints
		WHERE id = ?
	`

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}

	return cp, nil
}

// ListCheckpoints retrieves all checkpoints of an execution, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	query := `
		SELECT id, execution_id, seq, reason, snapshot, created_at
		FROM checkpoints
		WHERE execution_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}

	return cps, nil
}

const selectExecution = `
	SELECT id, template_id, schedule_id, status,
	       current_node_index, total_nodes,
	       completed_nodes, failed_nodes, skipped_nodes,
	       node_states, variables, error,
	       started_at, updated_at, completed_at
	FROM executions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionState, error) {
	var exec ExecutionState
	var status, completedNodes, failedNodes, skippedNodes, nodeStates, variables string
	var startedAt, updatedAt string
	var completedAt sql.NullString

	if err := row.Scan(
		&exec.ID,
		&exec.TemplateID,
		&exec.ScheduleID,
		&status,
		&exec.CurrentNodeIndex,
		&exec.TotalNodes,
		&completedNodes,
		&failedNodes,
		&skippedNodes,
		&nodeStates,
		&variables,
		&exec.Error,
		&startedAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	exec.Status = workflow.Status(status)

	if err := json.Unmarshal([]byte(completedNodes), &exec.CompletedNodes); err != nil {
		return nil, fmt.Errorf("parsing completed_nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(failedNodes), &exec.FailedNodes); err != nil {
		return nil, fmt.Errorf("parsing failed_nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(skippedNodes), &exec.SkippedNodes); err != nil {
		return nil, fmt.Errorf("parsing skipped_nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(nodeStates), &exec.NodeStates); err != nil {
		return nil, fmt.Errorf("parsing node_states: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &exec.Variables); err != nil {
		return nil, fmt.Errorf("parsing variables: %w", err)
	}

	var err error
	if exec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		exec.CompletedAt = &t
	}

	return &exec, nil
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var blob []byte
	var createdAt string

	if err := row.Scan(&cp.ID, &cp.ExecutionID, &cp.Seq, &cp.Reason, &blob, &createdAt); err != nil {
		return nil, err
	}

	data, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	if cp.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &cp, nil
}

func marshalJSON(v any, empty string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
