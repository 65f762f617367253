package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/loom/internal/database"
	"github.com/watzon/loom/internal/workflow"
)

// ErrNotFound is returned when no schedule exists with the requested id.
var ErrNotFound = errors.New("schedule not found")

// Store handles database operations for schedules.
type Store struct {
	db *database.DB
}

// NewStore creates a schedule store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new schedule.
func (s *Store) Create(ctx context.Context, sched *Schedule) error {
	query := `
		INSERT INTO schedules (
			id, template_id, template_name, cron_expression, options,
			enabled, status, max_runs, end_date,
			run_count, last_run, next_run, last_result,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	options, err := json.Marshal(sched.Options)
	if err != nil {
		return fmt.Errorf("encoding schedule options: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		sched.ID,
		sched.TemplateID,
		sched.TemplateName,
		sched.CronExpression,
		string(options),
		boolToInt(sched.Enabled),
		string(sched.Status),
		nullInt(sched.MaxRuns),
		nullTime(sched.EndDate),
		sched.RunCount,
		nullTime(sched.LastRun),
		nullTime(sched.NextRun),
		marshalResult(sched.LastResult),
		sched.CreatedAt.UTC().Format(time.RFC3339),
		sched.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}

	return nil
}

// Update rewrites the mutable fields of a schedule.
func (s *Store) Update(ctx context.Context, sched *Schedule) error {
	query := `
		UPDATE schedules
		SET template_name = ?, cron_expression = ?, options = ?,
		    enabled = ?, status = ?, max_runs = ?, end_date = ?,
		    run_count = ?, last_run = ?, next_run = ?, last_result = ?,
		    updated_at = ?
		WHERE id = ?
	`

	options, err := json.Marshal(sched.Options)
	if err != nil {
		return fmt.Errorf("encoding schedule options: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query,
		sched.TemplateName,
		sched.CronExpression,
		string(options),
		boolToInt(sched.Enabled),
		string(sched.Status),
		nullInt(sched.MaxRuns),
		nullTime(sched.EndDate),
		sched.RunCount,
		nullTime(sched.LastRun),
		nullTime(sched.NextRun),
		marshalResult(sched.LastResult),
		time.Now().UTC().Format(time.RFC3339),
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("schedule %s: %w", sched.ID, ErrNotFound)
	}

	return nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	query := selectSchedule + " WHERE id = ?"

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying schedule: %w", err)
	}

	return sched, nil
}

// Delete removes a schedule.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}

	return nil
}

// List retrieves all schedules, oldest first. Rows that fail to decode
// are skipped with a warning rather than failing the listing.
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, selectSchedule+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable schedule row")
			continue
		}
		scheds = append(scheds, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	return scheds, nil
}

// ListDue retrieves enabled active schedules whose next run is at or
// before now, soonest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := selectSchedule + `
		WHERE enabled = 1
		  AND status = ?
		  AND next_run IS NOT NULL
		  AND next_run <= ?
		ORDER BY next_run ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(StatusActive), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable schedule row")
			continue
		}
		scheds = append(scheds, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due schedules: %w", err)
	}

	return scheds, nil
}

// CountActive returns the number of fireable schedules.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedules WHERE enabled = 1 AND status = ?`,
		string(StatusActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active schedules: %w", err)
	}
	return n, nil
}

// Export packages every schedule into a versioned document.
func (s *Store) Export(ctx context.Context) (*Document, error) {
	scheds, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	return &Document{
		Version:     DocumentVersion,
		LastUpdated: time.Now().UTC(),
		Schedules:   scheds,
	}, nil
}

// Import inserts every schedule from a versioned document. Existing ids
// are replaced.
func (s *Store) Import(ctx context.Context, doc *Document) error {
	if doc.Version != DocumentVersion {
		return fmt.Errorf("unsupported schedules document version %q", doc.Version)
	}

	for _, sched := range doc.Schedules {
		if err := s.Delete(ctx, sched.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.Create(ctx, sched); err != nil {
			return err
		}
	}

	return nil
}

const selectSchedule = `
	SELECT id, template_id, template_name, cron_expression, options,
	       enabled, status, max_runs, end_date,
	       run_count, last_run, next_run, last_result,
	       created_at, updated_at
	FROM schedules
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var options, status, lastResult string
	var enabled int
	var maxRuns sql.NullInt64
	var endDate, lastRun, nextRun sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&sched.ID,
		&sched.TemplateID,
		&sched.TemplateName,
		&sched.CronExpression,
		&options,
		&enabled,
		&status,
		&maxRuns,
		&endDate,
		&sched.RunCount,
		&lastRun,
		&nextRun,
		&lastResult,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	sched.Enabled = enabled != 0
	sched.Status = Status(status)
	if maxRuns.Valid {
		sched.MaxRuns = int(maxRuns.Int64)
	}

	if err := json.Unmarshal([]byte(options), &sched.Options); err != nil {
		return nil, fmt.Errorf("parsing options: %w", err)
	}
	if lastResult != "" {
		var summary workflow.Summary
		if err := json.Unmarshal([]byte(lastResult), &summary); err != nil {
			return nil, fmt.Errorf("parsing last_result: %w", err)
		}
		sched.LastResult = &summary
	}

	var err error
	if sched.EndDate, err = parseNullTime(endDate); err != nil {
		return nil, fmt.Errorf("parsing end_date: %w", err)
	}
	if sched.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run: %w", err)
	}
	if sched.NextRun, err = parseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("parsing next_run: %w", err)
	}
	if sched.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sched.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &sched, nil
}

func marshalResult(summary *workflow.Summary) string {
	if summary == nil {
		return ""
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
