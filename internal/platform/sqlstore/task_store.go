package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/insurance-ai/backoffice/internal/task"
)

const taskColumns = `task_id, type, status, payload, result, error, institution_id, report_id, created_at, updated_at`

// TaskStore implements the task.Store interface
type TaskStore struct {
	db  store.DBTX
	now func() time.Time
}

// NewTaskStore creates a new TaskStore
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{
		db:  db,
		now: time.Now,
	}
}

// Ensure TaskStore implements task.Store interface
var _ task.Store = (*TaskStore)(nil)

// dbTime normalizes t to the precision both databases keep.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// nullBytes stores an empty JSON document as NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create persists a new PENDING task
func (s *TaskStore) Create(ctx context.Context, nt task.NewTask) (*task.Task, error) {
	log := logger.FromContext(ctx)

	if err := nt.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	now := dbTime(s.now())
	t := &task.Task{
		ID:            nt.ID,
		Type:          nt.Type,
		Status:        task.StatusPending,
		Payload:       nt.Payload,
		InstitutionID: nt.InstitutionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	query := `
		INSERT INTO tasks (task_id, type, status, payload, institution_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		string(t.Type),
		string(t.Status),
		nullBytes(t.Payload),
		t.InstitutionID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		err = MapError(err)
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskExists, t.ID)
		}
		log.Error("failed to save task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return nil, fmt.Errorf("failed to save task to database: %w", err)
	}

	return t, nil
}

// Update applies a partial update. The transition rules are part of the
// WHERE clause, so a disallowed or late write matches no row.
func (s *TaskStore) Update(ctx context.Context, id string, u task.Update) (bool, error) {
	log := logger.FromContext(ctx)

	var from []task.Status
	if u.Status != "" {
		from = task.AllowedFrom(u.Status)
		if len(from) == 0 {
			return false, nil
		}
	}

	at := u.At
	if at.IsZero() {
		at = s.now()
	}

	// SQLite numbers $n parameters by first appearance, so placeholders
	// are allocated in the order they appear in the statement.
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	if u.Status != "" {
		sets = append(sets, "status = "+arg(string(u.Status)))
		switch u.Status {
		case task.StatusSuccess:
			sets = append(sets, "result = "+arg(nullBytes(u.Result)), "error = NULL")
		case task.StatusFailure:
			sets = append(sets, "error = "+arg(u.Error), "result = NULL")
		}
	}
	if u.ReportID != "" {
		sets = append(sets, "report_id = "+arg(u.ReportID))
	}
	p := arg(dbTime(at))
	sets = append(sets, fmt.Sprintf("updated_at = CASE WHEN updated_at > %s THEN updated_at ELSE %s END", p, p))

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE task_id = " + arg(id)
	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, st := range from {
			placeholders[i] = arg(string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		err = MapError(err)
		log.Error("failed to update task",
			"task_id", id,
			"status", u.Status,
			"error", err)
		return false, fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Debug("task update matched no row",
			"task_id", id,
			"status", u.Status)
	}
	return rowsAffected > 0, nil
}

// Get retrieves a task by ID
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		logger.FromContext(ctx).Error("failed to get task", "task_id", id, "error", err)
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return t, nil
}

// ListByStatus returns tasks in status, oldest first, with an optional age filter
func (s *TaskStore) ListByStatus(ctx context.Context, status task.Status, olderThan time.Duration) ([]*task.Task, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any

	if olderThan > 0 {
		// Get tasks not updated within the specified duration
		query = `SELECT ` + taskColumns + `
			FROM tasks
			WHERE status = $1 AND updated_at < $2
			ORDER BY created_at ASC`
		args = []any{string(status), dbTime(s.now().Add(-olderThan))}
	} else {
		// Get all tasks with the given status
		query = `SELECT ` + taskColumns + `
			FROM tasks
			WHERE status = $1
			ORDER BY created_at ASC`
		args = []any{string(status)}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to query tasks by status: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row",
				"status", status,
				"error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("error iterating task rows: %w", MapError(err))
	}

	return tasks, nil
}

// DeleteOlderThan removes tasks created before cutoff
func (s *TaskStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE created_at < $1`, dbTime(cutoff))
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete old tasks", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to delete old tasks: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// WithTx returns a new TaskStore that uses the provided transaction
func (s *TaskStore) WithTx(tx *sql.Tx) task.Store {
	return &TaskStore{
		db:  tx,
		now: s.now,
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t          task.Task
		taskType   string
		status     string
		payload    []byte
		result     []byte
		errMessage sql.NullString
		reportID   sql.NullString
	)
	if err := row.Scan(
		&t.ID,
		&taskType,
		&status,
		&payload,
		&result,
		&errMessage,
		&t.InstitutionID,
		&reportID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Type = task.Type(taskType)
	t.Status = task.Status(status)
	if len(payload) > 0 {
		t.Payload = payload
	}
	if len(result) > 0 {
		t.Result = result
	}
	t.Error = errMessage.String
	t.ReportID = reportID.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
