package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/flowstack/internal/core/domain"
	"github.com/artpar/flowstack/internal/core/history"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Busy timeout matters here: the lease query and the engine's
	// transactional appends contend on the same file.
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite serializes writers anyway, and a single pooled connection
	// keeps :memory: databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Namespace Operations
// =============================================================================

// namespaceRow represents a namespace row in the database.
type namespaceRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Description   string `db:"description"`
	RetentionDays int    `db:"retention_days"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (s *SQLiteStore) CreateNamespace(ctx context.Context, ns *domain.Namespace) error {
	return createNamespace(ctx, s.db, ns)
}

func (s *SQLiteStore) GetNamespaceByName(ctx context.Context, name string) (*domain.Namespace, error) {
	return getNamespaceByName(ctx, s.db, name)
}

func (s *SQLiteStore) ListNamespaces(ctx context.Context, opts ListOptions) ([]domain.Namespace, error) {
	return listNamespaces(ctx, s.db, opts)
}

// =============================================================================
// Workflow Definition Operations
// =============================================================================

// definitionRow represents a workflow definition row in the database.
type definitionRow struct {
	Namespace string `db:"namespace"`
	Name      string `db:"name"`
	Source    string `db:"source"`
	TaskQueue string `db:"task_queue"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) PutDefinition(ctx context.Context, def *DefinitionRecord) error {
	return putDefinition(ctx, s.db, def)
}

func (s *SQLiteStore) GetDefinition(ctx context.Context, namespace, name string) (*DefinitionRecord, error) {
	return getDefinition(ctx, s.db, namespace, name)
}

func (s *SQLiteStore) ListDefinitions(ctx context.Context, namespace string, opts ListOptions) ([]DefinitionRecord, error) {
	return listDefinitions(ctx, s.db, namespace, opts)
}

// =============================================================================
// Workflow Execution Operations
// =============================================================================

// executionRow represents a workflow execution row in the database.
type executionRow struct {
	ID           string  `db:"id"`
	RunID        string  `db:"run_id"`
	Namespace    string  `db:"namespace"`
	Definition   string  `db:"definition"`
	TaskQueue    string  `db:"task_queue"`
	Status       string  `db:"status"`
	Input        string  `db:"input"`
	Result       string  `db:"result"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	ClosedAt     *string `db:"closed_at"`
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	return createExecution(ctx, s.db, exec)
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	return getExecution(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	return updateExecution(ctx, s.db, exec)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, namespace string, opts ListOptions) ([]domain.WorkflowExecution, error) {
	return listExecutions(ctx, s.db, namespace, opts)
}

func (s *SQLiteStore) ListOpenExecutions(ctx context.Context) ([]domain.WorkflowExecution, error) {
	return listOpenExecutions(ctx, s.db)
}

// =============================================================================
// History Operations
// =============================================================================

// eventRow represents a history event row in the database.
type eventRow struct {
	RunID      string  `db:"run_id"`
	EventID    int64   `db:"event_id"`
	WorkflowID string  `db:"workflow_id"`
	Type       string  `db:"type"`
	StepName   string  `db:"step_name"`
	Attempt    int     `db:"attempt"`
	Attributes *string `db:"attributes"`
	Timestamp  string  `db:"timestamp"`
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *history.Event) error {
	return appendEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]history.Event, error) {
	return listEvents(ctx, s.db, runID)
}

func (s *SQLiteStore) NextEventID(ctx context.Context, runID string) (int64, error) {
	return nextEventID(ctx, s.db, runID)
}

// =============================================================================
// Activity Task Operations
// =============================================================================

// taskRow represents an activity task row in the database.
type taskRow struct {
	ID           string  `db:"id"`
	Namespace    string  `db:"namespace"`
	WorkflowID   string  `db:"workflow_id"`
	RunID        string  `db:"run_id"`
	StepName     string  `db:"step_name"`
	ActivityType string  `db:"activity_type"`
	TaskQueue    string  `db:"task_queue"`
	TaskToken    string  `db:"task_token"`
	Input        string  `db:"input"`
	Attempt      int     `db:"attempt"`
	State        string  `db:"state"`
	ErrorMessage string  `db:"error_message"`
	ScheduledAt  string  `db:"scheduled_at"`
	UpdatedAt    string  `db:"updated_at"`
	LeasedAt     *string `db:"leased_at"`
	LeaseExpires *string `db:"lease_expires"`
	HeartbeatAt  *string `db:"heartbeat_at"`
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.ActivityTask) error {
	return createTask(ctx, s.db, task)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*domain.ActivityTask, error) {
	return getTask(ctx, s.db, id)
}

func (s *SQLiteStore) GetTaskByToken(ctx context.Context, token string) (*domain.ActivityTask, error) {
	return getTaskByToken(ctx, s.db, token)
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *domain.ActivityTask) error {
	return updateTask(ctx, s.db, task)
}

// LeaseNextTask atomically claims the oldest pending task on a queue.
// The select and the state flip run in one transaction so two pollers
// cannot lease the same task.
func (s *SQLiteStore) LeaseNextTask(ctx context.Context, taskQueue string, leaseUntil time.Time) (*domain.ActivityTask, error) {
	var leased *domain.ActivityTask
	err := s.WithTx(ctx, func(txStore Store) error {
		tx := txStore.(*txSQLiteStore)
		task, err := leaseNextTask(ctx, tx.tx, taskQueue, leaseUntil)
		if err != nil {
			return err
		}
		leased = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (s *SQLiteStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.ActivityTask, error) {
	return listExpiredLeases(ctx, s.db, now, limit)
}

func (s *SQLiteStore) ListTasksByRun(ctx context.Context, runID string) ([]domain.ActivityTask, error) {
	return listTasksByRun(ctx, s.db, runID)
}

// =============================================================================
// Timer Operations
// =============================================================================

// timerRow represents a timer row in the database.
type timerRow struct {
	ID         string `db:"id"`
	Namespace  string `db:"namespace"`
	WorkflowID string `db:"workflow_id"`
	RunID      string `db:"run_id"`
	StepName   string `db:"step_name"`
	Kind       string `db:"kind"`
	TaskID     string `db:"task_id"`
	FireAt     string `db:"fire_at"`
	Fired      bool   `db:"fired"`
	CreatedAt  string `db:"created_at"`
}

func (s *SQLiteStore) CreateTimer(ctx context.Context, timer *domain.Timer) error {
	return createTimer(ctx, s.db, timer)
}

func (s *SQLiteStore) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	return listDueTimers(ctx, s.db, now, limit)
}

func (s *SQLiteStore) MarkTimerFired(ctx context.Context, id string) error {
	return markTimerFired(ctx, s.db, id)
}

// =============================================================================
// Stack Operations
// =============================================================================

// stackRow represents a stack row in the database.
type stackRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	SpecYAML     string  `db:"spec_yaml"`
	Status       string  `db:"status"`
	Variables    *string `db:"variables"`
	Containers   *string `db:"containers"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	LaunchedAt   *string `db:"launched_at"`
	StoppedAt    *string `db:"stopped_at"`
}

func (s *SQLiteStore) CreateStack(ctx context.Context, st *domain.Stack) error {
	return createStack(ctx, s.db, st)
}

func (s *SQLiteStore) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	return getStack(ctx, s.db, id)
}

func (s *SQLiteStore) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateStack(ctx context.Context, st *domain.Stack) error {
	return updateStack(ctx, s.db, st)
}

func (s *SQLiteStore) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, s.db, id)
}

func (s *SQLiteStore) ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error) {
	return listStacks(ctx, s.db, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateNamespace(ctx context.Context, ns *domain.Namespace) error {
	return createNamespace(ctx, s.tx, ns)
}

func (s *txSQLiteStore) GetNamespaceByName(ctx context.Context, name string) (*domain.Namespace, error) {
	return getNamespaceByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListNamespaces(ctx context.Context, opts ListOptions) ([]domain.Namespace, error) {
	return listNamespaces(ctx, s.tx, opts)
}

func (s *txSQLiteStore) PutDefinition(ctx context.Context, def *DefinitionRecord) error {
	return putDefinition(ctx, s.tx, def)
}

func (s *txSQLiteStore) GetDefinition(ctx context.Context, namespace, name string) (*DefinitionRecord, error) {
	return getDefinition(ctx, s.tx, namespace, name)
}

func (s *txSQLiteStore) ListDefinitions(ctx context.Context, namespace string, opts ListOptions) ([]DefinitionRecord, error) {
	return listDefinitions(ctx, s.tx, namespace, opts)
}

func (s *txSQLiteStore) CreateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	return createExecution(ctx, s.tx, exec)
}

func (s *txSQLiteStore) GetExecution(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	return getExecution(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	return updateExecution(ctx, s.tx, exec)
}

func (s *txSQLiteStore) ListExecutions(ctx context.Context, namespace string, opts ListOptions) ([]domain.WorkflowExecution, error) {
	return listExecutions(ctx, s.tx, namespace, opts)
}

func (s *txSQLiteStore) ListOpenExecutions(ctx context.Context) ([]domain.WorkflowExecution, error) {
	return listOpenExecutions(ctx, s.tx)
}

func (s *txSQLiteStore) AppendEvent(ctx context.Context, event *history.Event) error {
	return appendEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEvents(ctx context.Context, runID string) ([]history.Event, error) {
	return listEvents(ctx, s.tx, runID)
}

func (s *txSQLiteStore) NextEventID(ctx context.Context, runID string) (int64, error) {
	return nextEventID(ctx, s.tx, runID)
}

func (s *txSQLiteStore) CreateTask(ctx context.Context, task *domain.ActivityTask) error {
	return createTask(ctx, s.tx, task)
}

func (s *txSQLiteStore) GetTask(ctx context.Context, id string) (*domain.ActivityTask, error) {
	return getTask(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetTaskByToken(ctx context.Context, token string) (*domain.ActivityTask, error) {
	return getTaskByToken(ctx, s.tx, token)
}

func (s *txSQLiteStore) UpdateTask(ctx context.Context, task *domain.ActivityTask) error {
	return updateTask(ctx, s.tx, task)
}

func (s *txSQLiteStore) LeaseNextTask(ctx context.Context, taskQueue string, leaseUntil time.Time) (*domain.ActivityTask, error) {
	return leaseNextTask(ctx, s.tx, taskQueue, leaseUntil)
}

func (s *txSQLiteStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.ActivityTask, error) {
	return listExpiredLeases(ctx, s.tx, now, limit)
}

func (s *txSQLiteStore) ListTasksByRun(ctx context.Context, runID string) ([]domain.ActivityTask, error) {
	return listTasksByRun(ctx, s.tx, runID)
}

func (s *txSQLiteStore) CreateTimer(ctx context.Context, timer *domain.Timer) error {
	return createTimer(ctx, s.tx, timer)
}

func (s *txSQLiteStore) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	return listDueTimers(ctx, s.tx, now, limit)
}

func (s *txSQLiteStore) MarkTimerFired(ctx context.Context, id string) error {
	return markTimerFired(ctx, s.tx, id)
}

func (s *txSQLiteStore) CreateStack(ctx context.Context, st *domain.Stack) error {
	return createStack(ctx, s.tx, st)
}

func (s *txSQLiteStore) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	return getStack(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateStack(ctx context.Context, st *domain.Stack) error {
	return updateStack(ctx, s.tx, st)
}

func (s *txSQLiteStore) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error) {
	return listStacks(ctx, s.tx, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createNamespace(ctx context.Context, exec executor, ns *domain.Namespace) error {
	query := `
		INSERT INTO namespaces (
			id, name, description, retention_days, created_at, updated_at
		) VALUES (
			:id, :name, :description, :retention_days, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":             ns.ID,
		"name":           ns.Name,
		"description":    ns.Description,
		"retention_days": ns.RetentionDays,
		"created_at":     ns.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     ns.UpdatedAt.Format(time.RFC3339Nano),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: namespaces.id") {
			return NewStoreError("CreateNamespace", "namespace", ns.ID, "namespace with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: namespaces.name") {
			return NewStoreError("CreateNamespace", "namespace", ns.Name, "namespace with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateNamespace", "namespace", ns.ID, err.Error(), err)
	}

	return nil
}

func getNamespaceByName(ctx context.Context, exec executor, name string) (*domain.Namespace, error) {
	query := `SELECT * FROM namespaces WHERE name = ?`

	var row namespaceRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetNamespaceByName", "namespace", name, "namespace not found", ErrNotFound)
		}
		return nil, NewStoreError("GetNamespaceByName", "namespace", name, err.Error(), err)
	}

	return rowToNamespace(&row)
}

func listNamespaces(ctx context.Context, exec executor, opts ListOptions) ([]domain.Namespace, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM namespaces ORDER BY name LIMIT ? OFFSET ?`

	var rows []namespaceRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListNamespaces", "namespace", "", err.Error(), err)
	}

	namespaces := make([]domain.Namespace, 0, len(rows))
	for _, row := range rows {
		ns, err := rowToNamespace(&row)
		if err != nil {
			return nil, err
		}
		namespaces = append(namespaces, *ns)
	}

	return namespaces, nil
}

func putDefinition(ctx context.Context, exec executor, def *DefinitionRecord) error {
	// Upsert: registering the same name again replaces the source. Open
	// executions keep running against the source captured at start.
	query := `
		INSERT INTO workflow_definitions (
			namespace, name, source, task_queue, created_at, updated_at
		) VALUES (
			:namespace, :name, :source, :task_queue, :created_at, :updated_at
		)
		ON CONFLICT (namespace, name) DO UPDATE SET
			source = excluded.source,
			task_queue = excluded.task_queue,
			updated_at = excluded.updated_at`

	row := map[string]any{
		"namespace":  def.Namespace,
		"name":       def.Name,
		"source":     def.Source,
		"task_queue": def.TaskQueue,
		"created_at": def.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": def.UpdatedAt.Format(time.RFC3339Nano),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("PutDefinition", "definition", def.Name, err.Error(), err)
	}

	return nil
}

func getDefinition(ctx context.Context, exec executor, namespace, name string) (*DefinitionRecord, error) {
	query := `SELECT * FROM workflow_definitions WHERE namespace = ? AND name = ?`

	var row definitionRow
	err := exec.GetContext(ctx, &row, query, namespace, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDefinition", "definition", name, "definition not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDefinition", "definition", name, err.Error(), err)
	}

	return rowToDefinition(&row)
}

func listDefinitions(ctx context.Context, exec executor, namespace string, opts ListOptions) ([]DefinitionRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM workflow_definitions WHERE namespace = ? ORDER BY name LIMIT ? OFFSET ?`

	var rows []definitionRow
	err := exec.SelectContext(ctx, &rows, query, namespace, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDefinitions", "definition", "", err.Error(), err)
	}

	defs := make([]DefinitionRecord, 0, len(rows))
	for _, row := range rows {
		def, err := rowToDefinition(&row)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}

	return defs, nil
}

func createExecution(ctx context.Context, exec executor, e *domain.WorkflowExecution) error {
	query := `
		INSERT INTO workflow_executions (
			id, run_id, namespace, definition, task_queue, status,
			input, result, error_message,
			created_at, updated_at, started_at, closed_at
		) VALUES (
			:id, :run_id, :namespace, :definition, :task_queue, :status,
			:input, :result, :error_message,
			:created_at, :updated_at, :started_at, :closed_at
		)`

	row := map[string]any{
		"id":            e.ID,
		"run_id":        e.RunID,
		"namespace":     e.Namespace,
		"definition":    e.Definition,
		"task_queue":    e.TaskQueue,
		"status":        string(e.Status),
		"input":         e.Input,
		"result":        e.Result,
		"error_message": e.ErrorMessage,
		"created_at":    e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    e.UpdatedAt.Format(time.RFC3339Nano),
		"started_at":    optionalTime(e.StartedAt),
		"closed_at":     optionalTime(e.ClosedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: workflow_executions.id") {
			return NewStoreError("CreateExecution", "execution", e.ID, "execution with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: workflow_executions.run_id") {
			return NewStoreError("CreateExecution", "execution", e.RunID, "execution with this run ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateExecution", "execution", e.ID, err.Error(), err)
	}

	return nil
}

func getExecution(ctx context.Context, exec executor, id string) (*domain.WorkflowExecution, error) {
	query := `SELECT * FROM workflow_executions WHERE id = ?`

	var row executionRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetExecution", "execution", id, "execution not found", ErrNotFound)
		}
		return nil, NewStoreError("GetExecution", "execution", id, err.Error(), err)
	}

	return rowToExecution(&row)
}

func updateExecution(ctx context.Context, exec executor, e *domain.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions SET
			status = :status,
			result = :result,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			closed_at = :closed_at
		WHERE id = :id`

	row := map[string]any{
		"id":            e.ID,
		"status":        string(e.Status),
		"result":        e.Result,
		"error_message": e.ErrorMessage,
		"updated_at":    e.UpdatedAt.Format(time.RFC3339Nano),
		"started_at":    optionalTime(e.StartedAt),
		"closed_at":     optionalTime(e.ClosedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateExecution", "execution", e.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateExecution", "execution", e.ID, "execution not found", ErrNotFound)
	}

	return nil
}

func listExecutions(ctx context.Context, exec executor, namespace string, opts ListOptions) ([]domain.WorkflowExecution, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM workflow_executions WHERE namespace = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []executionRow
	err := exec.SelectContext(ctx, &rows, query, namespace, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListExecutions", "execution", "", err.Error(), err)
	}

	return rowsToExecutions(rows)
}

func listOpenExecutions(ctx context.Context, exec executor) ([]domain.WorkflowExecution, error) {
	query := `SELECT * FROM workflow_executions WHERE status IN ('pending', 'running') ORDER BY created_at`

	var rows []executionRow
	err := exec.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, NewStoreError("ListOpenExecutions", "execution", "", err.Error(), err)
	}

	return rowsToExecutions(rows)
}

func appendEvent(ctx context.Context, exec executor, event *history.Event) error {
	tail, err := historyTail(ctx, exec, event.RunID)
	if err != nil {
		return err
	}
	if err := history.ValidateAppend(tail, *event); err != nil {
		return NewStoreError("AppendEvent", "event", event.RunID, err.Error(), err)
	}

	var attributes *string
	if len(event.Attributes) > 0 {
		b, err := json.Marshal(event.Attributes)
		if err != nil {
			return NewStoreError("AppendEvent", "event", event.RunID, "failed to serialize attributes", ErrInvalidData)
		}
		s := string(b)
		attributes = &s
	}

	query := `
		INSERT INTO history_events (
			run_id, event_id, workflow_id, type, step_name, attempt, attributes, timestamp
		) VALUES (
			:run_id, :event_id, :workflow_id, :type, :step_name, :attempt, :attributes, :timestamp
		)`

	row := map[string]any{
		"run_id":      event.RunID,
		"event_id":    event.EventID,
		"workflow_id": event.WorkflowID,
		"type":        string(event.Type),
		"step_name":   event.StepName,
		"attempt":     event.Attempt,
		"attributes":  attributes,
		"timestamp":   event.Timestamp.Format(time.RFC3339Nano),
	}

	// The UNIQUE constraint backstops the validation above: two appenders
	// racing past the same tail cannot both insert the same event ID.
	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: history_events.run_id, history_events.event_id") {
			return NewStoreError("AppendEvent", "event", event.RunID, "event ID already exists for this run", ErrDuplicateEventID)
		}
		return NewStoreError("AppendEvent", "event", event.RunID, err.Error(), err)
	}

	return nil
}

// historyTail loads the last event of a run, which is all ValidateAppend
// needs for the contiguity and closed-history rules. It runs through the
// caller's executor so the check shares the append transaction.
func historyTail(ctx context.Context, exec executor, runID string) ([]history.Event, error) {
	query := `SELECT event_id, type FROM history_events WHERE run_id = ? ORDER BY event_id DESC LIMIT 1`

	var rows []struct {
		EventID int64  `db:"event_id"`
		Type    string `db:"type"`
	}
	if err := exec.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, NewStoreError("AppendEvent", "event", runID, err.Error(), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return []history.Event{{EventID: rows[0].EventID, Type: history.EventType(rows[0].Type)}}, nil
}

func listEvents(ctx context.Context, exec executor, runID string) ([]history.Event, error) {
	query := `SELECT * FROM history_events WHERE run_id = ? ORDER BY event_id`

	var rows []eventRow
	err := exec.SelectContext(ctx, &rows, query, runID)
	if err != nil {
		return nil, NewStoreError("ListEvents", "event", runID, err.Error(), err)
	}

	events := make([]history.Event, 0, len(rows))
	for _, row := range rows {
		event, err := rowToEvent(&row)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	return events, nil
}

func nextEventID(ctx context.Context, exec executor, runID string) (int64, error) {
	query := `SELECT COALESCE(MAX(event_id), 0) + 1 FROM history_events WHERE run_id = ?`

	var next int64
	err := exec.GetContext(ctx, &next, query, runID)
	if err != nil {
		return 0, NewStoreError("NextEventID", "event", runID, err.Error(), err)
	}

	return next, nil
}

func createTask(ctx context.Context, exec executor, task *domain.ActivityTask) error {
	query := `
		INSERT INTO activity_tasks (
			id, namespace, workflow_id, run_id, step_name, activity_type,
			task_queue, task_token, input, attempt, state, error_message,
			scheduled_at, updated_at, leased_at, lease_expires, heartbeat_at
		) VALUES (
			:id, :namespace, :workflow_id, :run_id, :step_name, :activity_type,
			:task_queue, :task_token, :input, :attempt, :state, :error_message,
			:scheduled_at, :updated_at, :leased_at, :lease_expires, :heartbeat_at
		)`

	_, err := exec.NamedExecContext(ctx, query, taskToRow(task))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: activity_tasks.id") {
			return NewStoreError("CreateTask", "task", task.ID, "task with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: activity_tasks.task_token") {
			return NewStoreError("CreateTask", "task", task.ID, "task with this token already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateTask", "task", task.ID, err.Error(), err)
	}

	return nil
}

func getTask(ctx context.Context, exec executor, id string) (*domain.ActivityTask, error) {
	query := `SELECT * FROM activity_tasks WHERE id = ?`

	var row taskRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetTask", "task", id, "task not found", ErrNotFound)
		}
		return nil, NewStoreError("GetTask", "task", id, err.Error(), err)
	}

	return rowToTask(&row)
}

func getTaskByToken(ctx context.Context, exec executor, token string) (*domain.ActivityTask, error) {
	query := `SELECT * FROM activity_tasks WHERE task_token = ?`

	var row taskRow
	err := exec.GetContext(ctx, &row, query, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetTaskByToken", "task", "", "task not found", ErrNotFound)
		}
		return nil, NewStoreError("GetTaskByToken", "task", "", err.Error(), err)
	}

	return rowToTask(&row)
}

func updateTask(ctx context.Context, exec executor, task *domain.ActivityTask) error {
	query := `
		UPDATE activity_tasks SET
			task_token = :task_token,
			attempt = :attempt,
			state = :state,
			error_message = :error_message,
			updated_at = :updated_at,
			leased_at = :leased_at,
			lease_expires = :lease_expires,
			heartbeat_at = :heartbeat_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, taskToRow(task))
	if err != nil {
		return NewStoreError("UpdateTask", "task", task.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateTask", "task", task.ID, "task not found", ErrNotFound)
	}

	return nil
}

func leaseNextTask(ctx context.Context, exec executor, taskQueue string, leaseUntil time.Time) (*domain.ActivityTask, error) {
	query := `SELECT * FROM activity_tasks WHERE task_queue = ? AND state = 'pending' ORDER BY scheduled_at LIMIT 1`

	var row taskRow
	err := exec.GetContext(ctx, &row, query, taskQueue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTask
		}
		return nil, NewStoreError("LeaseNextTask", "task", "", err.Error(), err)
	}

	task, err := rowToTask(&row)
	if err != nil {
		return nil, err
	}

	if err := task.Lease(leaseUntil); err != nil {
		return nil, NewStoreError("LeaseNextTask", "task", task.ID, err.Error(), err)
	}

	if err := updateTask(ctx, exec, task); err != nil {
		return nil, err
	}

	return task, nil
}

func listExpiredLeases(ctx context.Context, exec executor, now time.Time, limit int) ([]domain.ActivityTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM activity_tasks WHERE state = 'leased' AND lease_expires < ? ORDER BY lease_expires LIMIT ?`

	var rows []taskRow
	err := exec.SelectContext(ctx, &rows, query, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, NewStoreError("ListExpiredLeases", "task", "", err.Error(), err)
	}

	return rowsToTasks(rows)
}

func listTasksByRun(ctx context.Context, exec executor, runID string) ([]domain.ActivityTask, error) {
	query := `SELECT * FROM activity_tasks WHERE run_id = ? ORDER BY scheduled_at`

	var rows []taskRow
	err := exec.SelectContext(ctx, &rows, query, runID)
	if err != nil {
		return nil, NewStoreError("ListTasksByRun", "task", runID, err.Error(), err)
	}

	return rowsToTasks(rows)
}

func createTimer(ctx context.Context, exec executor, timer *domain.Timer) error {
	query := `
		INSERT INTO timers (
			id, namespace, workflow_id, run_id, step_name, kind, task_id,
			fire_at, fired, created_at
		) VALUES (
			:id, :namespace, :workflow_id, :run_id, :step_name, :kind, :task_id,
			:fire_at, :fired, :created_at
		)`

	row := map[string]any{
		"id":          timer.ID,
		"namespace":   timer.Namespace,
		"workflow_id": timer.WorkflowID,
		"run_id":      timer.RunID,
		"step_name":   timer.StepName,
		"kind":        string(timer.Kind),
		"task_id":     timer.TaskID,
		"fire_at":     timer.FireAt.Format(time.RFC3339Nano),
		"fired":       timer.Fired,
		"created_at":  timer.CreatedAt.Format(time.RFC3339Nano),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: timers.id") {
			return NewStoreError("CreateTimer", "timer", timer.ID, "timer with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateTimer", "timer", timer.ID, err.Error(), err)
	}

	return nil
}

func listDueTimers(ctx context.Context, exec executor, now time.Time, limit int) ([]domain.Timer, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM timers WHERE fired = 0 AND fire_at <= ? ORDER BY fire_at LIMIT ?`

	var rows []timerRow
	err := exec.SelectContext(ctx, &rows, query, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, NewStoreError("ListDueTimers", "timer", "", err.Error(), err)
	}

	timers := make([]domain.Timer, 0, len(rows))
	for _, row := range rows {
		timer, err := rowToTimer(&row)
		if err != nil {
			return nil, err
		}
		timers = append(timers, *timer)
	}

	return timers, nil
}

func markTimerFired(ctx context.Context, exec executor, id string) error {
	// Guard on fired = 0 so the same timer cannot be fired twice by
	// overlapping worker ticks.
	query := `UPDATE timers SET fired = 1 WHERE id = ? AND fired = 0`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("MarkTimerFired", "timer", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("MarkTimerFired", "timer", id, "timer not found or already fired", ErrNotFound)
	}

	return nil
}

func createStack(ctx context.Context, exec executor, st *domain.Stack) error {
	variablesJSON, err := json.Marshal(st.Variables)
	if err != nil {
		return NewStoreError("CreateStack", "stack", st.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(st.Containers)
	if err != nil {
		return NewStoreError("CreateStack", "stack", st.ID, "failed to serialize containers", ErrInvalidData)
	}

	query := `
		INSERT INTO stacks (
			id, name, spec_yaml, status, variables, containers, error_message,
			created_at, updated_at, launched_at, stopped_at
		) VALUES (
			:id, :name, :spec_yaml, :status, :variables, :containers, :error_message,
			:created_at, :updated_at, :launched_at, :stopped_at
		)`

	row := map[string]any{
		"id":            st.ID,
		"name":          st.Name,
		"spec_yaml":     st.SpecYAML,
		"status":        string(st.Status),
		"variables":     string(variablesJSON),
		"containers":    string(containersJSON),
		"error_message": st.ErrorMessage,
		"created_at":    st.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    st.UpdatedAt.Format(time.RFC3339Nano),
		"launched_at":   optionalTime(st.LaunchedAt),
		"stopped_at":    optionalTime(st.StoppedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: stacks.id") {
			return NewStoreError("CreateStack", "stack", st.ID, "stack with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: stacks.name") {
			return NewStoreError("CreateStack", "stack", st.Name, "stack with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateStack", "stack", st.ID, err.Error(), err)
	}

	return nil
}

func getStack(ctx context.Context, exec executor, id string) (*domain.Stack, error) {
	query := `SELECT * FROM stacks WHERE id = ?`

	var row stackRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetStack", "stack", id, "stack not found", ErrNotFound)
		}
		return nil, NewStoreError("GetStack", "stack", id, err.Error(), err)
	}

	return rowToStack(&row)
}

func getStackByName(ctx context.Context, exec executor, name string) (*domain.Stack, error) {
	query := `SELECT * FROM stacks WHERE name = ?`

	var row stackRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetStackByName", "stack", name, "stack not found", ErrNotFound)
		}
		return nil, NewStoreError("GetStackByName", "stack", name, err.Error(), err)
	}

	return rowToStack(&row)
}

func updateStack(ctx context.Context, exec executor, st *domain.Stack) error {
	variablesJSON, err := json.Marshal(st.Variables)
	if err != nil {
		return NewStoreError("UpdateStack", "stack", st.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(st.Containers)
	if err != nil {
		return NewStoreError("UpdateStack", "stack", st.ID, "failed to serialize containers", ErrInvalidData)
	}

	query := `
		UPDATE stacks SET
			spec_yaml = :spec_yaml,
			status = :status,
			variables = :variables,
			containers = :containers,
			error_message = :error_message,
			updated_at = :updated_at,
			launched_at = :launched_at,
			stopped_at = :stopped_at
		WHERE id = :id`

	row := map[string]any{
		"id":            st.ID,
		"spec_yaml":     st.SpecYAML,
		"status":        string(st.Status),
		"variables":     string(variablesJSON),
		"containers":    string(containersJSON),
		"error_message": st.ErrorMessage,
		"updated_at":    st.UpdatedAt.Format(time.RFC3339Nano),
		"launched_at":   optionalTime(st.LaunchedAt),
		"stopped_at":    optionalTime(st.StoppedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateStack", "stack", st.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateStack", "stack", st.ID, "stack not found", ErrNotFound)
	}

	return nil
}

func deleteStack(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM stacks WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteStack", "stack", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteStack", "stack", id, "stack not found", ErrNotFound)
	}

	return nil
}

func listStacks(ctx context.Context, exec executor, opts ListOptions) ([]domain.Stack, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM stacks ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []stackRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListStacks", "stack", "", err.Error(), err)
	}

	stacks := make([]domain.Stack, 0, len(rows))
	for _, row := range rows {
		st, err := rowToStack(&row)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, *st)
	}

	return stacks, nil
}

// =============================================================================
// Row Conversion Helpers
// =============================================================================

func optionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func rowToNamespace(row *namespaceRow) (*domain.Namespace, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToNamespace", "namespace", row.ID, err.Error(), ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToNamespace", "namespace", row.ID, err.Error(), ErrInvalidData)
	}

	return &domain.Namespace{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description,
		RetentionDays: row.RetentionDays,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func rowToDefinition(row *definitionRow) (*DefinitionRecord, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDefinition", "definition", row.Name, err.Error(), ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDefinition", "definition", row.Name, err.Error(), ErrInvalidData)
	}

	return &DefinitionRecord{
		Namespace: row.Namespace,
		Name:      row.Name,
		Source:    row.Source,
		TaskQueue: row.TaskQueue,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func rowToExecution(row *executionRow) (*domain.WorkflowExecution, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToExecution", "execution", row.ID, err.Error(), ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToExecution", "execution", row.ID, err.Error(), ErrInvalidData)
	}
	startedAt, err := parseOptionalTime(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToExecution", "execution", row.ID, err.Error(), ErrInvalidData)
	}
	closedAt, err := parseOptionalTime(row.ClosedAt)
	if err != nil {
		return nil, NewStoreError("rowToExecution", "execution", row.ID, err.Error(), ErrInvalidData)
	}

	return &domain.WorkflowExecution{
		ID:           row.ID,
		RunID:        row.RunID,
		Namespace:    row.Namespace,
		Definition:   row.Definition,
		TaskQueue:    row.TaskQueue,
		Status:       domain.WorkflowStatus(row.Status),
		Input:        row.Input,
		Result:       row.Result,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		ClosedAt:     closedAt,
	}, nil
}

func rowsToExecutions(rows []executionRow) ([]domain.WorkflowExecution, error) {
	executions := make([]domain.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		e, err := rowToExecution(&row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	return executions, nil
}

func rowToEvent(row *eventRow) (*history.Event, error) {
	timestamp, err := parseTime(row.Timestamp)
	if err != nil {
		return nil, NewStoreError("rowToEvent", "event", row.RunID, err.Error(), ErrInvalidData)
	}

	var attributes map[string]string
	if row.Attributes != nil && *row.Attributes != "" {
		if err := json.Unmarshal([]byte(*row.Attributes), &attributes); err != nil {
			return nil, NewStoreError("rowToEvent", "event", row.RunID, "failed to deserialize attributes", ErrInvalidData)
		}
	}

	return &history.Event{
		EventID:    row.EventID,
		WorkflowID: row.WorkflowID,
		RunID:      row.RunID,
		Type:       history.EventType(row.Type),
		StepName:   row.StepName,
		Attempt:    row.Attempt,
		Attributes: attributes,
		Timestamp:  timestamp,
	}, nil
}

func taskToRow(task *domain.ActivityTask) map[string]any {
	return map[string]any{
		"id":            task.ID,
		"namespace":     task.Namespace,
		"workflow_id":   task.WorkflowID,
		"run_id":        task.RunID,
		"step_name":     task.StepName,
		"activity_type": task.ActivityType,
		"task_queue":    task.TaskQueue,
		"task_token":    task.TaskToken,
		"input":         task.Input,
		"attempt":       task.Attempt,
		"state":         string(task.State),
		"error_message": task.ErrorMessage,
		"scheduled_at":  task.ScheduledAt.Format(time.RFC3339Nano),
		"updated_at":    task.UpdatedAt.Format(time.RFC3339Nano),
		"leased_at":     optionalTime(task.LeasedAt),
		"lease_expires": optionalTime(task.LeaseExpires),
		"heartbeat_at":  optionalTime(task.HeartbeatAt),
	}
}

func rowToTask(row *taskRow) (*domain.ActivityTask, error) {
	scheduledAt, err := parseTime(row.ScheduledAt)
	if err != nil {
		return nil, NewStoreError("rowToTask", "task", row.ID, err.Error(), ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToTask", "task", row.ID, err.Error(), ErrInvalidData)
	}
	leasedAt, err := parseOptionalTime(row.LeasedAt)
	if err != nil {
		return nil, NewStoreError("rowToTask", "task", row.ID, err.Error(), ErrInvalidData)
	}
	leaseExpires, err := parseOptionalTime(row.LeaseExpires)
	if err != nil {
		return nil, NewStoreError("rowToTask", "task", row.ID, err.Error(), ErrInvalidData)
	}
	heartbeatAt, err := parseOptionalTime(row.HeartbeatAt)
	if err != nil {
		return nil, NewStoreError("rowToTask", "task", row.ID, err.Error(), ErrInvalidData)
	}

	return &domain.ActivityTask{
		ID:           row.ID,
		Namespace:    row.Namespace,
		WorkflowID:   row.WorkflowID,
		RunID:        row.RunID,
		StepName:     row.StepName,
		ActivityType: row.ActivityType,
		TaskQueue:    row.TaskQueue,
		TaskToken:    row.TaskToken,
		Input:        row.Input,
		Attempt:      row.Attempt,
		State:        domain.TaskState(row.State),
		ErrorMessage: row.ErrorMessage,
		ScheduledAt:  scheduledAt,
		UpdatedAt:    updatedAt,
		LeasedAt:     leasedAt,
		LeaseExpires: leaseExpires,
		HeartbeatAt:  heartbeatAt,
	}, nil
}

func rowsToTasks(rows []taskRow) ([]domain.ActivityTask, error) {
	tasks := make([]domain.ActivityTask, 0, len(rows))
	for _, row := range rows {
		task, err := rowToTask(&row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func rowToTimer(row *timerRow) (*domain.Timer, error) {
	fireAt, err := parseTime(row.FireAt)
	if err != nil {
		return nil, NewStoreError("rowToTimer", "timer", row.ID, err.Error(), ErrInvalidData)
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToTimer", "timer", row.ID, err.Error(), ErrInvalidData)
	}

	return &domain.Timer{
		ID:         row.ID,
		Namespace:  row.Namespace,
		WorkflowID: row.WorkflowID,
		RunID:      row.RunID,
		StepName:   row.StepName,
		Kind:       domain.TimerKind(row.Kind),
		TaskID:     row.TaskID,
		FireAt:     fireAt,
		Fired:      row.Fired,
		CreatedAt:  createdAt,
	}, nil
}

func rowToStack(row *stackRow) (*domain.Stack, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToStack", "stack", row.ID, err.Error(), ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToStack", "stack", row.ID, err.Error(), ErrInvalidData)
	}
	launchedAt, err := parseOptionalTime(row.LaunchedAt)
	if err != nil {
		return nil, NewStoreError("rowToStack", "stack", row.ID, err.Error(), ErrInvalidData)
	}
	stoppedAt, err := parseOptionalTime(row.StoppedAt)
	if err != nil {
		return nil, NewStoreError("rowToStack", "stack", row.ID, err.Error(), ErrInvalidData)
	}

	var variables map[string]string
	if row.Variables != nil && *row.Variables != "" && *row.Variables != "null" {
		if err := json.Unmarshal([]byte(*row.Variables), &variables); err != nil {
			return nil, NewStoreError("rowToStack", "stack", row.ID, "failed to deserialize variables", ErrInvalidData)
		}
	}

	var containers []domain.ContainerInfo
	if row.Containers != nil && *row.Containers != "" && *row.Containers != "null" {
		if err := json.Unmarshal([]byte(*row.Containers), &containers); err != nil {
			return nil, NewStoreError("rowToStack", "stack", row.ID, "failed to deserialize containers", ErrInvalidData)
		}
	}

	return &domain.Stack{
		ID:           row.ID,
		Name:         row.Name,
		SpecYAML:     row.SpecYAML,
		Status:       domain.StackStatus(row.Status),
		Variables:    variables,
		Containers:   containers,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		LaunchedAt:   launchedAt,
		StoppedAt:    stoppedAt,
	}, nil
}
