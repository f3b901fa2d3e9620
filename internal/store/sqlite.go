package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"schedform/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  dinky_task_id INTEGER NOT NULL,
  catalogue_id INTEGER NOT NULL,
  kind TEXT NOT NULL CHECK(kind IN ('create','update','schedule')),
  outcome TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);
CREATE TABLE IF NOT EXISTS nodes (
  dinky_task_id INTEGER PRIMARY KEY,
  catalogue_id INTEGER NOT NULL,
  name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS processes (
  code INTEGER PRIMARY KEY AUTOINCREMENT,
  catalogue_id INTEGER NOT NULL UNIQUE,
  name TEXT NOT NULL,
  release_state TEXT NOT NULL CHECK(release_state IN ('ONLINE','OFFLINE')) DEFAULT 'OFFLINE'
);
CREATE TABLE IF NOT EXISTS tasks (
  code INTEGER PRIMARY KEY AUTOINCREMENT,
  dinky_task_id INTEGER NOT NULL UNIQUE,
  process_code INTEGER NOT NULL,
  body TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  FOREIGN KEY(process_code) REFERENCES processes(code)
);
CREATE INDEX IF NOT EXISTS idx_tasks_process ON tasks(process_code);
CREATE TABLE IF NOT EXISTS schedules (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  catalogue_id INTEGER NOT NULL UNIQUE,
  body TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS instances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  catalogue_id INTEGER NOT NULL,
  body TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_catalogue ON instances(catalogue_id, id DESC);
`
	_, err := db.Exec(schema)
	return err
}

// StoredTask is a task definition plus the editor task id it belongs to.
type StoredTask struct {
	DinkyTaskID int
	Def         domain.TaskDefinition
}

type Repository interface {
	// Submission journal
	RecordSubmission(ctx context.Context, s domain.Submission) (string, error)
	ListSubmissions(ctx context.Context, limit int) ([]domain.Submission, error)

	// Sandbox records
	RegisterNode(ctx context.Context, dinkyTaskID, catalogueID int, name string) error
	GetNode(ctx context.Context, dinkyTaskID int) (catalogueID int, name string, err error)
	EnsureProcess(ctx context.Context, catalogueID int, name string) (domain.ProcessSummary, error)
	GetProcess(ctx context.Context, catalogueID int) (domain.ProcessSummary, error)
	GetProcessByCode(ctx context.Context, code int64) (domain.ProcessSummary, int, error)
	ListProcesses(ctx context.Context) ([]domain.ProcessSummary, error)
	SetReleaseState(ctx context.Context, catalogueID int, state domain.ReleaseState) error
	CreateTask(ctx context.Context, dinkyTaskID int, def domain.TaskDefinition) (int64, error)
	UpdateTask(ctx context.Context, def domain.TaskDefinition) error
	GetTaskByDinkyID(ctx context.Context, dinkyTaskID int) (domain.TaskDefinition, error)
	GetTaskByCode(ctx context.Context, code int64) (StoredTask, error)
	ListProcessTasks(ctx context.Context, processCode int64) ([]StoredTask, error)
	PutSchedule(ctx context.Context, catalogueID int, s domain.Schedule) (int, error)
	GetSchedule(ctx context.Context, catalogueID int) (domain.Schedule, error)
	AddInstance(ctx context.Context, catalogueID int, inst domain.ProcessInstance) (int, error)
	ListInstances(ctx context.Context, catalogueID, offset, limit int) ([]domain.ProcessInstance, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *sqliteRepo) RecordSubmission(ctx context.Context, s domain.Submission) (string, error) {
	id := s.ID
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO submissions (id,dinky_task_id,catalogue_id,kind,outcome,message,created_at)
VALUES (?,?,?,?,?,?,?)
`, id, s.DinkyTaskID, s.CatalogueID, string(s.Kind), s.Outcome, s.Message, s.CreatedAt.UnixMilli())
	return id, err
}

func (r *sqliteRepo) ListSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,dinky_task_id,catalogue_id,kind,outcome,message,created_at
FROM submissions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var kind string
		var created int64
		if err := rows.Scan(&s.ID, &s.DinkyTaskID, &s.CatalogueID, &kind, &s.Outcome, &s.Message, &created); err != nil {
			return nil, err
		}
		s.Kind = domain.SubmissionKind(kind)
		s.CreatedAt = time.UnixMilli(created)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) RegisterNode(ctx context.Context, dinkyTaskID, catalogueID int, name string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO nodes (dinky_task_id,catalogue_id,name) VALUES (?,?,?)
ON CONFLICT(dinky_task_id) DO UPDATE SET catalogue_id=excluded.catalogue_id, name=excluded.name`,
		dinkyTaskID, catalogueID, name)
	return err
}

func (r *sqliteRepo) GetNode(ctx context.Context, dinkyTaskID int) (int, string, error) {
	var cat int
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT catalogue_id,name FROM nodes WHERE dinky_task_id=?`, dinkyTaskID).Scan(&cat, &name)
	return cat, name, notFound(err)
}

func (r *sqliteRepo) EnsureProcess(ctx context.Context, catalogueID int, name string) (domain.ProcessSummary, error) {
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO processes (catalogue_id,name,release_state) VALUES (?,?,'OFFLINE')
ON CONFLICT(catalogue_id) DO NOTHING`, catalogueID, name); err != nil {
		return domain.ProcessSummary{}, err
	}
	return r.GetProcess(ctx, catalogueID)
}

func (r *sqliteRepo) GetProcess(ctx context.Context, catalogueID int) (domain.ProcessSummary, error) {
	var p domain.ProcessSummary
	var state string
	err := r.db.QueryRowContext(ctx, `SELECT code,name,release_state FROM processes WHERE catalogue_id=?`, catalogueID).Scan(&p.Code, &p.Name, &state)
	p.ReleaseState = domain.ReleaseState(state)
	return p, notFound(err)
}

func (r *sqliteRepo) GetProcessByCode(ctx context.Context, code int64) (domain.ProcessSummary, int, error) {
	var p domain.ProcessSummary
	var state string
	var cat int
	err := r.db.QueryRowContext(ctx, `SELECT code,name,release_state,catalogue_id FROM processes WHERE code=?`, code).Scan(&p.Code, &p.Name, &state, &cat)
	p.ReleaseState = domain.ReleaseState(state)
	return p, cat, notFound(err)
}

func (r *sqliteRepo) ListProcesses(ctx context.Context) ([]domain.ProcessSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code,name,release_state FROM processes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessSummary
	for rows.Next() {
		var p domain.ProcessSummary
		var state string
		if err := rows.Scan(&p.Code, &p.Name, &state); err != nil {
			return nil, err
		}
		p.ReleaseState = domain.ReleaseState(state)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) SetReleaseState(ctx context.Context, catalogueID int, state domain.ReleaseState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE processes SET release_state=? WHERE catalogue_id=?`, string(state), catalogueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTask stores def under a freshly assigned task code and returns it.
func (r *sqliteRepo) CreateTask(ctx context.Context, dinkyTaskID int, def domain.TaskDefinition) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tasks (dinky_task_id,process_code,body,updated_at) VALUES (?,?,'{}',?)`,
		dinkyTaskID, def.ProcessDefinitionCode, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	code, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	def.Code = code
	body, err := json.Marshal(def)
	if err != nil {
		return 0, fmt.Errorf("encode task: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE tasks SET body=? WHERE code=?`, string(body), code); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return code, nil
}

func (r *sqliteRepo) UpdateTask(ctx context.Context, def domain.TaskDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET body=?,updated_at=? WHERE code=?`, string(body), time.Now().UnixMilli(), def.Code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) GetTaskByDinkyID(ctx context.Context, dinkyTaskID int) (domain.TaskDefinition, error) {
	var body string
	if err := r.db.QueryRowContext(ctx, `SELECT body FROM tasks WHERE dinky_task_id=?`, dinkyTaskID).Scan(&body); err != nil {
		return domain.TaskDefinition{}, notFound(err)
	}
	var def domain.TaskDefinition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return domain.TaskDefinition{}, fmt.Errorf("decode task: %w", err)
	}
	return def, nil
}

func (r *sqliteRepo) GetTaskByCode(ctx context.Context, code int64) (StoredTask, error) {
	var st StoredTask
	var body string
	if err := r.db.QueryRowContext(ctx, `SELECT dinky_task_id,body FROM tasks WHERE code=?`, code).Scan(&st.DinkyTaskID, &body); err != nil {
		return StoredTask{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(body), &st.Def); err != nil {
		return StoredTask{}, fmt.Errorf("decode task: %w", err)
	}
	return st, nil
}

func (r *sqliteRepo) ListProcessTasks(ctx context.Context, processCode int64) ([]StoredTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT dinky_task_id,body FROM tasks WHERE process_code=? ORDER BY code`, processCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredTask
	for rows.Next() {
		var st StoredTask
		var body string
		if err := rows.Scan(&st.DinkyTaskID, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &st.Def); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PutSchedule inserts the catalogue's schedule or replaces it, and returns
// its id.
func (r *sqliteRepo) PutSchedule(ctx context.Context, catalogueID int, s domain.Schedule) (int, error) {
	now := time.Now().UnixMilli()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM schedules WHERE catalogue_id=?`, catalogueID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO schedules (catalogue_id,body,updated_at) VALUES (?,'{}',?)`, catalogueID, now)
		if err != nil {
			return 0, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	}

	s.ID = int(id)
	body, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("encode schedule: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE schedules SET body=?,updated_at=? WHERE id=?`, string(body), now, id); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(id), nil
}

func (r *sqliteRepo) GetSchedule(ctx context.Context, catalogueID int) (domain.Schedule, error) {
	var body string
	if err := r.db.QueryRowContext(ctx, `SELECT body FROM schedules WHERE catalogue_id=?`, catalogueID).Scan(&body); err != nil {
		return domain.Schedule{}, notFound(err)
	}
	var s domain.Schedule
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return domain.Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	return s, nil
}

func (r *sqliteRepo) AddInstance(ctx context.Context, catalogueID int, inst domain.ProcessInstance) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO instances (catalogue_id,body,created_at) VALUES (?,'{}',?)`, catalogueID, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	inst.ID = int(id)
	body, err := json.Marshal(inst)
	if err != nil {
		return 0, fmt.Errorf("encode instance: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE instances SET body=? WHERE id=?`, string(body), id); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(id), nil
}

func (r *sqliteRepo) ListInstances(ctx context.Context, catalogueID, offset, limit int) ([]domain.ProcessInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT body FROM instances WHERE catalogue_id=? ORDER BY id DESC LIMIT ? OFFSET ?`, catalogueID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessInstance
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var inst domain.ProcessInstance
		if err := json.Unmarshal([]byte(body), &inst); err != nil {
			return nil, fmt.Errorf("decode instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
