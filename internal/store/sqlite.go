package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/adoption-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so pragmas and transactions share it.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id                   TEXT PRIMARY KEY,
	plan_id              TEXT NOT NULL,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'NOT_STARTED',
	status_update_source TEXT NOT NULL DEFAULT 'manual',
	status_updated_at    DATETIME,
	weight               REAL NOT NULL DEFAULT 1,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS telemetry_attributes (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	name             TEXT NOT NULL,
	data_type        TEXT NOT NULL,
	is_required      BOOLEAN NOT NULL DEFAULT 0,
	is_active        BOOLEAN NOT NULL DEFAULT 1,
	display_order    INTEGER NOT NULL DEFAULT 0,
	success_criteria TEXT,
	is_met           BOOLEAN NOT NULL DEFAULT 0,
	last_checked_at  DATETIME,
	UNIQUE (task_id, name)
);

CREATE TABLE IF NOT EXISTS telemetry_values (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	attribute_id TEXT NOT NULL REFERENCES telemetry_attributes(id) ON DELETE CASCADE,
	value        TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT 'telemetry',
	notes        TEXT NOT NULL DEFAULT '',
	batch_id     TEXT NOT NULL DEFAULT '',
	observed_at  DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS catalog_items (
	id            TEXT PRIMARY KEY,
	plan_id       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	level         INTEGER NOT NULL DEFAULT 0,
	color         TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	value         TEXT NOT NULL DEFAULT '',
	display_order INTEGER NOT NULL DEFAULT 0,
	UNIQUE (plan_id, kind, name)
);

CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks(plan_id);
CREATE INDEX IF NOT EXISTS idx_telemetry_attributes_task_id ON telemetry_attributes(task_id);
CREATE INDEX IF NOT EXISTS idx_telemetry_values_attribute ON telemetry_values(attribute_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_catalog_items_plan_kind ON catalog_items(plan_id, kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit tx")
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	return createTask(ctx, s, task)
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, planID string) (*model.Snapshot, error) {
	tasks, err := sqliteListTasks(ctx, s.db, "t.plan_id", planID)
	if err != nil {
		return nil, err
	}
	catalog, err := sqliteListCatalog(ctx, s.db, planID)
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{PlanID: planID, Tasks: tasks, Catalog: catalog}, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, planID string) ([]model.Task, error) {
	return sqliteListTasks(ctx, s.db, "t.plan_id", planID)
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return sqliteGetTask(ctx, s.db, taskID)
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) InsertTask(ctx context.Context, task *model.Task) error {
	fillTaskDefaults(task)
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO tasks (id, plan_id, name, status, status_update_source, status_updated_at, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.PlanID, task.Name, string(task.Status), task.StatusUpdateSource, task.StatusUpdatedAt, task.Weight, task.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert task %s", task.Name)
}

func (t *sqliteTx) InsertCatalogItem(ctx context.Context, item *model.CatalogItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO catalog_items (id, plan_id, kind, name, level, color, description, value, display_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PlanID, string(item.Kind), item.Name, item.Level, item.Color, item.Description, item.Value, item.DisplayOrder,
	)
	return eris.Wrapf(err, "sqlite: insert %s %s", item.Kind, item.Name)
}

func (t *sqliteTx) UpdateCatalogItem(ctx context.Context, item *model.CatalogItem) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE catalog_items SET name = ?, level = ?, color = ?, description = ?, value = ?, display_order = ?
		 WHERE id = ?`,
		item.Name, item.Level, item.Color, item.Description, item.Value, item.DisplayOrder, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %s", item.Kind, item.ID)
	}
	return checkRowsAffected(res, string(item.Kind), item.ID)
}

func (t *sqliteTx) InsertAttribute(ctx context.Context, attr *model.TelemetryAttribute) error {
	if attr.ID == "" {
		attr.ID = uuid.New().String()
	}
	raw, err := encodeCriteria(attr.Criteria)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO telemetry_attributes (id, task_id, name, data_type, is_required, is_active, display_order, success_criteria, is_met, last_checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attr.ID, attr.TaskID, attr.Name, string(attr.DataType), attr.IsRequired, attr.IsActive, attr.Order, textOrNull(raw), attr.IsMet, attr.LastCheckedAt,
	)
	return eris.Wrapf(err, "sqlite: insert attribute %s", attr.Name)
}

func (t *sqliteTx) UpdateAttribute(ctx context.Context, attr *model.TelemetryAttribute) error {
	raw, err := encodeCriteria(attr.Criteria)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE telemetry_attributes SET data_type = ?, is_required = ?, is_active = ?, display_order = ?, success_criteria = ?
		 WHERE id = ?`,
		string(attr.DataType), attr.IsRequired, attr.IsActive, attr.Order, textOrNull(raw), attr.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update attribute %s", attr.ID)
	}
	return checkRowsAffected(res, "attribute", attr.ID)
}

// AppendValues inserts values one statement at a time and records the
// assigned IDs on the slice.
func (t *sqliteTx) AppendValues(ctx context.Context, values []model.TelemetryValue) (int64, error) {
	now := time.Now().UTC()
	var n int64
	for i := range values {
		v := &values[i]
		fillValueDefaults(v, now)
		res, err := t.q.ExecContext(ctx,
			`INSERT INTO telemetry_values (attribute_id, value, source, notes, batch_id, observed_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.AttributeID, v.Value, v.Source, v.Notes, v.BatchID, v.ObservedAt, v.CreatedAt,
		)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: insert value for attribute %s", v.AttributeID)
		}
		if id, err := res.LastInsertId(); err == nil {
			v.ID = id
		}
		n++
	}
	return n, nil
}

func (t *sqliteTx) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return sqliteGetTask(ctx, t.q, taskID)
}

func (t *sqliteTx) TaskAttributes(ctx context.Context, taskID string) ([]model.TelemetryAttribute, error) {
	return sqliteListAttributes(ctx, t.q, "a.task_id", taskID)
}

func (t *sqliteTx) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus, source string, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, status_update_source = ?, status_updated_at = ? WHERE id = ?`,
		string(status), source, at, taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task status %s", taskID)
	}
	return checkRowsAffected(res, "task", taskID)
}

func (t *sqliteTx) UpdateAttributeEvaluation(ctx context.Context, attributeID string, met bool, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE telemetry_attributes SET is_met = ?, last_checked_at = ? WHERE id = ?`,
		met, at, attributeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update attribute evaluation %s", attributeID)
	}
	return checkRowsAffected(res, "attribute", attributeID)
}

// --- reads ---

const sqliteTaskSelect = `SELECT t.id, t.plan_id, t.name, t.status, t.status_update_source, t.status_updated_at, t.weight, t.created_at FROM tasks t`

const sqliteAttributeSelect = `SELECT a.id, a.task_id, a.name, a.data_type, a.is_required, a.is_active, a.display_order, a.success_criteria, a.is_met, a.last_checked_at
	FROM telemetry_attributes a JOIN tasks t ON t.id = a.task_id`

const sqliteLatestValueSelect = `SELECT v.id, v.attribute_id, v.value, v.source, v.notes, v.batch_id, v.observed_at, v.created_at
	FROM telemetry_values v JOIN telemetry_attributes a ON a.id = v.attribute_id JOIN tasks t ON t.id = a.task_id`

const sqliteLatestOnly = ` AND v.id = (
	SELECT v2.id FROM telemetry_values v2 WHERE v2.attribute_id = v.attribute_id
	ORDER BY v2.created_at DESC, v2.id DESC LIMIT 1)`

func sqliteGetTask(ctx context.Context, q sqlQuerier, taskID string) (*model.Task, error) {
	tasks, err := sqliteListTasks(ctx, q, "t.id", taskID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	return &tasks[0], nil
}

func sqliteListTasks(ctx context.Context, q sqlQuerier, col, arg string) ([]model.Task, error) {
	rows, err := q.QueryContext(ctx, sqliteTaskSelect+` WHERE `+col+` = ? ORDER BY t.created_at, t.name`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var status string
		var updatedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Name, &status, &t.StatusUpdateSource, &updatedAt, &t.Weight, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Status = model.TaskStatus(status)
		t.StatusUpdatedAt = timePtr(updatedAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks iterate")
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	attrs, err := sqliteListAttributes(ctx, q, col, arg)
	if err != nil {
		return nil, err
	}
	values, err := sqliteLatestValues(ctx, q, col, arg)
	if err != nil {
		return nil, err
	}
	return assemble(tasks, attrs, values), nil
}

func sqliteListAttributes(ctx context.Context, q sqlQuerier, col, arg string) ([]model.TelemetryAttribute, error) {
	rows, err := q.QueryContext(ctx, sqliteAttributeSelect+` WHERE `+col+` = ? ORDER BY a.display_order, a.name`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attributes")
	}
	defer rows.Close() //nolint:errcheck

	var attrs []model.TelemetryAttribute
	for rows.Next() {
		var a model.TelemetryAttribute
		var dataType string
		var raw sql.NullString
		var checkedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &dataType, &a.IsRequired, &a.IsActive, &a.Order, &raw, &a.IsMet, &checkedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attribute")
		}
		a.DataType = model.DataType(dataType)
		a.LastCheckedAt = timePtr(checkedAt)
		if raw.Valid {
			if a.Criteria, err = decodeCriteria(a.ID, []byte(raw.String)); err != nil {
				return nil, err
			}
		}
		attrs = append(attrs, a)
	}
	return attrs, eris.Wrap(rows.Err(), "sqlite: list attributes iterate")
}

func sqliteLatestValues(ctx context.Context, q sqlQuerier, col, arg string) ([]model.TelemetryValue, error) {
	rows, err := q.QueryContext(ctx, sqliteLatestValueSelect+` WHERE `+col+` = ?`+sqliteLatestOnly, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest values")
	}
	defer rows.Close() //nolint:errcheck

	var values []model.TelemetryValue
	for rows.Next() {
		var v model.TelemetryValue
		var observedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.AttributeID, &v.Value, &v.Source, &v.Notes, &v.BatchID, &observedAt, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan value")
		}
		v.ObservedAt = timePtr(observedAt)
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "sqlite: latest values iterate")
}

func sqliteListCatalog(ctx context.Context, q sqlQuerier, planID string) ([]model.CatalogItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, plan_id, kind, name, level, color, description, value, display_order
		 FROM catalog_items WHERE plan_id = ? ORDER BY kind, display_order, name`,
		planID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.CatalogItem
	for rows.Next() {
		var c model.CatalogItem
		var kind string
		if err := rows.Scan(&c.ID, &c.PlanID, &kind, &c.Name, &c.Level, &c.Color, &c.Description, &c.Value, &c.DisplayOrder); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog item")
		}
		c.Kind = model.EntityKind(kind)
		items = append(items, c)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list catalog iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func textOrNull(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
