package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/db"
	"github.com/sells-group/adoption-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	plan_id              TEXT NOT NULL,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'NOT_STARTED',
	status_update_source TEXT NOT NULL DEFAULT 'manual',
	status_updated_at    TIMESTAMPTZ,
	weight               DOUBLE PRECISION NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS telemetry_attributes (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	name             TEXT NOT NULL,
	data_type        TEXT NOT NULL,
	is_required      BOOLEAN NOT NULL DEFAULT false,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	display_order    INTEGER NOT NULL DEFAULT 0,
	success_criteria JSONB,
	is_met           BOOLEAN NOT NULL DEFAULT false,
	last_checked_at  TIMESTAMPTZ,
	UNIQUE (task_id, name)
);

CREATE TABLE IF NOT EXISTS telemetry_values (
	id           BIGSERIAL PRIMARY KEY,
	attribute_id TEXT NOT NULL REFERENCES telemetry_attributes(id) ON DELETE CASCADE,
	value        TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT 'telemetry',
	notes        TEXT NOT NULL DEFAULT '',
	batch_id     TEXT NOT NULL DEFAULT '',
	observed_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS catalog_items (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
CREATE INDEX IF NOT EXISTS idx_telemetry_values_latest ON telemetry_values(attribute_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_catalog_items_plan_kind ON catalog_items(plan_id, kind);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit tx")
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.Task) error {
	return createTask(ctx, s, task)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, planID string) (*model.Snapshot, error) {
	tasks, err := pgListTasks(ctx, s.pool, "t.plan_id", planID)
	if err != nil {
		return nil, err
	}
	catalog, err := pgListCatalog(ctx, s.pool, planID)
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{PlanID: planID, Tasks: tasks, Catalog: catalog}, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, planID string) ([]model.Task, error) {
	return pgListTasks(ctx, s.pool, "t.plan_id", planID)
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return pgGetTask(ctx, s.pool, taskID)
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	q db.Querier
}

func (t *pgTx) InsertTask(ctx context.Context, task *model.Task) error {
	fillTaskDefaults(task)
	_, err := t.q.Exec(ctx,
		`INSERT INTO tasks (id, plan_id, name, status, status_update_source, status_updated_at, weight, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.PlanID, task.Name, string(task.Status), task.StatusUpdateSource, task.StatusUpdatedAt, task.Weight, task.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert task %s", task.Name)
}

func (t *pgTx) InsertCatalogItem(ctx context.Context, item *model.CatalogItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO catalog_items (id, plan_id, kind, name, level, color, description, value, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.PlanID, string(item.Kind), item.Name, item.Level, item.Color, item.Description, item.Value, item.DisplayOrder,
	)
	return eris.Wrapf(err, "postgres: insert %s %s", item.Kind, item.Name)
}

func (t *pgTx) UpdateCatalogItem(ctx context.Context, item *model.CatalogItem) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE catalog_items SET name = $1, level = $2, color = $3, description = $4, value = $5, display_order = $6
		 WHERE id = $7`,
		item.Name, item.Level, item.Color, item.Description, item.Value, item.DisplayOrder, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %s", item.Kind, item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", item.Kind, item.ID)
	}
	return nil
}

func (t *pgTx) InsertAttribute(ctx context.Context, attr *model.TelemetryAttribute) error {
	if attr.ID == "" {
		attr.ID = uuid.New().String()
	}
	raw, err := encodeCriteria(attr.Criteria)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO telemetry_attributes (id, task_id, name, data_type, is_required, is_active, display_order, success_criteria, is_met, last_checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attr.ID, attr.TaskID, attr.Name, string(attr.DataType), attr.IsRequired, attr.IsActive, attr.Order, raw, attr.IsMet, attr.LastCheckedAt,
	)
	return eris.Wrapf(err, "postgres: insert attribute %s", attr.Name)
}

func (t *pgTx) UpdateAttribute(ctx context.Context, attr *model.TelemetryAttribute) error {
	raw, err := encodeCriteria(attr.Criteria)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE telemetry_attributes SET data_type = $1, is_required = $2, is_active = $3, display_order = $4, success_criteria = $5
		 WHERE id = $6`,
		string(attr.DataType), attr.IsRequired, attr.IsActive, attr.Order, raw, attr.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update attribute %s", attr.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "attribute %s", attr.ID)
	}
	return nil
}

var valueColumns = []string{"attribute_id", "value", "source", "notes", "batch_id", "observed_at", "created_at"}

// AppendValues bulk-inserts values with COPY. IDs are assigned by the
// database and are not read back.
func (t *pgTx) AppendValues(ctx context.Context, values []model.TelemetryValue) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(values))
	for i := range values {
		v := &values[i]
		fillValueDefaults(v, now)
		rows = append(rows, []any{v.AttributeID, v.Value, v.Source, v.Notes, v.BatchID, v.ObservedAt, v.CreatedAt})
	}
	return db.CopyFrom(ctx, t.q, "telemetry_values", valueColumns, rows)
}

func (t *pgTx) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return pgGetTask(ctx, t.q, taskID)
}

func (t *pgTx) TaskAttributes(ctx context.Context, taskID string) ([]model.TelemetryAttribute, error) {
	return pgListAttributes(ctx, t.q, "a.task_id", taskID)
}

func (t *pgTx) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus, source string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE tasks SET status = $1, status_update_source = $2, status_updated_at = $3 WHERE id = $4`,
		string(status), source, at, taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task status %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	return nil
}

func (t *pgTx) UpdateAttributeEvaluation(ctx context.Context, attributeID string, met bool, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE telemetry_attributes SET is_met = $1, last_checked_at = $2 WHERE id = $3`,
		met, at, attributeID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update attribute evaluation %s", attributeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "attribute %s", attributeID)
	}
	return nil
}

// --- shared read queries; q may be the pool or a transaction ---

const pgTaskSelect = `SELECT t.id, t.plan_id, t.name, t.status, t.status_update_source, t.status_updated_at, t.weight, t.created_at FROM tasks t`

const pgAttributeSelect = `SELECT a.id, a.task_id, a.name, a.data_type, a.is_required, a.is_active, a.display_order, a.success_criteria, a.is_met, a.last_checked_at
	FROM telemetry_attributes a JOIN tasks t ON t.id = a.task_id`

const pgLatestValueSelect = `SELECT DISTINCT ON (v.attribute_id) v.id, v.attribute_id, v.value, v.source, v.notes, v.batch_id, v.observed_at, v.created_at
	FROM telemetry_values v JOIN telemetry_attributes a ON a.id = v.attribute_id JOIN tasks t ON t.id = a.task_id`

func pgGetTask(ctx context.Context, q db.Querier, taskID string) (*model.Task, error) {
	tasks, err := pgListTasks(ctx, q, "t.id", taskID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "task %s", taskID)
	}
	return &tasks[0], nil
}

// pgListTasks loads tasks matching "<col> = $1" with their attributes and
// latest values.
func pgListTasks(ctx context.Context, q db.Querier, col, arg string) ([]model.Task, error) {
	rows, err := q.Query(ctx, pgTaskSelect+` WHERE `+col+` = $1 ORDER BY t.created_at, t.name`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var status string
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Name, &status, &t.StatusUpdateSource, &t.StatusUpdatedAt, &t.Weight, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Status = model.TaskStatus(status)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks iterate")
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	attrs, err := pgListAttributes(ctx, q, col, arg)
	if err != nil {
		return nil, err
	}
	values, err := pgLatestValues(ctx, q, col, arg)
	if err != nil {
		return nil, err
	}
	return assemble(tasks, attrs, values), nil
}

func pgListAttributes(ctx context.Context, q db.Querier, col, arg string) ([]model.TelemetryAttribute, error) {
	rows, err := q.Query(ctx, pgAttributeSelect+` WHERE `+col+` = $1 ORDER BY a.display_order, a.name`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attributes")
	}
	defer rows.Close()

	var attrs []model.TelemetryAttribute
	for rows.Next() {
		var a model.TelemetryAttribute
		var dataType string
		var raw []byte
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &dataType, &a.IsRequired, &a.IsActive, &a.Order, &raw, &a.IsMet, &a.LastCheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attribute")
		}
		a.DataType = model.DataType(dataType)
		if a.Criteria, err = decodeCriteria(a.ID, raw); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, eris.Wrap(rows.Err(), "postgres: list attributes iterate")
}

func pgLatestValues(ctx context.Context, q db.Querier, col, arg string) ([]model.TelemetryValue, error) {
	rows, err := q.Query(ctx, pgLatestValueSelect+` WHERE `+col+` = $1 ORDER BY v.attribute_id, v.created_at DESC, v.id DESC`, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest values")
	}
	defer rows.Close()

	var values []model.TelemetryValue
	for rows.Next() {
		var v model.TelemetryValue
		if err := rows.Scan(&v.ID, &v.AttributeID, &v.Value, &v.Source, &v.Notes, &v.BatchID, &v.ObservedAt, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "postgres: latest values iterate")
}

func pgListCatalog(ctx context.Context, q db.Querier, planID string) ([]model.CatalogItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, plan_id, kind, name, level, color, description, value, display_order
		 FROM catalog_items WHERE plan_id = $1 ORDER BY kind, display_order, name`,
		planID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog")
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		var c model.CatalogItem
		var kind string
		if err := rows.Scan(&c.ID, &c.PlanID, &kind, &c.Name, &c.Level, &c.Color, &c.Description, &c.Value, &c.DisplayOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog item")
		}
		c.Kind = model.EntityKind(kind)
		items = append(items, c)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list catalog iterate")
}
