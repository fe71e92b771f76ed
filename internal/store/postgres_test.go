package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adoption-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tasks`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM tasks t WHERE t.id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "plan_id", "name", "status", "status_update_source", "status_updated_at", "weight", "created_at"}))

	_, err := s.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var noTime *time.Time

	mock.ExpectQuery(`FROM tasks t WHERE t.plan_id = \$1`).
		WithArgs("plan-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "plan_id", "name", "status", "status_update_source", "status_updated_at", "weight", "created_at"}).
			AddRow("t1", "plan-1", "Enable SSO", "DONE", "manual", noTime, 1.0, created))
	mock.ExpectQuery(`FROM telemetry_attributes a JOIN tasks t`).
		WithArgs("plan-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "task_id", "name", "data_type", "is_required", "is_active", "display_order", "success_criteria", "is_met", "last_checked_at"}).
			AddRow("a1", "t1", "sso", "boolean", true, true, 1, []byte(`{"type":"boolean_flag","expectedValue":true}`), false, noTime))
	mock.ExpectQuery(`SELECT DISTINCT ON \(v.attribute_id\)`).
		WithArgs("plan-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "attribute_id", "value", "source", "notes", "batch_id", "observed_at", "created_at"}).
			AddRow(int64(7), "a1", "true", "telemetry", "", "", noTime, created))
	mock.ExpectQuery(`FROM catalog_items WHERE plan_id = \$1`).
		WithArgs("plan-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "plan_id", "kind", "name", "level", "color", "description", "value", "display_order"}).
			AddRow("c1", "plan-1", "license", "Essential", 1, "", "", "", 0))

	snap, err := s.LoadSnapshot(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, model.TaskStatusDone, snap.Tasks[0].Status)
	require.Len(t, snap.Tasks[0].Attributes, 1)
	assert.NotNil(t, snap.Tasks[0].Attributes[0].Criteria)
	assert.Equal(t, "true", snap.Tasks[0].Attributes[0].Latest().Value)
	require.Len(t, snap.Catalog, 1)
	assert.Equal(t, model.KindLicense, snap.Catalog[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tasks SET status = \$1`).
		WithArgs("DONE", "telemetry", at, "t1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"telemetry_values"}, valueColumns).WillReturnResult(1)
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(tx Tx) error {
		if err := tx.UpdateTaskStatus(context.Background(), "t1", model.TaskStatusDone, model.SourceTelemetry, at); err != nil {
			return err
		}
		_, err := tx.AppendValues(context.Background(), []model.TelemetryValue{{AttributeID: "a1", Value: "true"}})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE telemetry_attributes SET is_met`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.UpdateAttributeEvaluation(context.Background(), "gone", true, time.Now())
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	err := s.InTx(context.Background(), func(Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestPostgresStore_InsertCatalogItem(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO catalog_items`).
		WithArgs(pgxmock.AnyArg(), "plan-1", "tag", "Beta", 0, "#00ff00", "", "", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	item := &model.CatalogItem{PlanID: "plan-1", Kind: model.KindTag, Name: "Beta", Color: "#00ff00"}
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertCatalogItem(context.Background(), item)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
