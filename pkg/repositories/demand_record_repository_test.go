package repositories_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sunflower/pkg/database"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/repositories"
)

const (
	selectForUpdate = `SELECT .+ FROM demand_records WHERE .+ FOR UPDATE`
	insertRecord    = `INSERT INTO demand_records .+ RETURNING id, created_at, modified_at`
	updateRecord    = `UPDATE demand_records SET .+modified_at = GREATEST\(NOW\(\), modified_at \+ INTERVAL '1 microsecond'\).+ RETURNING modified_at`
)

var recordColumns = []string{
	"id", "operation_date", "hour", "region", "system",
	"demand", "generation", "forecast", "link", "created_at", "modified_at",
}

func newTestRepository(t *testing.T) (*repositories.DemandRecordRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	db := database.NewDatabaseInstance(sqlx.NewDb(mockDB, "postgres"), logger)
	return repositories.NewDemandRecordRepository(db, logger), mock
}

func testKey() models.RecordKey {
	return models.NewRecordKey(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), 7, "Baja California")
}

func testPayload() models.Payload {
	return models.Payload{Demand: models.Int64(1500), Generation: models.Int64(1450), Forecast: models.Int64(1400)}
}

func existingRow(key models.RecordKey, p models.Payload, modifiedAt time.Time) *sqlmock.Rows {
	created := modifiedAt.Add(-time.Hour)
	return sqlmock.NewRows(recordColumns).AddRow(
		int64(42), key.OperationDate, key.Hour, key.Region, "BCA",
		*p.Demand, *p.Generation, *p.Forecast, nil, created, modifiedAt,
	)
}

func TestDemandRecordRepository_UpsertInserts(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()
	now := time.Date(2025, 3, 14, 7, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).
		WithArgs(key.OperationDate, key.Hour, key.Region).
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectQuery(insertRecord).
		WithArgs(key.OperationDate, key.Hour, key.Region, models.SystemBCA, int64(1500), int64(1450), int64(1400), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "modified_at"}).AddRow(int64(1), now, now))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), key, testPayload(), models.SystemUnknown)
	require.NoError(t, err)

	assert.Equal(t, models.ActionInserted, result.Action)
	assert.Equal(t, int64(1), result.Record.ID)
	assert.Equal(t, models.SystemBCA, result.Record.System)
	assert.Equal(t, now, result.Record.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertIdenticalIsConflict(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()
	modifiedAt := time.Date(2025, 3, 14, 7, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(existingRow(key, testPayload(), modifiedAt))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), key, testPayload(), models.SystemUnknown)
	require.NoError(t, err)

	assert.Equal(t, models.ActionConflict, result.Action)
	assert.Equal(t, int64(42), result.Record.ID)
	assert.Equal(t, modifiedAt, result.Record.ModifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertChangedUpdates(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()
	modifiedAt := time.Date(2025, 3, 14, 7, 5, 0, 0, time.UTC)
	newModifiedAt := modifiedAt.Add(time.Minute)

	changed := testPayload()
	changed.Link = models.Int64(-20)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(existingRow(key, testPayload(), modifiedAt))
	mock.ExpectQuery(updateRecord).
		WithArgs(int64(1500), int64(1450), int64(1400), int64(-20), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"modified_at"}).AddRow(newModifiedAt))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), key, changed, models.SystemUnknown)
	require.NoError(t, err)

	assert.Equal(t, models.ActionUpdated, result.Action)
	assert.True(t, result.Record.ModifiedAt.After(modifiedAt))
	assert.Equal(t, int64(-20), *result.Record.Link)
	assert.Equal(t, int64(1500), *result.Record.Demand)
	assert.Equal(t, models.SystemBCA, result.Record.System)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertConcurrentInsert(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectQuery(insertRecord).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	result, err := repo.Upsert(context.Background(), key, testPayload(), models.SystemUnknown)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, repositories.ErrConcurrentInsert)

	var storeErr *repositories.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, key, storeErr.Key)
	assert.Equal(t, "insert", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertStoreFailureRollsBack(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()
	changed := testPayload()
	changed.Demand = models.Int64(1600)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(existingRow(key, testPayload(), time.Now()))
	mock.ExpectQuery(updateRecord).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err := repo.Upsert(context.Background(), key, changed, models.SystemUnknown)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repositories.ErrConcurrentInsert)

	var storeErr *repositories.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "update", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertBeginFails(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := repo.Upsert(context.Background(), testKey(), testPayload(), models.SystemUnknown)
	var storeErr *repositories.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "upsert", storeErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertRejectsBadKeyBeforeStore(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()
	key.Hour = 24

	_, err := repo.Upsert(context.Background(), key, testPayload(), models.SystemUnknown)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemandRecordRepository_UpsertKeepsExplicitSystem(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := models.NewRecordKey(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), 3, "Central")
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectQuery(insertRecord).
		WithArgs(key.OperationDate, 3, "Central", models.SystemBCS, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "modified_at"}).AddRow(int64(2), now, now))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), key, testPayload(), models.SystemBCS)
	require.NoError(t, err)
	assert.Equal(t, models.SystemBCS, result.Record.System)
}

func TestDemandRecordRepository_GetByKey(t *testing.T) {
	repo, mock := newTestRepository(t)
	key := testKey()

	mock.ExpectQuery(`SELECT .+ FROM demand_records WHERE`).WillReturnRows(existingRow(key, testPayload(), time.Now()))

	record, err := repo.GetByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.ID)
	assert.Equal(t, key.Region, record.Region)
}

func TestDemandRecordRepository_GetByKeyNotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM demand_records WHERE`).WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.GetByKey(context.Background(), testKey())
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
