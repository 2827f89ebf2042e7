package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/sunflower/pkg/database"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/systems"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
)

const demandRecordsTable = "demand_records"

const uniqueViolation = "23505"

var demandRecordStruct = database.NewStruct(new(models.DemandRecord))

// ErrConcurrentInsert means another writer inserted the same key between our
// lookup and our insert. Callers treat it as a conflict and retry later.
var ErrConcurrentInsert = errors.New("record was inserted concurrently")

// StoreError is a failed upsert. The transaction has been rolled back.
type StoreError struct {
	Key models.RecordKey
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s demand record %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type UpsertResult struct {
	Action models.Action
	Record *models.DemandRecord
}

// DemandRecordRepository stores demand records addressed by their business key.
type DemandRecordRepository struct {
	*Repository
}

func NewDemandRecordRepository(db database.DB, logger ectologger.Logger) *DemandRecordRepository {
	return &DemandRecordRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert inserts the record for key, updates it when payload differs from
// what is stored, or reports a conflict when it is identical. Each call runs
// in its own transaction and holds a row lock on an existing record, so
// concurrent writers of the same key are serialized. system is used only on
// insert; an invalid or unknown system is derived from the region.
func (r *DemandRecordRepository) Upsert(ctx context.Context, key models.RecordKey, payload models.Payload, system models.System) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "DemandRecordRepository.Upsert",
		attribute.String("record.key", key.String()),
	)
	defer span.End()

	if err := key.Validate(); err != nil {
		return nil, err
	}

	var result *UpsertResult
	err := r.DB().RunInTx(ctx, nil, func(ctx context.Context, tx database.Tx) error {
		existing, err := r.lockByKey(ctx, tx, key)
		if err != nil {
			return &StoreError{Key: key, Op: "lookup", Err: err}
		}

		if existing == nil {
			record, err := r.insert(ctx, tx, key, payload, systems.Resolve(system, key.Region))
			if err != nil {
				return &StoreError{Key: key, Op: "insert", Err: err}
			}
			result = &UpsertResult{Action: models.ActionInserted, Record: record}
			return nil
		}

		if existing.Payload().Equal(payload) {
			result = &UpsertResult{Action: models.ActionConflict, Record: existing}
			return nil
		}

		if err := r.update(ctx, tx, existing, payload); err != nil {
			return &StoreError{Key: key, Op: "update", Err: err}
		}
		result = &UpsertResult{Action: models.ActionUpdated, Record: existing}
		return nil
	})
	if err != nil {
		tracing.Fail(span, err, "upsert failed")
		entry := r.logger.WithContext(ctx).WithError(err).WithField("key", key.String())
		if errors.Is(err, ErrConcurrentInsert) {
			entry.Warn("Demand record inserted concurrently")
		} else {
			entry.Error("Failed to upsert demand record")
		}
		var storeErr *StoreError
		if errors.As(err, &storeErr) {
			return nil, storeErr
		}
		return nil, &StoreError{Key: key, Op: "upsert", Err: err}
	}

	span.SetAttributes(attribute.String("record.action", string(result.Action)))
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"record_id": result.Record.ID,
		"key":       key.String(),
		"action":    result.Action,
	}).Debugf("Upserted %s", demandRecordsTable)

	return result, nil
}

func (r *DemandRecordRepository) lockByKey(ctx context.Context, tx database.Tx, key models.RecordKey) (*models.DemandRecord, error) {
	sb := demandRecordStruct.SelectFrom(demandRecordsTable)
	sb.Where(
		sb.Equal("operation_date", key.OperationDate),
		sb.Equal("hour", key.Hour),
		sb.Equal("region", key.Region),
	)
	sb.SQL("FOR UPDATE")

	query, args := sb.Build()
	var record models.DemandRecord
	err := tx.GetContext(ctx, &record, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *DemandRecordRepository) insert(ctx context.Context, tx database.Tx, key models.RecordKey, payload models.Payload, system models.System) (*models.DemandRecord, error) {
	record := &models.DemandRecord{
		OperationDate: key.OperationDate,
		Hour:          key.Hour,
		Region:        key.Region,
		System:        system,
		Demand:        payload.Demand,
		Generation:    payload.Generation,
		Forecast:      payload.Forecast,
		Link:          payload.Link,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(demandRecordsTable).
		Cols("operation_date", "hour", "region", "system", "demand", "generation", "forecast", "link", "created_at", "modified_at").
		Values(record.OperationDate, record.Hour, record.Region, record.System,
			record.Demand, record.Generation, record.Forecast, record.Link,
			database.Now(), database.Now()).
		Returning("id", "created_at", "modified_at")

	query, args := ib.Build()
	err := tx.QueryRowxContext(ctx, query, args...).Scan(&record.ID, &record.CreatedAt, &record.ModifiedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrConcurrentInsert
		}
		return nil, err
	}
	return record, nil
}

func (r *DemandRecordRepository) update(ctx context.Context, tx database.Tx, record *models.DemandRecord, payload models.Payload) error {
	ub := database.NewUpdateBuilder()
	ub.Update(demandRecordsTable).
		Set(
			ub.Assign("demand", payload.Demand),
			ub.Assign("generation", payload.Generation),
			ub.Assign("forecast", payload.Forecast),
			ub.Assign("link", payload.Link),
			ub.Assign("modified_at", database.NextTimestamp("modified_at")),
		).
		Where(ub.Equal("id", record.ID))
	ub.SQL("RETURNING modified_at")

	query, args := ub.Build()
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&record.ModifiedAt); err != nil {
		return err
	}

	record.Demand = payload.Demand
	record.Generation = payload.Generation
	record.Forecast = payload.Forecast
	record.Link = payload.Link
	return nil
}

// GetByKey returns the stored record for key or a 404.
func (r *DemandRecordRepository) GetByKey(ctx context.Context, key models.RecordKey) (*models.DemandRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "DemandRecordRepository.GetByKey")
	defer span.End()

	if err := key.Validate(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sb := demandRecordStruct.SelectFrom(demandRecordsTable)
	sb.Where(
		sb.Equal("operation_date", key.OperationDate),
		sb.Equal("hour", key.Hour),
		sb.Equal("region", key.Region),
	)

	query, args := sb.Build()
	var record models.DemandRecord
	err := r.DB().GetContext(ctx, &record, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("demand record %s does not exist", key)
	}
	if err != nil {
		tracing.Fail(span, err, "lookup failed")
		r.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Error("failed to get demand record by key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get demand record")
	}

	return &record, nil
}
