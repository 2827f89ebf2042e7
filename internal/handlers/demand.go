package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sunflower/pkg/ingestion"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/repositories"
	"github.com/Ramsey-B/sunflower/pkg/utils"
)

const (
	SourceSink = "sink"

	// MaxBatchSize caps the items accepted by POST /demand/batch.
	MaxBatchSize = 100
)

// RecordStore is satisfied by *ingestion.Recorder.
type RecordStore interface {
	Record(ctx context.Context, source string, key models.RecordKey, payload models.Payload, system models.System) (*ingestion.Outcome, error)
}

// RecordGetter is satisfied by *repositories.DemandRecordRepository.
type RecordGetter interface {
	GetByKey(ctx context.Context, key models.RecordKey) (*models.DemandRecord, error)
}

type DemandHandler struct {
	store  RecordStore
	getter RecordGetter
	logger ectologger.Logger
}

func NewDemandHandler(store RecordStore, getter RecordGetter, logger ectologger.Logger) *DemandHandler {
	return &DemandHandler{
		store:  store,
		getter: getter,
		logger: logger,
	}
}

// IngestRequest is one hourly reading pushed to the sink.
type IngestRequest struct {
	FechaOperacion string `json:"FechaOperacion" validate:"required"`
	Hora           *int   `json:"Hora" validate:"required,min=0,max=23"`
	Gerencia       string `json:"Gerencia" validate:"required"`
	Demanda        *int64 `json:"Demanda,omitempty"`
	Generacion     *int64 `json:"Generacion,omitempty"`
	Pronostico     *int64 `json:"Pronostico,omitempty"`
	Enlace         *int64 `json:"Enlace,omitempty"`
	Sistema        string `json:"Sistema,omitempty" validate:"omitempty,oneof=BCA BCS SIN UNK"`
}

// Key parses the business key. Errors wrap models.ErrValidation.
func (r IngestRequest) Key() (models.RecordKey, error) {
	date, err := time.Parse(models.OperationDateLayout, strings.TrimSpace(r.FechaOperacion))
	if err != nil {
		return models.RecordKey{}, fmt.Errorf("%w: FechaOperacion %q is not a YYYY-MM-DD date", models.ErrValidation, r.FechaOperacion)
	}
	if r.Hora == nil {
		return models.RecordKey{}, fmt.Errorf("%w: Hora is required", models.ErrValidation)
	}

	key := models.NewRecordKey(date, *r.Hora, r.Gerencia)
	return key, key.Validate()
}

func (r IngestRequest) Payload() models.Payload {
	return models.Payload{Demand: r.Demanda, Generation: r.Generacion, Forecast: r.Pronostico, Link: r.Enlace}
}

// System is the requested label; omitted or empty means derive it from the region.
func (r IngestRequest) System() models.System {
	if r.Sistema == "" {
		return models.SystemUnknown
	}
	return models.System(r.Sistema)
}

type IngestResponse struct {
	Action  models.Action        `json:"action,omitempty"`
	Message string               `json:"message,omitempty"`
	Record  *models.DemandRecord `json:"record,omitempty"`
}

type BatchItemResult struct {
	Index  int `json:"index"`
	Status int `json:"status"`
	IngestResponse
}

type BatchResponse struct {
	Results  []BatchItemResult `json:"results"`
	Inserted int               `json:"inserted"`
	Updated  int               `json:"updated"`
	Conflict int               `json:"conflict"`
	Failed   int               `json:"failed"`
}

func (h *DemandHandler) RegisterRoutes(g *echo.Group) {
	demand := g.Group("/demand")
	demand.POST("", h.Ingest)
	demand.POST("/batch", h.IngestBatch)
	demand.GET("/:date/:hour/:region", h.Get)
}

// Ingest handles POST /demand
func (h *DemandHandler) Ingest(c echo.Context) error {
	req, err := utils.BindRequest[IngestRequest](c)
	if err != nil {
		return err
	}

	key, err := req.Key()
	if err != nil {
		return BadRequest(err.Error())
	}

	status, resp := h.ingest(c.Request().Context(), key, req)
	return c.JSON(status, resp)
}

// IngestBatch handles POST /demand/batch. Items are stored independently;
// the response carries one result per item in request order.
func (h *DemandHandler) IngestBatch(c echo.Context) error {
	reqs, err := utils.DecodeJSON[[]IngestRequest](c)
	if err != nil {
		return err
	}
	if err := utils.ValidateValue(len(reqs), fmt.Sprintf("min=1,max=%d", MaxBatchSize)); err != nil {
		return BadRequest(fmt.Sprintf("batch must contain between 1 and %d items", MaxBatchSize))
	}

	ctx := c.Request().Context()
	resp := BatchResponse{Results: make([]BatchItemResult, 0, len(reqs))}
	for i, req := range reqs {
		item := BatchItemResult{Index: i}

		key, err := h.validateItem(req)
		if err != nil {
			item.Status = http.StatusBadRequest
			item.Message = err.Error()
			resp.Failed++
			resp.Results = append(resp.Results, item)
			continue
		}

		item.Status, item.IngestResponse = h.ingest(ctx, key, req)
		switch item.Action {
		case models.ActionInserted:
			resp.Inserted++
		case models.ActionUpdated:
			resp.Updated++
		default:
			if item.Status == http.StatusConflict {
				resp.Conflict++
			} else {
				resp.Failed++
			}
		}
		resp.Results = append(resp.Results, item)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"items":    len(reqs),
		"inserted": resp.Inserted,
		"updated":  resp.Updated,
		"conflict": resp.Conflict,
		"failed":   resp.Failed,
	}).Info("Processed demand batch")

	return SuccessResponse(c, resp)
}

func (h *DemandHandler) validateItem(req IngestRequest) (models.RecordKey, error) {
	if _, err := utils.Validate(req); err != nil {
		return models.RecordKey{}, err
	}
	return req.Key()
}

func (h *DemandHandler) ingest(ctx context.Context, key models.RecordKey, req IngestRequest) (int, IngestResponse) {
	outcome, err := h.store.Record(ctx, SourceSink, key, req.Payload(), req.System())
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, IngestResponse{Message: err.Error()}
	case errors.Is(err, repositories.ErrConcurrentInsert):
		return http.StatusConflict, IngestResponse{Message: "record was inserted concurrently, retry later"}
	case err != nil:
		h.logger.WithContext(ctx).WithError(err).WithField("key", key.String()).Error("Failed to store demand record")
		return http.StatusInternalServerError, IngestResponse{Action: "error", Message: "failed to store demand record"}
	}

	switch outcome.Action {
	case models.ActionInserted:
		return http.StatusCreated, IngestResponse{Action: models.ActionInserted, Record: outcome.Record}
	case models.ActionUpdated:
		return http.StatusOK, IngestResponse{Action: models.ActionUpdated, Record: outcome.Record}
	default:
		return http.StatusConflict, IngestResponse{Message: "record already holds this data"}
	}
}

// Get handles GET /demand/:date/:hour/:region
func (h *DemandHandler) Get(c echo.Context) error {
	date, err := time.Parse(models.OperationDateLayout, c.Param("date"))
	if err != nil {
		return BadRequest("date must be YYYY-MM-DD")
	}
	hour, err := strconv.Atoi(c.Param("hour"))
	if err != nil {
		return BadRequest("hour must be an integer")
	}

	key := models.NewRecordKey(date, hour, c.Param("region"))
	if err := key.Validate(); err != nil {
		return BadRequest(err.Error())
	}

	record, err := h.getter.GetByKey(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return SuccessResponse(c, record)
}
