package handlers

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sunflower/pkg/ingestion"
	"github.com/Ramsey-B/sunflower/pkg/scheduler"
)

// PassTrigger is satisfied by *scheduler.Scheduler.
type PassTrigger interface {
	RunOnce(ctx context.Context, trigger string) (*ingestion.PassReport, error)
}

type IngestionHandler struct {
	trigger PassTrigger
	logger  ectologger.Logger
}

func NewIngestionHandler(trigger PassTrigger, logger ectologger.Logger) *IngestionHandler {
	return &IngestionHandler{
		trigger: trigger,
		logger:  logger,
	}
}

func (h *IngestionHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/ingestion/run", h.Run)
}

// Run handles POST /ingestion/run. The pass runs synchronously and the
// report is returned once every region has finished.
func (h *IngestionHandler) Run(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.trigger.RunOnce(ctx, scheduler.TriggerManual)
	if errors.Is(err, scheduler.ErrPassInProgress) {
		return Conflict("an ingestion pass is already in progress")
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Manual ingestion pass failed")
		return err
	}

	return SuccessResponse(c, report)
}
