package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

// ListFlags retrieves the operator queue of unresolved reconciliation
// problems: ambiguous resolutions and members without a resolvable tenant.
func ListFlags(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("query")(time.Now())
	flags, err := records.ListOpenFlags(c.Request().Context())
	if err != nil {
		log.Error("Failed to list operator flags", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list flags"})
	}
	if flags == nil {
		flags = []model.OperatorFlag{}
	}

	prometheus.OpenFlagsGauge.Set(float64(len(flags)))
	return c.JSON(http.StatusOK, flags)
}
