package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/internal/reconcile"
	"member-service/internal/store"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

var (
	engine  *reconcile.Engine
	records store.Store
)

// Init wires the handlers to the reconciliation engine and store
func Init(e *reconcile.Engine, s store.Store) {
	engine = e
	records = s
}

// respondReconcile translates a Reconcile outcome into an HTTP response.
// A member held without a resolvable tenant is accepted, not rejected: the
// record exists and is flagged for operator follow-up.
func respondReconcile(c echo.Context, source string, member *model.Member, err error, okStatus int) error {
	log := logger.FromContext(c)

	switch {
	case err == nil:
		prometheus.RecordReconcile(source, "ok")
		return c.JSON(okStatus, echo.Map{"member": member})

	case errors.Is(err, reconcile.ErrMissingTenant):
		prometheus.RecordReconcile(source, "missing_tenant")
		log.Warn("Member held without resolvable tenant",
			zap.String("member_id", member.ID),
			zap.String("source", source))
		return c.JSON(http.StatusAccepted, echo.Map{
			"message": "no tenant resolvable; member held for operator follow-up",
			"member":  member,
		})

	case errors.Is(err, reconcile.ErrResolutionAmbiguous):
		prometheus.RecordReconcile(source, "ambiguous")
		log.Error("Ambiguous member resolution", zap.String("source", source), zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{"error": "resolution ambiguous; queued for operator review"})

	case errors.Is(err, reconcile.ErrInvalidInviteState):
		prometheus.RecordReconcile(source, "invalid_invite")
		log.Warn("Invitation in terminal state", zap.String("source", source), zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{"error": "invitation is completed or expired"})

	case errors.Is(err, reconcile.ErrReconcileConflict):
		prometheus.RecordReconcile(source, "conflict")
		log.Warn("Reconcile conflict, caller should retry", zap.String("source", source), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "concurrent update conflict, retry later"})

	case errors.Is(err, store.ErrNotFound):
		prometheus.RecordReconcile(source, "error")
		log.Warn("Record not found during reconciliation", zap.String("source", source), zap.Error(err))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "record not found"})

	default:
		prometheus.RecordReconcile(source, "error")
		log.Error("Reconciliation failed", zap.String("source", source), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reconciliation failed"})
	}
}
