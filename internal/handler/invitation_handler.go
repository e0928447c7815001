package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/internal/reconcile"
	"member-service/internal/store"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

// SendInvitation transitions a pending invitation to sent and emits the
// outbound notification. Resending an already-sent invitation is allowed.
func SendInvitation(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackDBOperation("update")(time.Now())

	invitation, err := engine.Invitations().MarkSent(c.Request().Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invitation not found"})
		}
		if errors.Is(err, reconcile.ErrInvalidInviteState) {
			log.Warn("Cannot send invitation in terminal state", zap.Error(err))
			return c.JSON(http.StatusConflict, echo.Map{"error": "invitation is completed or expired"})
		}
		log.Error("Failed to send invitation", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to send invitation"})
	}

	log.Info("Invitation sent",
		zap.String("email", invitation.Email),
		zap.Uint("tenant_id", invitation.TenantID))

	return c.JSON(http.StatusOK, echo.Map{
		"message":    "invitation sent",
		"invitation": invitation,
	})
}

// ListInvitations retrieves all invitations of a tenant, including the
// derived expired state.
func ListInvitations(c echo.Context) error {
	log := logger.FromContext(c)

	tenantID, err := strconv.ParseUint(c.QueryParam("tenant_id"), 10, 32)
	if err != nil {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id query parameter is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	invitations, err := records.ListInvitationsByTenant(c.Request().Context(), uint(tenantID))
	if err != nil {
		log.Error("Failed to list invitations", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list invitations"})
	}

	now := time.Now()
	type invitationView struct {
		model.Invitation
		Expired bool `json:"expired"`
	}
	views := make([]invitationView, 0, len(invitations))
	for _, invitation := range invitations {
		views = append(views, invitationView{
			Invitation: invitation,
			Expired:    invitation.Status != model.InvitationStatusCompleted && invitation.IsExpired(now),
		})
	}

	return c.JSON(http.StatusOK, views)
}
