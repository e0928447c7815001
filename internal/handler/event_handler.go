package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/internal/reconcile"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

// IdentityCreatedEvent handles the identity-provider webhook fired on
// new-account creation. The tenant may be absent from the payload; the
// engine resolves it through the invitation/identity waterfall.
func IdentityCreatedEvent(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackReconcile(model.SourceEventDriven)(time.Now())

	var req struct {
		IdentityID  string `json:"identity_id"`
		Email       string `json:"email"`
		TenantID    *uint  `json:"tenant_id,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse identity-created event", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.IdentityID == "" || req.Email == "" {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "identity_id and email are required"})
	}

	fact := reconcile.Fact{
		IdentityID:  req.IdentityID,
		Email:       req.Email,
		TenantID:    req.TenantID,
		DisplayName: req.DisplayName,
	}

	member, err := engine.Reconcile(c.Request().Context(), fact, model.SourceEventDriven)
	return respondReconcile(c, model.SourceEventDriven, member, err, http.StatusOK)
}

// FirstLoginEvent handles the webhook fired on a user's first successful
// authentication. It activates the member and completes any open invitation
// resolved by email.
func FirstLoginEvent(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackReconcile(model.SourceFirstLogin)(time.Now())

	var req struct {
		IdentityID string `json:"identity_id"`
		Email      string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse first-login event", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.IdentityID == "" || req.Email == "" {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "identity_id and email are required"})
	}

	fact := reconcile.Fact{
		IdentityID: req.IdentityID,
		Email:      req.Email,
		Activate:   true,
	}

	member, err := engine.Reconcile(c.Request().Context(), fact, model.SourceFirstLogin)
	return respondReconcile(c, model.SourceFirstLogin, member, err, http.StatusOK)
}

// InviteRegistrationEvent handles completion of the invited self-registration
// form. The invitation is resolved by its token directly.
func InviteRegistrationEvent(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackReconcile(model.SourceInviteRegistration)(time.Now())

	var req struct {
		InviteToken string `json:"invite_token"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name,omitempty"`
		JobRole     string `json:"job_role,omitempty"`
		Area        string `json:"area,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse invite-registration event", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.InviteToken == "" {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invite_token is required"})
	}

	fact := reconcile.Fact{
		InviteToken: req.InviteToken,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		JobRole:     req.JobRole,
		Area:        req.Area,
	}

	member, err := engine.Reconcile(c.Request().Context(), fact, model.SourceInviteRegistration)
	return respondReconcile(c, model.SourceInviteRegistration, member, err, http.StatusOK)
}
