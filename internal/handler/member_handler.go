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

// CreateMember handles admin-direct member provisioning. It runs a full
// reconciliation pass and also issues a pending invitation for the member.
func CreateMember(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackReconcile(model.SourceAdminDirect)(time.Now())

	var req struct {
		IdentityID  string `json:"identity_id,omitempty"`
		Email       string `json:"email"`
		TenantID    *uint  `json:"tenant_id"`
		DisplayName string `json:"display_name,omitempty"`
		JobRole     string `json:"job_role"`
		Area        string `json:"area,omitempty"`
		ProfileID   string `json:"profile_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse member creation request", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Email == "" || req.TenantID == nil {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and tenant_id are required"})
	}

	fact := reconcile.Fact{
		IdentityID:  req.IdentityID,
		Email:       req.Email,
		TenantID:    req.TenantID,
		DisplayName: req.DisplayName,
		JobRole:     req.JobRole,
		Area:        req.Area,
		ProfileID:   req.ProfileID,
	}

	member, err := engine.Reconcile(c.Request().Context(), fact, model.SourceAdminDirect)
	if err != nil {
		return respondReconcile(c, model.SourceAdminDirect, member, err, http.StatusCreated)
	}

	// Echo the invitation back so the operator can send it.
	invitation, invErr := records.FindInvitationByEmailTenant(c.Request().Context(), req.Email, *req.TenantID)
	if invErr != nil && !errors.Is(invErr, store.ErrNotFound) {
		log.Error("Failed to load invitation after provisioning", zap.Error(invErr))
	}

	prometheus.RecordReconcile(model.SourceAdminDirect, "ok")
	log.Info("Member provisioned",
		zap.String("member_id", member.ID),
		zap.String("email", member.Email))

	return c.JSON(http.StatusCreated, echo.Map{
		"member":     member,
		"invitation": invitation,
	})
}

// GetMember retrieves a member by ID
func GetMember(c echo.Context) error {
	log := logger.FromContext(c)
	defer prometheus.TrackDBOperation("query")(time.Now())

	member, err := records.GetMember(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
		}
		log.Error("Failed to retrieve member", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve member"})
	}

	return c.JSON(http.StatusOK, member)
}

// ListMembers retrieves all members of a tenant
func ListMembers(c echo.Context) error {
	log := logger.FromContext(c)

	tenantID, err := strconv.ParseUint(c.QueryParam("tenant_id"), 10, 32)
	if err != nil {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id query parameter is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	members, err := records.ListMembersByTenant(c.Request().Context(), uint(tenantID))
	if err != nil {
		log.Error("Failed to list members", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list members"})
	}
	if members == nil {
		members = []model.Member{}
	}

	return c.JSON(http.StatusOK, members)
}
