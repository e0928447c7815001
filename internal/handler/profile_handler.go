package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/pkg/logger"
	"member-service/prometheus"
)

// CreateProfile creates a role profile template
func CreateProfile(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		Name     string   `json:"name"`
		TenantID *uint    `json:"tenant_id,omitempty"`
		JobRoles []string `json:"job_roles"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse profile creation request", zap.Error(err))
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		prometheus.RecordError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	profile := &model.RoleProfile{
		ProfileID: uuid.New().String(),
		TenantID:  req.TenantID,
		Name:      req.Name,
		JobRoles:  req.JobRoles,
		Status:    model.ProfileStatusActive,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := records.CreateProfile(c.Request().Context(), profile); err != nil {
		log.Error("Failed to create role profile", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create profile"})
	}

	log.Info("Role profile created",
		zap.String("profile_id", profile.ProfileID),
		zap.String("name", profile.Name))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "profile created",
		"profile": profile,
	})
}

// ListProfiles retrieves active profiles for a tenant plus global ones
func ListProfiles(c echo.Context) error {
	log := logger.FromContext(c)

	var tenantID *uint
	if raw := c.QueryParam("tenant_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			prometheus.RecordError("invalid_request")
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant_id"})
		}
		id := uint(parsed)
		tenantID = &id
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	profiles, err := records.ListProfilesForTenant(c.Request().Context(), tenantID)
	if err != nil {
		log.Error("Failed to list role profiles", zap.Error(err))
		prometheus.RecordError("db_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list profiles"})
	}
	if profiles == nil {
		profiles = []model.RoleProfile{}
	}

	return c.JSON(http.StatusOK, profiles)
}
