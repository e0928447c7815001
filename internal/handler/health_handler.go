package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Hello is the public liveness probe
func Hello(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "hello from member-service"})
}

// HealthCheck handles the health check endpoint, including a store ping
func HealthCheck(c echo.Context) error {
	if err := records.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status":  "unhealthy",
			"service": "member-service",
			"error":   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": "member-service",
	})
}
