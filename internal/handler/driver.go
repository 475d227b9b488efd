package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// DriverHandler handles HTTP requests for driver presence.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// AvailabilityResponse is the HTTP response for a driver's availability.
type AvailabilityResponse struct {
	DriverID          string  `json:"driverId"`
	Status            string  `json:"status"`
	CurrentRideID     string  `json:"currentRideId,omitempty"`
	LastKnownPosition *LatLng `json:"lastKnownPosition,omitempty"`
	UpdatedAt         string  `json:"updatedAt"`
}

// GoOnline handles POST /v1/drivers/:id/online
func (h *DriverHandler) GoOnline(c *gin.Context) {
	var req PointJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	driver, err := h.driverService.GoOnline(c.Request.Context(), service.GoOnlineRequest{
		DriverID: c.Param("id"),
		Location: req.toDomain(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toAvailabilityResponse(driver))
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	driver, err := h.driverService.GoOffline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toAvailabilityResponse(driver))
}

// GetAvailability handles GET /v1/drivers/:id/availability
func (h *DriverHandler) GetAvailability(c *gin.Context) {
	driver, err := h.driverService.GetAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toAvailabilityResponse(driver))
}

func toAvailabilityResponse(d *domain.DriverAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{
		DriverID:      d.DriverID,
		Status:        string(d.Status),
		CurrentRideID: d.CurrentRideID,
		UpdatedAt:     formatTime(&d.UpdatedAt),
	}
	if d.LastKnownPosition != nil {
		resp.LastKnownPosition = &LatLng{Lat: d.LastKnownPosition.Lat, Lng: d.LastKnownPosition.Lng}
	}
	return resp
}
