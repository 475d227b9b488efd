package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	dispatcher  service.RideDispatcher
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(dispatcher service.RideDispatcher, rideService *service.RideService) *RideHandler {
	return &RideHandler{
		dispatcher:  dispatcher,
		rideService: rideService,
	}
}

// MatchRideRequest is the HTTP request body for requesting a ride.
type MatchRideRequest struct {
	PassengerID string     `json:"passengerId"`
	Pickup      *PointJSON `json:"pickup"`
	Dropoff     *PointJSON `json:"dropoff"`
}

// MatchRideResponse is the HTTP response for a dispatch attempt.
type MatchRideResponse struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId,omitempty"`
	State    string `json:"state,omitempty"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RideResponse is the HTTP response for ride data.
type RideResponse struct {
	ID               string `json:"id"`
	PassengerID      string `json:"passengerId"`
	Pickup           LatLng `json:"pickup"`
	Dropoff          LatLng `json:"dropoff"`
	State            string `json:"state"`
	AssignedDriverID string `json:"assignedDriverId,omitempty"`
	CancelReason     string `json:"cancelReason,omitempty"`
	CreatedAt        string `json:"createdAt"`
	DecidedAt        string `json:"decidedAt,omitempty"`
}

// MatchRide handles POST /v1/rides/match
func (h *RideHandler) MatchRide(c *gin.Context) {
	var req MatchRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.dispatcher.RequestRide(c.Request.Context(), service.DispatchRequest{
		PassengerID: req.PassengerID,
		Pickup:      req.Pickup.toDomain(),
		Dropoff:     req.Dropoff.toDomain(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	switch result.Status {
	case service.DispatchAssigned:
		respondJSON(c, http.StatusCreated, MatchRideResponse{RideID: result.RideID, DriverID: result.DriverID})
	case service.DispatchUnmatched:
		respondJSON(c, http.StatusNotFound, MatchRideResponse{RideID: result.RideID})
	case service.DispatchCancelled:
		respondJSON(c, http.StatusConflict, MatchRideResponse{RideID: result.RideID, State: string(domain.RideStateCancelled)})
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(result.Reason)})
	}
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ListRides handles GET /v1/rides
func (h *RideHandler) ListRides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	rides, err := h.rideService.ListRides(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]RideResponse, 0, len(rides))
	for _, ride := range rides {
		out = append(out, toRideResponse(ride))
	}
	respondJSON(c, http.StatusOK, out)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), service.CancelRideRequest{
		RideID: c.Param("id"),
		Reason: req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

func toRideResponse(ride *domain.RideRequest) RideResponse {
	return RideResponse{
		ID:               ride.ID,
		PassengerID:      ride.PassengerID,
		Pickup:           LatLng{Lat: ride.Pickup.Lat, Lng: ride.Pickup.Lng},
		Dropoff:          LatLng{Lat: ride.Dropoff.Lat, Lng: ride.Dropoff.Lng},
		State:            string(ride.State),
		AssignedDriverID: ride.AssignedDriverID,
		CancelReason:     ride.CancelReason,
		CreatedAt:        ride.CreatedAt.UTC().Format(time.RFC3339),
		DecidedAt:        formatTime(ride.DecidedAt),
	}
}
