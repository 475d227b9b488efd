package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code := mapErrorToHTTPStatus(kind)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(code, ErrorResponse{Error: msg, Kind: string(kind)})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps error kinds to HTTP status codes.
func mapErrorToHTTPStatus(kind service.Kind) int {
	switch kind {
	case service.KindInvalidInput:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidStateTransition, service.KindReservationConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PointJSON is a coordinate pair on the wire. Fields are pointers so a missing
// coordinate is distinguishable from zero.
type PointJSON struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// toDomain returns nil when either coordinate is missing.
func (p *PointJSON) toDomain() *domain.Point {
	if p == nil || p.Lat == nil || p.Lng == nil {
		return nil
	}
	return &domain.Point{Lat: *p.Lat, Lng: *p.Lng}
}

// LatLng is a coordinate pair in responses.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
