package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bilregistret/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error      string             `json:"error"`
	Code       string             `json:"code"`
	Class      errors.Class       `json:"class,omitempty"`
	Source     string             `json:"source,omitempty"`
	Hint       string             `json:"hint,omitempty"`
	Details    interface{}        `json:"details,omitempty"`
	Drilldowns []errors.Drilldown `json:"drilldowns,omitempty"`
	// Redirect is set on the first unauthorized answer of a burst
	Redirect string `json:"redirect,omitempty"`
}

// NewErrorResponse describes err
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	if le, ok := errors.AsLookupError(err); ok {
		resp.Code = string(le.Code)
		resp.Source = le.Source
		resp.Details = le.Details
		resp.Drilldowns = le.Drilldowns
	} else {
		resp.Code = string(errors.CodeOf(err))
	}
	resp.Class = errors.ClassOf(err)
	resp.Hint = errors.Hint(errors.ErrorCode(resp.Code))
	return resp
}

// WriteError writes err with an explicit status
func WriteError(c *gin.Context, err error, status int) {
	c.JSON(status, NewErrorResponse(err))
}

// WriteLookupError writes err with the status mapped from its code
func WriteLookupError(c *gin.Context, err error) {
	WriteError(c, err, StatusFor(err))
}

// StatusFor maps an error to an HTTP status
func StatusFor(err error) int {
	if stderrors.Is(err, context.Canceled) {
		return 499
	}
	return MapErrorCodeToStatus(errors.CodeOf(err))
}

// MapErrorCodeToStatus maps error codes to HTTP status codes
func MapErrorCodeToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.NotFound:
		return http.StatusNotFound // 404
	case errors.NetworkFailure:
		return http.StatusBadGateway // 502
	case errors.MalformedResponse:
		return http.StatusBadGateway // 502
	case errors.Unauthorized:
		return http.StatusUnauthorized // 401
	case errors.InvalidArgument:
		return http.StatusBadRequest // 400
	case errors.Timeout:
		return http.StatusGatewayTimeout // 504
	case errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// BadRequest writes a 400 with an InvalidArgument code
func BadRequest(c *gin.Context, message string) {
	WriteError(c, errors.NewLookupError(errors.InvalidArgument, message, nil), http.StatusBadRequest)
}

// InternalError writes a 500
func InternalError(c *gin.Context, message string, cause error) {
	WriteError(c, errors.NewLookupError(errors.InternalError, message, cause), http.StatusInternalServerError)
}
