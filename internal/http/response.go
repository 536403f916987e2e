package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidtube/internal/service"
)

// Response es el sobre uniforme de las respuestas exitosas.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorResponse es el sobre uniforme de los fallos. Data siempre es null.
type ErrorResponse struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func respond(c *gin.Context, status int, data any, message string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Response{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

func respondFailure(c *gin.Context, status int, message string, details ...string) {
	if details == nil {
		details = []string{}
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		StatusCode: status,
		Data:       nil,
		Message:    message,
		Success:    false,
		Errors:     details,
	})
}

// respondError traduce un error del dominio al sobre de fallo. Las causas
// internas solo van al log.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	} else {
		logger.Debug("request rejected",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	respondFailure(c, status, message)
}

func classify(err error) (int, string) {
	status := statusFor(err)
	var e *service.Error
	if errors.As(err, &e) && e.Message != "" && status < http.StatusInternalServerError {
		return status, e.Message
	}
	if status >= http.StatusInternalServerError {
		return status, "Something went wrong"
	}
	return status, defaultMessage(err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUpload):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrTokenInvalid),
		errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func defaultMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, service.ErrTokenInvalid):
		return "Invalid token"
	case errors.Is(err, service.ErrUnauthorized):
		return "Unauthorized request"
	default:
		return http.StatusText(statusFor(err))
	}
}
