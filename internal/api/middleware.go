package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"marketdata/internal/provider"
)

// RequestError is a client error with an explicit status.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e RequestError) Error() string { return e.Message }

func badRequest(msg string) RequestError {
	return RequestError{StatusCode: http.StatusBadRequest, Message: msg}
}

// StatusFor maps a core error onto an HTTP status.
func StatusFor(err error) int {
	var (
		re RequestError
		ce *provider.ConfigurationError
		pe *provider.ProviderError
		de *provider.DataUnavailableError
		te *provider.TransportError
	)
	switch {
	case errors.As(err, &re):
		return re.StatusCode
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable
	case errors.As(err, &pe):
		if pe.RateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case errors.As(err, &de):
		return http.StatusNotFound
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes the first error recorded by a handler, or a timeout when the
// request deadline passed.
func Error(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if errors.Is(c.Request.Context().Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, Res{Error: "request timed out"})
			return
		}
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors[0].Err

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]FieldError, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, FieldError{Field: fe.Field(), Message: fe.Error()})
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, Res{Error: fields})
			return
		}

		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			log.Warn("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}
		c.AbortWithStatusJSON(status, Res{Error: err.Error()})
	}
}

// Timeout bounds every request's context. Handlers observe the deadline
// through the context they pass down.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
