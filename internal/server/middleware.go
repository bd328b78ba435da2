package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		status := statusFor(appErr.Type)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if status >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		c.JSON(status, appErr)
	}
}

func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrPolicyReject, apperrors.ErrDataIntegrity:
		return http.StatusUnprocessableEntity
	case apperrors.ErrSafetyViolation:
		return http.StatusForbidden
	case apperrors.ErrTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		metrics.HTTPLatency.WithLabelValues(c.FullPath()).Observe(duration)
	}
}
