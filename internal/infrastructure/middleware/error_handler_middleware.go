package middleware

import (
	"net/http"

	"voicerooms/internal/core/domain"
	"voicerooms/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DomainErrorMappings translate lifecycle sentinels into API errors.
var DomainErrorMappings = []errors.Mapping{
	{Target: domain.ErrNotInManagedRoom, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrTriggerNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrRoomNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrMemberNotFound, Code: errors.ErrCodeNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrNotRoomOwner, Code: errors.ErrCodeForbidden, Status: http.StatusForbidden},
	{Target: domain.ErrOwnerPresent, Code: errors.ErrCodeConflict, Status: http.StatusConflict},
	{Target: domain.ErrAlreadyOwner, Code: errors.ErrCodeConflict, Status: http.StatusConflict},
	{Target: domain.ErrTriggerExists, Code: errors.ErrCodeConflict, Status: http.StatusConflict},
	{Target: domain.ErrTargetNotInRoom, Code: errors.ErrCodeConflict, Status: http.StatusConflict},
	{Target: domain.ErrInvalidTrigger, Code: errors.ErrCodeInvalidInput, Status: http.StatusBadRequest},
	{Target: domain.ErrInvalidPreference, Code: errors.ErrCodeInvalidInput, Status: http.StatusBadRequest},
	{Target: domain.ErrPlatformForbidden, Code: errors.ErrCodeForbidden, Status: http.StatusForbidden, Message: "missing platform permissions"},
	{Target: domain.ErrPlatformUnavailable, Code: errors.ErrCodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: "platform unavailable"},
	{Target: domain.ErrPersistence, Code: errors.ErrCodeInternal, Status: http.StatusInternalServerError, Message: "storage error"},
}

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := errors.FromError(c.Errors.Last().Err, DomainErrorMappings)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		if appErr.RetryAfter > 0 {
			body["retry_after_seconds"] = int(appErr.RetryAfter.Seconds())
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
