package authserver

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/delegationauth/core/internal/middleware"
	"github.com/delegationauth/core/pkg/apierr"
)

// respondError renders err as the stable {error, message, timestamp} body,
// logging the underlying cause (never sent to the client) with the
// request's correlation id.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.Internal, "internal error").WithCause(err)
	}
	requestID := middleware.RequestIDFrom(c)
	apiErr = apiErr.WithRequestID(requestID)

	entry := logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"error_code": apiErr.Code,
	})
	if apiErr.Cause != nil {
		entry = entry.WithError(apiErr.Cause)
	}
	entry.Warn(apiErr.Message)

	c.JSON(apiErr.HTTPStatus(), apiErr.ToBody())
}
