package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
)

// rejectionStatus maps a rejection code to its HTTP status.
func rejectionStatus(code fsm.Code) int {
	switch code {
	case fsm.CodeRoleDenied:
		return http.StatusForbidden
	case fsm.CodeGuardFailure:
		return http.StatusUnprocessableEntity
	default: // NO_SUCH_EDGE, ALREADY_TERMINAL
		return http.StatusConflict
	}
}

// writeLifecycleError maps lifecycle and engine errors to a JSON response.
func writeLifecycleError(c *gin.Context, logger *zap.Logger, err error) {
	var rej *fsm.Rejection
	switch {
	case errors.As(err, &rej):
		c.JSON(rejectionStatus(rej.Code), gin.H{
			"error":     rej.Error(),
			"code":      rej.Code,
			"rejection": rej,
		})
	case errors.Is(err, fsm.ErrUnknownMachine):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, lifecycle.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
	case errors.Is(err, lifecycle.ErrEntityMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "resource belongs to another entity"})
	case errors.Is(err, lifecycle.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "resource changed concurrently, retry"})
	default:
		logger.Error("lifecycle request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
