package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/voxus/internal/mutation"
)

// errorCode сопоставляет ошибку правки с HTTP статусом и машинным кодом
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, mutation.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, mutation.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mutation.ErrNotSender):
		return http.StatusForbidden, "not_sender"
	case errors.Is(err, mutation.ErrWindowExpired):
		return http.StatusForbidden, "window_expired"
	case errors.Is(err, mutation.ErrAlreadyDeleted):
		return http.StatusConflict, "already_deleted"
	case errors.Is(err, mutation.ErrNotDeleted):
		return http.StatusConflict, "not_deleted"
	case errors.Is(err, mutation.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, mutation.ErrGraceExpired):
		return http.StatusGone, "grace_expired"
	case errors.Is(err, mutation.ErrEmptyContent):
		return http.StatusBadRequest, "empty_content"
	case errors.Is(err, mutation.ErrStorageFailure):
		return http.StatusServiceUnavailable, "storage_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error, policy mutation.Policy) {
	status, code := errorCode(err)
	c.JSON(status, gin.H{"error": code, "message": mutation.UserMessage(err, policy)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}
