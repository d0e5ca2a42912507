package api

import (
	"context"
	"net/http"

	"chatroom/backend/internal/models"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminStore is the read side of the store used by the dashboard.
type AdminStore interface {
	FindMessages(ctx context.Context, limit int) ([]models.Message, error)
	ListUsers(ctx context.Context, nonAdminOnly bool) ([]models.User, error)
}

// AdminHandler serves the admin dashboard's data.
type AdminHandler struct {
	store  AdminStore
	logger *logger.Logger
}

func NewAdminHandler(store AdminStore, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AdminHandler{store: store, logger: log.WithComponent("api.admin")}
}

// ListMessages returns every stored message, newest first.
func (h *AdminHandler) ListMessages(c *gin.Context) {
	messages, err := h.store.FindMessages(c.Request.Context(), 0)
	if err != nil {
		logger.FromContext(c).LogError(err, "Error fetching messages")
		_ = c.Error(apperrors.NewPersistenceError("Failed to fetch messages", err))
		return
	}
	c.JSON(http.StatusOK, messages)
}

// ListUsers returns the non-admin accounts. Password hashes never leave
// the store layer.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), true)
	if err != nil {
		logger.FromContext(c).LogError(err, "Error fetching users")
		_ = c.Error(apperrors.NewPersistenceError("Failed to fetch users", err))
		return
	}
	c.JSON(http.StatusOK, users)
}
