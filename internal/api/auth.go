package api

import (
	"context"
	"net/http"
	"time"

	"chatroom/backend/internal/models"
	"chatroom/backend/internal/service"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Accounts is the authentication service the handlers need.
type Accounts interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*service.Session, error)
	AdminLogin(ctx context.Context, username, password string) (*service.Session, error)
	Authenticate(ctx context.Context, token string) (*service.Identity, error)
	Logout(ctx context.Context, identity *service.Identity) error
}

// Presence drops a logged out user from the live roster.
type Presence interface {
	Logout(username string)
}

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	accounts Accounts
	presence Presence
	cookie   CookieConfig
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts Accounts, presence Presence, cookie CookieConfig, log *logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuthHandler{
		accounts: accounts,
		presence: presence,
		cookie:   cookie,
		logger:   log.WithComponent("api.auth"),
	}
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromContext(c).Warn("Error binding JSON for register", "error", err.Error())
		_ = c.Error(apperrors.NewValidationError("Invalid request format"))
		return
	}

	if _, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Login handles user authentication and sets the session cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromContext(c).Warn("Error binding JSON for login", "error", err.Error())
		_ = c.Error(apperrors.NewValidationError("Invalid request format"))
		return
	}

	session, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.setCookie(c, session)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"userId":  session.Identity.UserID,
		"isAdmin": session.Identity.IsAdmin,
		"token":   session.Token,
	})
}

// AdminLogin is Login for admin accounts.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req models.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromContext(c).Warn("Error binding JSON for admin login", "error", err.Error())
		_ = c.Error(apperrors.NewValidationError("Invalid request format"))
		return
	}

	session, err := h.accounts.AdminLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.setCookie(c, session)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"userId":  session.Identity.UserID,
		"token":   session.Token,
	})
}

// Logout revokes the caller's session if there is one, drops their first
// presence entry and re-announces the roster. A request without a session
// still succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	var username string

	token := middleware.TokenFromRequest(c.Request, h.cookie.Name)
	if token != "" {
		identity, err := h.accounts.Authenticate(c.Request.Context(), token)
		if err == nil {
			if err := h.accounts.Logout(c.Request.Context(), identity); err != nil {
				_ = c.Error(err)
				return
			}
			username = identity.Username
		} else {
			logger.FromContext(c).Debug("Logout with invalid session", "error", err.Error())
		}
	}

	if username != "" {
		h.presence.Logout(username)
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the identity behind the current session.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		_ = c.Error(apperrors.NewAuthError("Authentication required"))
		return
	}
	identity, ok := principal.(*service.Identity)
	if !ok {
		_ = c.Error(apperrors.NewInternalServerError("Unexpected principal"))
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *AuthHandler) setCookie(c *gin.Context, session *service.Session) {
	maxAge := int(time.Until(session.Identity.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, session.Token, maxAge, "/", "", h.cookie.Secure, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
}
