package middleware

import (
	"context"
	"net/http"
	"strings"

	"chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Principal is the authenticated caller stored on the request context.
type Principal interface {
	PrincipalID() string
	Admin() bool
}

// TokenAuthenticator resolves a session token.
type TokenAuthenticator func(ctx context.Context, token string) (Principal, error)

// TokenFromRequest reads the session token from the named cookie, then the
// Authorization bearer header, then the token query parameter. Browsers
// cannot set headers on websocket upgrades, hence the last two.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

// Authenticate requires a valid session and stores the principal on the
// context.
func Authenticate(auth TokenAuthenticator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := auth(c.Request.Context(), TokenFromRequest(c.Request, cookieName))
		if err != nil {
			logger.FromContext(c).Warn("Authentication failed", "error", err.Error())
			if errors.FromError(err).Code == errors.CodeInternal {
				err = errors.NewAuthError("Authentication required")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Set("userId", principal.PrincipalID())
		c.Next()
	}
}

// RequireAdmin rejects callers whose principal is not an admin. It must run
// after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			_ = c.Error(errors.NewAuthError("Authentication required"))
			c.Abort()
			return
		}
		if !principal.Admin() {
			_ = c.Error(errors.NewForbiddenError("Admin access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(Principal)
	return p, ok
}
