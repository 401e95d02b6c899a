package middleware

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "clinichub-backend/pkg/errors"
	"clinichub-backend/pkg/jwt"
	"clinichub-backend/pkg/response"
)

// AuthMiddleware validates the bearer token and puts the verified
// principal into the Gin context. The principal id always comes from
// the token claims, never from a client-supplied field.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AppError(c, apperrors.UnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.AppError(c, apperrors.UnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		// ValidateToken pins audience and issuer, so nothing minted for
		// another service passes here.
		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			response.AppError(c, apperrors.InvalidTokenError("invalid token"))
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole restricts a route to principals with one of the given
// roles. Must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		if !slices.Contains(roles, role) {
			response.AppError(c, apperrors.AccessDeniedError("insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}
