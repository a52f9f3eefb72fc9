package middleware

import (
	"net/http"
	"strings"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/services"
	"voicerooms/pkg/validation"

	"github.com/gin-gonic/gin"
)

const (
	ContextClaimsKey   = "claims"
	ContextOperatorKey = "operator"
)

// AuthMiddleware requires a bearer operator token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextOperatorKey, claims.Subject)
		c.Next()
	}
}

// GuildScopeMiddleware rejects tokens not scoped to the :guild path param.
// It runs after AuthMiddleware.
func GuildScopeMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get(ContextClaimsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, ok := raw.(*services.Claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid auth context"})
			return
		}

		guildID, err := validation.ParseSnowflake("guild", c.Param("guild"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := authService.CheckGuildAccess(claims, domain.GuildID(guildID)); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for this guild"})
			return
		}

		c.Next()
	}
}
