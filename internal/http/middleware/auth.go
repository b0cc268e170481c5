package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"subcontracting-service/internal/auth"
	"subcontracting-service/internal/model"
)

const (
	claimsContextKey    = "tokenClaims"
	principalContextKey = "principal"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer"
)

func Auth(parser *auth.Parser) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawHeader := c.GetHeader(authorizationHeader)
		if rawHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing"})
			return
		}

		parts := strings.SplitN(rawHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := parser.Parse(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Set(principalContextKey, principalFromClaims(claims))
		c.Next()
	}
}

// OptionalAuth resolves a principal when a valid bearer token is present and
// lets the request through anonymously otherwise. Used on the public claim
// page, which renders differently for the reserving driver.
func OptionalAuth(parser *auth.Parser) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawHeader := c.GetHeader(authorizationHeader)
		if rawHeader != "" {
			parts := strings.SplitN(rawHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], bearerPrefix) {
				if claims, err := parser.Parse(parts[1]); err == nil {
					c.Set(claimsContextKey, claims)
					c.Set(principalContextKey, principalFromClaims(claims))
				}
			}
		}
		c.Next()
	}
}

func principalFromClaims(claims *auth.Claims) model.Principal {
	principal := model.Principal{
		Subject: claims.Subject,
		Role:    model.Role(claims.Role),
	}
	if claims.DriverID != "" {
		if id, err := uuid.Parse(claims.DriverID); err == nil {
			principal.DriverID = &id
		}
	}
	return principal
}

func MustPrincipal(c *gin.Context) (model.Principal, bool) {
	value, exists := c.Get(principalContextKey)
	if !exists {
		return model.Principal{}, false
	}

	principal, ok := value.(model.Principal)
	if !ok {
		return model.Principal{}, false
	}

	return principal, true
}

// Principal returns whatever principal the request carries, zero-valued for
// anonymous requests.
func Principal(c *gin.Context) model.Principal {
	principal, _ := MustPrincipal(c)
	return principal
}
