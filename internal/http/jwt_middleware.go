package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-runtime/internal/service"
)

const contextKeySubject = "auth_subject"

// JWTMiddleware exige un bearer token valido y deja el subject en el
// contexto de la request.
func JWTMiddleware(jwtService *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		subject, err := jwtService.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(contextKeySubject, subject)
		c.Next()
	}
}
