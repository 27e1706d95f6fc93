package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *Result of an authenticated request.
const ResultKey = "auth_result"

// GinAuth rejects unauthenticated requests with 401. A nil or disabled
// service lets every request through.
func GinAuth(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}
		res, err := s.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinRequireWrite rejects callers whose role may not mutate watchdog state.
func GinRequireWrite(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}
		v, ok := c.Get(ResultKey)
		res, _ := v.(*Result)
		if !ok || res == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !Allows(res.Role, true) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}
