package identity

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Middleware resolves the bearer token, if any, and stores the principal on the
// gin context. Requests without a usable token continue with no principal;
// handlers decide whether that is a 401.
func Middleware(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) > len("bearer ") && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			tokenStr := strings.TrimSpace(authz[len("bearer "):])
			if p := r.FromBearer(c.Request.Context(), tokenStr); p != nil {
				c.Set(principalKey, p)
			}
		}
		c.Next()
	}
}

// FromContext returns the principal stored by Middleware, or nil.
func FromContext(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
