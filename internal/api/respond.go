package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/apperr"
	"classattend/internal/authz"
	"classattend/internal/identity"
	"classattend/internal/observability"
)

// fail renders err as {"error": msg}. Internal errors are logged and reported;
// outside release mode their cause is echoed under "message".
func (s *Server) fail(c *gin.Context, err error) {
	e := apperr.From(err)
	body := gin.H{"error": e.Message}
	if e.Kind == apperr.KindInternal {
		fields := []zap.Field{zap.String("path", c.Request.URL.Path), zap.Error(err)}
		tags := map[string]string{"path": c.FullPath()}
		if p := identity.FromContext(c); p != nil {
			fields = append(fields, zap.String("user_id", p.ID))
			tags["user_id"] = p.ID
		}
		s.Log.Error(e.Message, fields...)
		observability.CaptureErr(err, tags)
		if gin.Mode() != gin.ReleaseMode && e.Err != nil {
			body["message"] = e.Err.Error()
		}
	}
	c.AbortWithStatusJSON(e.Status(), body)
}

// authorize checks the caller's role before a handler reads the request body.
func (s *Server) authorize(c *gin.Context, role identity.Role, denyMsg string) (*identity.Principal, bool) {
	p := identity.FromContext(c)
	if err := authz.Authenticate(p, role, denyMsg); err != nil {
		s.fail(c, err)
		return nil, false
	}
	return p, true
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(apperr.KindBadRequest.Status(), gin.H{"error": msg})
}

var errUnauthorized = apperr.Unauthenticated("unauthorized")
