// Package api exposes the attendance service over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/analytics"
	"classattend/internal/attendance"
	"classattend/internal/httpmiddleware"
	"classattend/internal/identity"
	"classattend/internal/metrics"
	"classattend/internal/objectstore"
	"classattend/internal/session"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Server holds the services the HTTP handlers delegate to.
type Server struct {
	Sessions   *session.Manager
	Attendance *attendance.Recorder
	Analytics  *analytics.Aggregator
	Resolver   *identity.Resolver
	Limiter    *httpmiddleware.TokenBucket
	// LocalObjects serves /objects/* when blobs are kept in process.
	LocalObjects *objectstore.Memory
	Health       map[string]HealthCheck
	Log          *zap.Logger
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(recovery(s.Log))
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(requestMetrics())
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(identity.Middleware(s.Resolver))
	if s.Limiter != nil {
		r.Use(s.Limiter.Middleware(principalOrIP))
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", s.healthz)
	if s.LocalObjects != nil {
		r.GET("/objects/*key", s.serveObject)
	}

	v1 := r.Group("/v1")
	v1.GET("/classes", s.listClasses)
	v1.POST("/classes", s.createClass)

	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:id", s.getSession)
	v1.PUT("/sessions/:id", s.updateSession)
	v1.DELETE("/sessions/:id", s.deactivateSession)
	v1.POST("/sessions/:id/activate", s.activateSession)
	v1.POST("/sessions/:id/material", s.uploadMaterial)

	v1.POST("/attendance/scan", s.scan)
	v1.GET("/attendance", s.listAttendance)
	v1.GET("/materials", s.materialLink)

	v1.GET("/analytics", s.analytics)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// serveObject hands out blobs from the in-process store. QR images are public;
// everything else needs a presigned URL.
func (s *Server) serveObject(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, "qrcodes/") &&
		!s.LocalObjects.Verify(key, c.Query("expires"), c.Query("sig")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired link"})
		return
	}
	obj, err := s.LocalObjects.Get(key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

func principalOrIP(c *gin.Context) string {
	if p := identity.FromContext(c); p != nil && p.ID != "" {
		return "user:" + p.ID
	}
	return httpmiddleware.ClientIP(c)
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(route, c.Writer.Status(), time.Since(start))
	}
}

func recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("panic in handler", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
