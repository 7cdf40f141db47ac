package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/identity"
	"classattend/internal/session"
)

// maxMaterialBytes caps lecture material uploads.
const maxMaterialBytes = 32 << 20

func (s *Server) createClass(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can create classes")
	if !ok {
		return
	}
	var req struct {
		ClassName string `json:"class_name" binding:"required"`
		ClassCode string `json:"class_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "class_name and class_code are required")
		return
	}
	class, err := s.Sessions.RegisterClass(c.Request.Context(), p, req.ClassName, req.ClassCode)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "class created successfully", "class": class})
}

func (s *Server) listClasses(c *gin.Context) {
	classes, err := s.Sessions.Classes(c.Request.Context(), identity.FromContext(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes, "count": len(classes)})
}

func (s *Server) createSession(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can manage sessions")
	if !ok {
		return
	}
	var req struct {
		ClassID     string `json:"class_id"`
		SessionDate string `json:"session_date"`
		StartTime   string `json:"start_time"`
		EndTime     string `json:"end_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sess, err := s.Sessions.Create(c.Request.Context(), p, session.CreateInput{
		ClassID:     req.ClassID,
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "session created successfully", "session": sess})
}

func (s *Server) listSessions(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can manage sessions")
	if !ok {
		return
	}
	classID := c.Query("class_id")
	if classID == "" {
		badRequest(c, "class_id is required")
		return
	}
	sessions, err := s.Sessions.ListByClass(c.Request.Context(), p, classID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.Sessions.Get(c.Request.Context(), identity.FromContext(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (s *Server) updateSession(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can manage sessions")
	if !ok {
		return
	}
	var req struct {
		SessionDate *string `json:"session_date"`
		StartTime   *string `json:"start_time"`
		EndTime     *string `json:"end_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sess, err := s.Sessions.Update(c.Request.Context(), p, c.Param("id"), session.UpdateInput{
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session updated successfully", "session": sess})
}

func (s *Server) deactivateSession(c *gin.Context) {
	sess, err := s.Sessions.Deactivate(c.Request.Context(), identity.FromContext(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deactivated", "session": sess})
}

func (s *Server) activateSession(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can manage sessions")
	if !ok {
		return
	}
	var req struct {
		ExpiryMinutes int `json:"expiry_minutes" binding:"omitempty,min=1,max=1440"`
	}
	// the body is optional; an absent one means the default expiry
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "expiry_minutes must be between 1 and 1440")
		return
	}
	act, err := s.Sessions.Activate(c.Request.Context(), p, c.Param("id"),
		time.Duration(req.ExpiryMinutes)*time.Minute)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "session activated",
		"session":      act.Session,
		"qr_code_data": act.Payload,
		"qr_code_url":  act.QRCodeURL,
		"expires_at":   act.Token.ExpiresAt,
	})
}

func (s *Server) uploadMaterial(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can manage sessions")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMaterialBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "file field required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "could not read file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	sess, err := s.Sessions.AttachMaterial(c.Request.Context(), p, c.Param("id"), header.Filename, data, contentType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "lecture material uploaded", "session": sess})
}
