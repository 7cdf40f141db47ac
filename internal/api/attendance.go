package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/identity"
)

func (s *Server) scan(c *gin.Context) {
	p, ok := s.authorize(c, identity.RoleStudent, "only students can scan attendance")
	if !ok {
		return
	}
	var req struct {
		QRCodeData string `json:"qr_code_data"`
		Location   string `json:"location"`
		DeviceInfo string `json:"device_info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := s.Attendance.Scan(c.Request.Context(), p, attendance.ScanInput{
		QRCodeData: req.QRCodeData,
		Location:   req.Location,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if out.Duplicate {
		body := gin.H{
			"error":        "Attendance already recorded",
			"message":      "you have already marked attendance for this session",
			"download_url": out.DownloadURL,
		}
		if out.Record.AttendanceID != "" {
			body["attendance_id"] = out.Record.AttendanceID
			body["scan_timestamp"] = out.Record.ScanTimestamp
		}
		c.JSON(http.StatusConflict, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "attendance recorded successfully",
		"attendance_id":  out.Record.AttendanceID,
		"session_id":     out.Record.SessionID,
		"class_id":       out.Record.ClassID,
		"class_name":     out.ClassName,
		"scan_timestamp": out.Record.ScanTimestamp,
		"download_url":   out.DownloadURL,
	})
}

// listAttendance serves professors (by session or by student) and students
// (their own records).
func (s *Server) listAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	p := identity.FromContext(c)
	if p == nil {
		s.fail(c, errUnauthorized)
		return
	}

	if p.Has(identity.RoleProfessor) {
		if sessionID := c.Query("session_id"); sessionID != "" {
			sess, recs, err := s.Attendance.ListForSession(ctx, p, sessionID)
			if err != nil {
				s.fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"session": sess, "attendance": recs, "count": len(recs)})
			return
		}
		if studentID := c.Query("student_id"); studentID != "" {
			recs, err := s.Attendance.ListStudentForProfessor(ctx, p, studentID, c.Query("class_id"))
			if err != nil {
				s.fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"student_id": studentID, "attendance": recs, "count": len(recs)})
			return
		}
		badRequest(c, "session_id or student_id is required")
		return
	}

	recs, err := s.Attendance.ListForStudent(ctx, p, c.Query("class_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": recs, "count": len(recs)})
}

func (s *Server) materialLink(c *gin.Context) {
	link, err := s.Attendance.MaterialLink(c.Request.Context(), identity.FromContext(c), c.Query("session_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"download_url": link.URL,
		"expires_in":   link.ExpiresIn,
		"session_id":   link.Session.SessionID,
		"session_date": link.Session.SessionDate,
		"class_name":   link.ClassName,
	})
}

func (s *Server) analytics(c *gin.Context) {
	ctx := c.Request.Context()
	p, ok := s.authorize(c, identity.RoleProfessor, "only professors can view analytics")
	if !ok {
		return
	}

	if sessionID := c.Query("session_id"); sessionID != "" {
		expected := 0
		if v := c.Query("expected"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				badRequest(c, "expected must be a non-negative integer")
				return
			}
			expected = n
		}
		rep, err := s.Analytics.ForSession(ctx, p, sessionID, expected)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
		return
	}
	if classID := c.Query("class_id"); classID != "" {
		rep, err := s.Analytics.ForClass(ctx, p, classID)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
		return
	}
	sum, err := s.Analytics.Summary(ctx, p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": sum, "count": len(sum)})
}
