package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"volunteerattendance/internal/attendance"
	"volunteerattendance/internal/auth"
	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/httpmiddleware"
	"volunteerattendance/internal/record"
)

// Handler exposes the attendance service over HTTP.
type Handler struct {
	svc        *attendance.Service
	signingKey string
	issuer     string
	limiter    *httpmiddleware.SimpleTokenBucket
}

// NewHandler creates a handler. limiter may be nil.
func NewHandler(svc *attendance.Service, signingKey, issuer string, limiter *httpmiddleware.SimpleTokenBucket) *Handler {
	return &Handler{svc: svc, signingKey: signingKey, issuer: issuer, limiter: limiter}
}

// Register mounts the API and the live dashboard endpoint on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.Any("/live/*path", gin.WrapH(h.LiveHandler("/v1/live")))

	api := v1.Group("/events/:eventID", auth.Middleware(h.signingKey, h.issuer))
	if h.limiter != nil {
		api.Use(h.limiter.GinMiddleware())
	}
	staff := auth.RequireRole(auth.RoleSupervisor, auth.RoleScheduler)

	api.POST("/check-in", h.attempt(record.KindCheckIn))
	api.POST("/check-out", h.attempt(record.KindCheckOut))
	api.GET("/counters", h.counters)
	api.GET("/attendance/:volunteerID", h.record)
	api.GET("/attendance", auth.RequireRole(auth.RoleSupervisor), h.records)
	api.POST("/tokens", staff, h.publishTokens)
	api.POST("/sweep", staff, h.sweep)
	api.POST("/resync", staff, h.resync)
}

type attemptRequest struct {
	VolunteerID string          `json:"volunteer_id"`
	Token       string          `json:"token"`
	RequestID   string          `json:"request_id"`
	Location    *geofence.Point `json:"location" binding:"required"`
	Timestamp   *time.Time      `json:"timestamp"`
	Override    *struct {
		RequestID string `json:"request_id" binding:"required"`
	} `json:"override"`
}

func (h *Handler) attempt(kind record.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body attemptRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)

		volunteerID := body.VolunteerID
		if claims.Role == auth.RoleVolunteer {
			if volunteerID != "" && volunteerID != claims.Subject {
				c.JSON(http.StatusForbidden, gin.H{"error": "volunteer mismatch"})
				return
			}
			volunteerID = claims.Subject
		}
		if volunteerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volunteer_id required"})
			return
		}

		req := attendance.Request{
			EventID:     c.Param("eventID"),
			VolunteerID: volunteerID,
			Token:       body.Token,
			RequestID:   body.RequestID,
			Location:    *body.Location,
		}
		if body.Timestamp != nil {
			req.Timestamp = *body.Timestamp
		}
		if body.Override != nil {
			req.Override = &attendance.Override{
				RequestID:    body.Override.RequestID,
				SupervisorID: claims.Subject,
				Authorized:   claims.IsSupervisor(),
			}
		}

		var (
			rec     record.Record
			created bool
			err     error
		)
		if kind == record.KindCheckOut {
			rec, created, err = h.svc.CheckOut(c.Request.Context(), req)
		} else {
			rec, created, err = h.svc.CheckIn(c.Request.Context(), req)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"created": created, "record": rec})
	}
}

func (h *Handler) counters(c *gin.Context) {
	eventID := c.Param("eventID")
	counters, seq, err := h.svc.Counters(c.Request.Context(), eventID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "seq": seq, "counters": counters})
}

func (h *Handler) record(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	volunteerID := c.Param("volunteerID")
	if claims.Role == auth.RoleVolunteer && claims.Subject != volunteerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "volunteer mismatch"})
		return
	}
	rec, err := h.svc.Record(c.Request.Context(), c.Param("eventID"), volunteerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) records(c *gin.Context) {
	recs, err := h.svc.Records(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) publishTokens(c *gin.Context) {
	pair, anchor, err := h.svc.PublishTokens(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_id":       anchor.EventID,
		"anchor_version": anchor.Version,
		"check_in":       pair.CheckIn,
		"check_out":      pair.CheckOut,
	})
}

func (h *Handler) sweep(c *gin.Context) {
	res, err := h.svc.RunAbsenteeSweep(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		if res.Failed > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "result": res})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) resync(c *gin.Context) {
	eventID := c.Param("eventID")
	counters, err := h.svc.Resync(c.Request.Context(), eventID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "counters": counters})
}
