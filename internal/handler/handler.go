// Package handler exposes the scan gateway over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"messgate/internal/attendance"
	"messgate/internal/auth"
	"messgate/internal/meal"
	"messgate/internal/queue"
)

const dateLayout = "2006-01-02"

// Service is the attendance use-case surface the handlers call.
type Service interface {
	Scan(ctx context.Context, req attendance.ScanRequest) (attendance.ScanResult, error)
	IssueCredential(ctx context.Context, subjectID string, hostelID int64) (attendance.IssuedCredential, error)
	MealAttendanceCount(ctx context.Context, q attendance.CountQuery) (int64, error)
	Hostels(ctx context.Context) ([]attendance.Hostel, error)
	Today() time.Time
}

// Tallies reads the live counters kept by the worker.
type Tallies interface {
	Snapshot(ctx context.Context, day string, hostelID int64) (map[string]int64, error)
}

var staffRoles = []auth.Role{auth.RoleMessStaff, auth.RoleAdmin, auth.RoleSuperAdmin}

type Handler struct {
	svc     Service
	events  queue.Queue // nil disables publishing
	tallies Tallies     // nil disables the live endpoint
	log     *slog.Logger
}

func New(svc Service, events queue.Queue, tallies Tallies, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, events: events, tallies: tallies, log: log}
}

// Register mounts the /v1 routes behind authn. Middleware in after runs once
// the principal is known, so it can key on the caller.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc, after ...gin.HandlerFunc) {
	v1 := r.Group("/v1", append([]gin.HandlerFunc{authn}, after...)...)
	v1.POST("/scans", auth.RequireRole(staffRoles...), h.Scan)
	v1.POST("/credentials", auth.RequireRole(auth.RoleStudent), h.IssueCredential)
	v1.GET("/meals/count", auth.RequireRole(staffRoles...), h.MealCount)
	v1.GET("/meals/live", auth.RequireRole(staffRoles...), h.LiveTallies)
	v1.GET("/hostels", h.Hostels)
}

// ---------- Scan ----------

type scanRequest struct {
	QRCode   string  `json:"qr_code"`
	HostelID flexInt `json:"hostel_id"`
}

type scanUser struct {
	Name        string `json:"name"`
	AdmissionNo string `json:"admission_no"`
}

type scanResponse struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Hostel   int64    `json:"hostel"`
	User     scanUser `json:"user"`
	MealType string   `json:"meal_type"`
	MealID   string   `json:"meal_id"`
}

// Scan verifies a presented credential and logs the meal.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	claims, _ := auth.FromContext(c)

	res, err := h.svc.Scan(c.Request.Context(), attendance.ScanRequest{
		Credential:      req.QRCode,
		ClaimedHostelID: int64(req.HostelID),
		ConfirmedBy:     claims.Subject,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	h.publish(c.Request.Context(), res)

	c.JSON(http.StatusOK, scanResponse{
		Success:  true,
		Message:  "Meal logged successfully",
		Hostel:   res.HostelID,
		User:     scanUser{Name: res.DisplayName, AdmissionNo: res.AdmissionNumber},
		MealType: string(res.Category),
		MealID:   res.MealRecordID,
	})
}

// publish is best effort; the log row is already committed.
func (h *Handler) publish(ctx context.Context, res attendance.ScanResult) {
	if h.events == nil {
		return
	}
	msg, err := queue.NewMealLogged(queue.MealLogged{
		MealRecordID: res.MealRecordID,
		SubjectID:    res.SubjectID,
		HostelID:     res.HostelID,
		Category:     string(res.Category),
		Day:          res.Day.Format(dateLayout),
		LoggedAt:     res.LoggedAt,
	})
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		err = h.events.Publish(ctx, msg)
	}
	if err != nil {
		h.log.Warn("queue publish failed",
			slog.String("meal_record_id", res.MealRecordID),
			slog.Any("error", err),
		)
	}
}

// ---------- Credentials ----------

type credentialRequest struct {
	HostelID flexInt `json:"hostel_id"`
}

// IssueCredential returns a fresh QR token for the calling student.
func (h *Handler) IssueCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	claims, _ := auth.FromContext(c)

	issued, err := h.svc.IssueCredential(c.Request.Context(), claims.Subject, int64(req.HostelID))
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{
		"success":   true,
		"qr_code":   issued.Token,
		"issued_at": issued.IssuedAt,
	}
	if issued.ExpiresAt != nil {
		body["expires_at"] = *issued.ExpiresAt
	}
	c.JSON(http.StatusOK, body)
}

// ---------- Counts ----------

// MealCount answers GET /v1/meals/count?date=&meal_type=&hostel_id=.
func (h *Handler) MealCount(c *gin.Context) {
	loc := h.svc.Today().Location()
	rawDate := strings.TrimSpace(c.Query("date"))
	mealType := strings.TrimSpace(c.Query("meal_type"))
	if rawDate == "" || mealType == "" {
		h.writeError(c, attendance.KindInvalidRequest, "Incomplete data entered")
		return
	}
	day, err := time.ParseInLocation(dateLayout, rawDate, loc)
	if err != nil {
		h.writeError(c, attendance.KindInvalidRequest, "date must be YYYY-MM-DD")
		return
	}
	hostelID, ok := optionalHostel(c)
	if !ok {
		h.writeError(c, attendance.KindInvalidRequest, "Invalid hostel ID format")
		return
	}

	n, err := h.svc.MealAttendanceCount(c.Request.Context(), attendance.CountQuery{
		Day:      day,
		Category: mealType,
		HostelID: hostelID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// LiveTallies returns today's running per-category counts for a hostel.
func (h *Handler) LiveTallies(c *gin.Context) {
	if h.tallies == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "live tallies are not configured"})
		return
	}
	hostelID, ok := optionalHostel(c)
	if !ok || hostelID == 0 {
		h.writeError(c, attendance.KindInvalidRequest, "Invalid hostel ID format")
		return
	}
	day := h.svc.Today().Format(dateLayout)
	counts, err := h.tallies.Snapshot(c.Request.Context(), day, hostelID)
	if err != nil {
		h.log.Error("tally snapshot failed", slog.Int64("hostel_id", hostelID), slog.Any("error", err))
		h.writeError(c, attendance.KindPersistence, "Failed to read live tallies")
		return
	}
	out := make(map[string]int64, len(meal.Categories))
	for _, cat := range meal.Categories {
		out[string(cat)] = counts[string(cat)]
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hostel_id": hostelID, "date": day, "tallies": out})
}

// ---------- Hostels ----------

func (h *Handler) Hostels(c *gin.Context) {
	hostels, err := h.svc.Hostels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hostels": hostels})
}

// ---------- helpers ----------

func optionalHostel(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.Query("hostel_id"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	if errors.Is(err, errHostelFormat) {
		h.writeError(c, attendance.KindInvalidRequest, "Invalid hostel ID format")
		return
	}
	h.writeError(c, attendance.KindInvalidRequest, "malformed request body")
}

func (h *Handler) fail(c *gin.Context, err error) {
	var e *attendance.Error
	if !errors.As(err, &e) {
		h.log.Error("unclassified service error", slog.String("path", c.FullPath()), slog.Any("error", err))
		h.writeError(c, attendance.KindPersistence, "Server error")
		return
	}
	_ = c.Error(err)
	h.writeError(c, e.Kind, e.Message)
}

func (h *Handler) writeError(c *gin.Context, kind attendance.Kind, message string) {
	c.JSON(kind.HTTPStatus(), gin.H{"success": false, "error": kind, "message": message})
}
