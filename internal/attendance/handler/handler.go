// Package handler exposes the attendance operations over HTTP.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bioattend/internal/ledger"
	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/platform/httputil"
	"bioattend/pkg/requestcontext"
)

// Ledger defines the attendance operations the handler depends on.
type Ledger interface {
	ClockIn(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, probe []byte) (*ledger.Record, error)
	ClockOut(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, probe []byte) (*ledger.Record, error)
	GetStatus(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID) (*ledger.Record, error)
	ListSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*ledger.Record, error)
}

// Override defines the manual-override operations the handler depends on.
type Override interface {
	Request(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, reason string) error
	Approve(ctx context.Context, approver id.UserID, studentID id.StudentID, scheduleID id.ScheduleID, reason string) (*ledger.Record, error)
}

// Handler handles the attendance endpoints.
type Handler struct {
	ledger   Ledger
	override Override
	logger   *slog.Logger
}

// New creates a new attendance Handler.
func New(l Ledger, o Override, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:   l,
		override: o,
		logger:   logger,
	}
}

// Register registers the attendance routes with an authenticated chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/attendance/clock-in", h.handleClockIn)
	r.Post("/api/attendance/clock-out", h.handleClockOut)
	r.Get("/api/attendance/status/{scheduleID}", h.handleStatus)
	r.Get("/api/attendance/schedule/{scheduleID}", h.handleListSchedule)
	r.Post("/api/attendance/manual-request", h.handleManualRequest)
	r.Post("/api/attendance/manual-approve", h.handleManualApprove)
}

type clockRequest struct {
	ScheduleID string `json:"session_id"`
	ProbeImage string `json:"probe_image"`
}

type clockInResponse struct {
	Success         bool     `json:"success"`
	RecordID        string   `json:"record_id"`
	Status          string   `json:"status"`
	CheckInTime     string   `json:"check_in_time"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Message         string   `json:"message"`
}

type clockOutResponse struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	Message      string `json:"message"`
}

type statusResponse struct {
	HasAttendance bool       `json:"has_attendance"`
	Record        *recordDTO `json:"record,omitempty"`
}

type recordDTO struct {
	RecordID         string   `json:"record_id"`
	StudentID        string   `json:"student_id"`
	ScheduleID       string   `json:"session_id"`
	Date             string   `json:"date"`
	Status           string   `json:"status"`
	State            string   `json:"state"`
	CheckInTime      string   `json:"check_in_time"`
	CheckOutTime     string   `json:"check_out_time,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	IsManualOverride bool     `json:"is_manual_override"`
}

type manualRequestRequest struct {
	ScheduleID string `json:"session_id"`
	Reason     string `json:"reason,omitempty"`
}

type manualApproveRequest struct {
	ScheduleID string `json:"session_id"`
	StudentID  string `json:"identity_id"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) handleClockIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	studentID, ok := h.requireStudent(w, r)
	if !ok {
		return
	}

	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	scheduleID, err := id.ParseScheduleID(req.ScheduleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	probe, err := decodeProbe(req.ProbeImage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.ledger.ClockIn(ctx, studentID, scheduleID, probe)
	if err != nil {
		h.writeLedgerError(ctx, w, "clock-in failed", err)
		return
	}

	// New PRESENT records report 201; a late arrival still succeeds but
	// reports 200 so clients can distinguish the two without parsing status.
	code := http.StatusCreated
	message := "Clocked in successfully"
	if record.Status == ledger.StatusLate {
		code = http.StatusOK
		message = "Clocked in late"
	}
	httputil.WriteJSON(w, code, clockInResponse{
		Success:         true,
		RecordID:        record.ID.String(),
		Status:          string(record.Status),
		CheckInTime:     record.CheckInTime.Format("15:04:05"),
		ConfidenceScore: record.ConfidenceScore,
		Message:         message,
	})
}

func (h *Handler) handleClockOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	studentID, ok := h.requireStudent(w, r)
	if !ok {
		return
	}

	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	scheduleID, err := id.ParseScheduleID(req.ScheduleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	probe, err := decodeProbe(req.ProbeImage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.ledger.ClockOut(ctx, studentID, scheduleID, probe)
	if err != nil {
		h.writeLedgerError(ctx, w, "clock-out failed", err)
		return
	}

	resp := clockOutResponse{
		Success: true,
		Status:  string(record.Status),
		Message: "Clocked out successfully",
	}
	if record.CheckOutTime != nil {
		resp.CheckOutTime = record.CheckOutTime.Format("15:04:05")
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	studentID, ok := h.requireStudent(w, r)
	if !ok {
		return
	}
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.ledger.GetStatus(ctx, studentID, scheduleID)
	if err != nil {
		h.writeLedgerError(ctx, w, "status read failed", err)
		return
	}

	resp := statusResponse{HasAttendance: record != nil}
	if record != nil {
		resp.Record = toRecordDTO(record)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleListSchedule returns every record for a schedule today. Supervisor
// view; students get their own state through the status endpoint instead.
func (h *Handler) handleListSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireSupervisor(w, r) {
		return
	}
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.ledger.ListSchedule(ctx, scheduleID)
	if err != nil {
		h.writeLedgerError(ctx, w, "schedule listing failed", err)
		return
	}

	dtos := make([]*recordDTO, 0, len(records))
	for _, record := range records {
		dtos = append(dtos, toRecordDTO(record))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": scheduleID.String(),
		"records":    dtos,
	})
}

func (h *Handler) handleManualRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	studentID, ok := h.requireStudent(w, r)
	if !ok {
		return
	}

	var req manualRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	scheduleID, err := id.ParseScheduleID(req.ScheduleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.override.Request(ctx, studentID, scheduleID, req.Reason); err != nil {
		h.writeLedgerError(ctx, w, "manual request failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Manual clock-in request sent",
	})
}

func (h *Handler) handleManualApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireSupervisor(w, r) {
		return
	}
	approver := requestcontext.UserID(ctx)

	var req manualApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	scheduleID, err := id.ParseScheduleID(req.ScheduleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	studentID, err := id.ParseStudentID(req.StudentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.override.Approve(ctx, approver, studentID, scheduleID, req.Reason)
	if err != nil {
		h.writeLedgerError(ctx, w, "manual approval failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"record":  toRecordDTO(record),
	})
}

// requireStudent resolves the acting student from the authenticated context.
func (h *Handler) requireStudent(w http.ResponseWriter, r *http.Request) (id.StudentID, bool) {
	ctx := r.Context()
	studentID := requestcontext.StudentID(ctx)
	if studentID.IsNil() {
		h.logger.WarnContext(ctx, "request without student identity",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodePermissionDenied, "student identity required"))
		return id.StudentID{}, false
	}
	return studentID, true
}

// requireSupervisor gates faculty/admin-only operations.
func (h *Handler) requireSupervisor(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	role := requestcontext.CallerRole(ctx)
	if role != requestcontext.RoleFaculty && role != requestcontext.RoleAdmin {
		h.logger.WarnContext(ctx, "supervisor endpoint denied",
			"request_id", requestcontext.RequestID(ctx),
			"role", string(role),
			"path", r.URL.Path,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodePermissionDenied, "faculty or admin role required"))
		return false
	}
	return true
}

func (h *Handler) writeLedgerError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
		return
	}
	h.logger.InfoContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(domainErr.Code),
	)
	httputil.WriteError(w, err)
}

// decodeProbe accepts either plain base64 or a data-URL
// ("data:image/jpeg;base64,...") probe image.
func decodeProbe(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "probe_image is required")
	}
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	probe, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "probe_image is not valid base64")
	}
	return probe, nil
}

func toRecordDTO(record *ledger.Record) *recordDTO {
	dto := &recordDTO{
		RecordID:         record.ID.String(),
		StudentID:        record.StudentID.String(),
		ScheduleID:       record.ScheduleID.String(),
		Date:             record.Date.String(),
		Status:           string(record.Status),
		State:            string(record.State()),
		CheckInTime:      record.CheckInTime.Format("15:04:05"),
		ConfidenceScore:  record.ConfidenceScore,
		IsManualOverride: record.IsManualOverride,
	}
	if record.CheckOutTime != nil {
		dto.CheckOutTime = record.CheckOutTime.Format("15:04:05")
	}
	return dto
}
