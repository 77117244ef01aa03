package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/engine"
	"github.com/Ca3de/CRET-Scan/internal/hub"
	"github.com/Ca3de/CRET-Scan/internal/importer"
	"github.com/Ca3de/CRET-Scan/internal/store"
	"github.com/Ca3de/CRET-Scan/internal/timeutil"

	"github.com/google/uuid"
)

const maxImportBytes = 10 << 20

type Handler struct {
	store   store.TrackingStore
	engine  *engine.Engine
	sweeper *engine.Sweeper
	hub     *hub.Hub
	now     func() time.Time
}

type Options struct {
	Hub *hub.Hub
	Now func() time.Time
}

func NewHandler(st store.TrackingStore, eng *engine.Engine, sweeper *engine.Sweeper, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		store:   st,
		engine:  eng,
		sweeper: sweeper,
		hub:     options.Hub,
		now:     now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/scans", h.handleScan)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/active", h.handleActiveSessions)
	mux.HandleFunc("/api/sessions/", h.handleSessionByID)
	mux.HandleFunc("/api/associates", h.handleAssociates)
	mux.HandleFunc("/api/associates/import", h.handleImport)
	mux.HandleFunc("/api/associates/", h.handleAssociateSessions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type scanRequest struct {
	Identifier     string `json:"identifier"`
	Name           string `json:"name"`
	ConfirmSameDay bool   `json:"confirm_same_day"`
	OverrideReason string `json:"override_reason"`
	Cancel         bool   `json:"cancel"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req scanRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	scansTotal.Add(1)
	result, err := h.engine.Scan(r.Context(), req.Identifier, operator, &requestPrompter{req: req})
	if err != nil {
		var pending *promptRequired
		if errors.As(err, &pending) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:  responseError{Code: pending.code, Message: pending.message},
				Prompt: pending.context,
			})
			return
		}
		status, code, msg := mapScanError(err)
		writeError(w, status, code, msg)
		return
	}

	if result.State == engine.StateCommitted {
		scansCommitted.Add(1)
		if result.Action == engine.ActionEnd {
			log.Printf("session closed associate=%s hours=%s", result.Associate.Login, timeutil.FormatHours(result.HoursUsed))
		}
		h.publishScan(result)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) publishScan(result engine.Result) {
	if h.hub == nil {
		return
	}
	eventType := hub.EventSessionStarted
	if result.Action == engine.ActionEnd {
		eventType = hub.EventSessionEnded
	}
	h.hub.Publish(eventType, result, h.now())
}

func (h *Handler) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Stale sessions are reaped before every read of the active list.
	swept, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	for _, failure := range swept.Failures {
		log.Printf("sweep close error session=%s: %v", failure.SessionID, failure.Err)
	}
	if swept.Closed > 0 && h.hub != nil {
		h.hub.Publish(hub.EventSessionsSwept, swept, h.now())
	}

	sessions, err := h.store.ListActiveSessions(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"swept":    swept.Closed,
		"sessions": sessions,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.store.ListSessions(r.Context(), limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type editSessionRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	if !isValidUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		h.handleEditSession(w, r, sessionID)
	case http.MethodDelete:
		h.handleDeleteSession(w, r, sessionID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEditSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, ok := requireOperator(w, r); !ok {
		return
	}

	var req editSessionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "start_time must be an RFC 3339 timestamp")
		return
	}
	var endTime *time.Time
	if trimmed := strings.TrimSpace(req.EndTime); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_time must be an RFC 3339 timestamp")
			return
		}
		endTime = &parsed
	}

	session, err := h.store.EditSession(r.Context(), sessionID, startTime, endTime)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, ok := requireOperator(w, r); !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAssociates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	associates, err := h.store.ListAssociates(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"associates": associates})
}

func (h *Handler) handleAssociateSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/associates/")
	associateID, found := strings.CutSuffix(rest, "/sessions")
	if !found || associateID == "" || strings.Contains(associateID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	if !isValidUUID(associateID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "associate id must be a UUID")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.store.ListAssociateSessions(r.Context(), associateID, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireOperator(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	rows, err := importer.Parse(file)
	if err != nil {
		if errors.Is(err, importer.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "empty_roster", "workbook contains no roster rows")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_workbook", "could not parse roster workbook")
		return
	}

	imported, err := h.store.BulkUpsertAssociates(r.Context(), rows)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imported": imported})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapScanError(err error) (int, string, string) {
	switch {
	case errors.Is(err, engine.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input", "scan input must not be empty"
	case errors.Is(err, engine.ErrNameRequired):
		return http.StatusBadRequest, "invalid_request", "name must not be empty"
	case errors.Is(err, engine.ErrOverrideReasonRequired):
		return http.StatusBadRequest, "override_reason_required", "a non-empty override reason is required"
	case errors.Is(err, store.ErrActiveSessionExists):
		return http.StatusConflict, "active_session_exists", "associate already has an active session"
	default:
		return mapError(err)
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAssociateNotFound):
		return http.StatusNotFound, "associate_not_found", "associate not found"
	case errors.Is(err, store.ErrAmbiguousIdentifier):
		return http.StatusConflict, "ambiguous_identifier", "identifier matches more than one associate"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrNoActiveSession):
		return http.StatusConflict, "no_active_session", "no active session"
	case errors.Is(err, store.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range", "end time must be after start time"
	default:
		return http.StatusInternalServerError, "store_unavailable", err.Error()
	}
}

type errorResponse struct {
	Error  responseError          `json:"error"`
	Prompt map[string]interface{} `json:"prompt,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
