package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/repository"
)

// Tasks starts, cancels and reports background runs.
type Tasks interface {
	Start(req Request) (*Task, error)
	Go(fn func(ctx context.Context)) error
	Cancel(ctx context.Context, userID int64) (bool, error)
	Status(ctx context.Context, userID int64) (TaskStatus, error)
}

// DownloadRunner executes a download run.
type DownloadRunner interface {
	Run(ctx context.Context, req DownloadRequest) DownloadResult
}

// Sessions releases pooled connections.
type Sessions interface {
	Release(userID int64)
	Logout(ctx context.Context, userID int64) error
}

// SessionStore persists imported login sessions.
type SessionStore interface {
	Save(ctx context.Context, userID int64, session, format string) error
}

// SettingsEditor reads and replaces per-user settings.
type SettingsEditor interface {
	Get(ctx context.Context, userID int64) (models.Settings, error)
	Save(ctx context.Context, s models.Settings) error
}

// Users manages user rows and premium status.
type Users interface {
	Ensure(ctx context.Context, userID int64) error
	SetPremium(ctx context.Context, userID int64, until time.Time) error
}

// StatsProvider returns aggregate usage statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) (*repository.Stats, error)
}

// JobHistory lists recent jobs of a user.
type JobHistory interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.ExtractionJob, error)
}

// HandlerDeps are the collaborators of the http handler.
type HandlerDeps struct {
	Tasks     Tasks
	Limits    *Limits
	Downloads DownloadRunner
	Pool      Sessions
	Sessions  SessionStore
	Settings  SettingsEditor
	Users     Users
	Jobs      JobHistory
	Stats     StatsProvider
}

// Handler handles HTTP requests of the extraction service.
type Handler struct {
	HandlerDeps
	log *logger.Logger
}

// NewHandler creates a new handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{HandlerDeps: deps, log: logger.Get().Component("http")}
}

// StartExtraction handles POST /extractions
func (h *Handler) StartExtraction(w http.ResponseWriter, r *http.Request) {
	var body ExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	maxBatch, err := h.Limits.Resolve(r.Context(), body.UserID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", body.UserID).Msg("tier lookup failed, using free limit")
	}

	req, err := body.Validate(maxBatch)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.Tasks.Start(req); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, StartResponse{Status: "started", UserID: req.UserID, Total: req.Count})
}

// CancelExtraction handles DELETE /extractions/{user_id}
func (h *Handler) CancelExtraction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	cancelled, err := h.Tasks.Cancel(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		respondError(w, http.StatusNotFound, "no active extraction")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "cancellation requested",
	})
}

// Status handles GET /extractions/{user_id}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	st, err := h.Tasks.Status(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !st.Running {
		respondJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}

	resp := map[string]any{
		"status":     "running",
		"started_at": st.StartedAt,
		"total":      st.Total,
		"processed":  0,
	}
	if st.Job != nil {
		resp["job_id"] = st.Job.ID.String()
		resp["processed"] = st.Job.Processed
		resp["failed"] = st.Job.Failed
	}
	respondJSON(w, http.StatusOK, resp)
}

// StartDownload handles POST /downloads
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var body DownloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	req, err := body.Validate()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.Tasks.Go(func(ctx context.Context) {
		h.Downloads.Run(ctx, req)
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, StartResponse{Status: "started", UserID: req.UserID})
}

// ReleaseSession handles DELETE /sessions/{user_id}. With ?logout=true the
// stored credential is deleted as well.
func (h *Handler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if logout, _ := strconv.ParseBool(r.URL.Query().Get("logout")); logout {
		if err := h.Pool.Logout(r.Context(), userID); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
		return
	}

	h.Pool.Release(userID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "session released"})
}

// GetStats handles GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		respondError(w, http.StatusServiceUnavailable, "stats are not available")
		return
	}
	stats, err := h.Stats.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ImportSession handles PUT /sessions/{user_id}. The pooled client is
// released so the next run logs in with the new session.
func (h *Handler) ImportSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var body SessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := body.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Users.Ensure(r.Context(), userID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Sessions.Save(r.Context(), userID, body.Session, body.Format); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Pool.Release(userID)

	h.log.Info().Int64("user_id", userID).Str("format", body.Format).Msg("session imported")
	respondJSON(w, http.StatusOK, map[string]string{"message": "session saved"})
}

// GetSettings handles GET /settings/{user_id}
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	s, err := h.Settings.Get(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /settings/{user_id}. The body replaces the
// stored settings; running jobs keep the snapshot they started with.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var s models.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	s.UserID = userID

	if err := h.Users.Ensure(r.Context(), userID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Settings.Save(r.Context(), s); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// SetPremium handles PUT /users/{user_id}/premium
func (h *Handler) SetPremium(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var body PremiumBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	until, err := body.Expiry(time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Users.SetPremium(r.Context(), userID, until); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "premium_until": until})
}

// ListJobs handles GET /jobs/{user_id}?limit=n
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	jobs, err := h.Jobs.ListByUser(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, ErrUserRequired.Error())
		return 0, false
	}
	return id, true
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
