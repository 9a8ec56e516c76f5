package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/identity"
	"github.com/justestif/go-shorts-feed/internal/session"
)

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	svc Services
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc Services) *Handlers {
	return &Handlers{svc: svc}
}

// Request bodies.
type (
	HeartbeatRequest struct {
		SessionID    string    `json:"sessionId"`
		LastActivity time.Time `json:"lastActivity"`
	}

	LogoutRequest struct {
		SessionID string `json:"sessionId"`
	}

	WatchedRequest struct {
		VideoID  string `json:"videoId"`
		Duration int    `json:"duration"`
	}

	LastVideoRequest struct {
		VideoID string `json:"videoId"`
	}

	OrderRequest struct {
		Order []string `json:"order"`
	}

	PruneRequest struct {
		// ExistingVideos defaults to the server catalog when omitted.
		ExistingVideos []string `json:"existingVideos"`
	}
)

// Response bodies.
type (
	LoginResponse struct {
		envelope
		SessionID string             `json:"sessionId"`
		User      *domain.UserRecord `json:"user"`
	}

	MeResponse struct {
		envelope
		User  *domain.UserRecord `json:"user"`
		Stats session.Stats      `json:"stats"`
	}

	ReactionResponse struct {
		envelope
		domain.ReactionResult
	}

	ProgressResponse struct {
		envelope
		domain.WatchState
	}

	CompleteCycleResponse struct {
		envelope
		domain.WatchState
		Completed bool `json:"completed"`
	}

	CatalogResponse struct {
		envelope
		Videos []catalog.Entry `json:"videos"`
	}
)

// caller returns the identity set by authenticate.
func caller(r *http.Request) identity.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, success)
}

// Login opens a session for the caller (POST /session/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	sessionID, rec, err := h.svc.Sessions.Login(r.Context(), id.UserID, id.Profile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setSessionCookie(w, sessionID)
	writeJSON(w, http.StatusOK, LoginResponse{envelope: success, SessionID: sessionID, User: rec})
}

// Heartbeat records activity on a session (POST /session/heartbeat).
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID, err := sessionIDFrom(r, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Sessions.Heartbeat(r.Context(), caller(r).UserID, sessionID, req.LastActivity); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

// Logout closes a session (POST /session/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID, err := sessionIDFrom(r, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Sessions.Logout(r.Context(), caller(r).UserID, sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, success)
}

// Me returns the caller's full record and session stats (GET /me).
// A caller who never logged in gets an empty record rather than an error.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	rec, err := h.svc.Store.Get(r.Context(), id.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		rec, err = domain.NewUserRecord(id.UserID), nil
		rec.Profile = id.Profile
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		envelope: success,
		User:     rec,
		Stats:    session.StatsOf(rec, time.Now().UTC()),
	})
}

// Reactions returns the caller's reaction sets (GET /reactions).
func (h *Handlers) Reactions(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reactions.Reactions(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionResponse{envelope: success, ReactionResult: res})
}

func (h *Handlers) react(action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.svc.Reactions.Do(r.Context(), caller(r).UserID, action, chi.URLParam(r, "videoID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ReactionResponse{envelope: success, ReactionResult: res})
	}
}

// Like handles PUT /reactions/{videoID}/like.
func (h *Handlers) Like(w http.ResponseWriter, r *http.Request) { h.react(domain.ActionLike)(w, r) }

// Unlike handles DELETE /reactions/{videoID}/like.
func (h *Handlers) Unlike(w http.ResponseWriter, r *http.Request) { h.react(domain.ActionUnlike)(w, r) }

// Dislike handles PUT /reactions/{videoID}/dislike.
func (h *Handlers) Dislike(w http.ResponseWriter, r *http.Request) {
	h.react(domain.ActionDislike)(w, r)
}

// Undislike handles DELETE /reactions/{videoID}/dislike.
func (h *Handlers) Undislike(w http.ResponseWriter, r *http.Request) {
	h.react(domain.ActionUndislike)(w, r)
}

// ToggleFavorite handles POST /reactions/{videoID}/favorite.
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.react(domain.ActionToggleFavorite)(w, r)
}

// Favorite handles PUT /reactions/{videoID}/favorite.
func (h *Handlers) Favorite(w http.ResponseWriter, r *http.Request) {
	h.react(domain.ActionFavorite)(w, r)
}

// Unfavorite handles DELETE /reactions/{videoID}/favorite.
func (h *Handlers) Unfavorite(w http.ResponseWriter, r *http.Request) {
	h.react(domain.ActionUnfavorite)(w, r)
}

func (h *Handlers) writeState(w http.ResponseWriter, r *http.Request, ws domain.WatchState, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{envelope: success, WatchState: ws})
}

// Progress returns the full watch state (GET /progress).
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.Progress.State(r.Context(), caller(r).UserID)
	h.writeState(w, r, ws, err)
}

// MarkWatched handles POST /progress/watched.
func (h *Handlers) MarkWatched(w http.ResponseWriter, r *http.Request) {
	var req WatchedRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.svc.Progress.MarkWatched(r.Context(), caller(r).UserID, req.VideoID, req.Duration)
	h.writeState(w, r, ws, err)
}

// UpdateLastVideo handles PUT /progress/last-video.
func (h *Handlers) UpdateLastVideo(w http.ResponseWriter, r *http.Request) {
	var req LastVideoRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.svc.Progress.UpdateLastVideo(r.Context(), caller(r).UserID, req.VideoID)
	h.writeState(w, r, ws, err)
}

// SaveSessionOrder handles PUT /progress/order.
func (h *Handlers) SaveSessionOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.svc.Progress.SaveSessionOrder(r.Context(), caller(r).UserID, req.Order)
	h.writeState(w, r, ws, err)
}

// ResetProgress handles POST /progress/reset.
func (h *Handlers) ResetProgress(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.Progress.ResetProgress(r.Context(), caller(r).UserID)
	h.writeState(w, r, ws, err)
}

// PruneDeleted handles POST /progress/prune.
func (h *Handlers) PruneDeleted(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	existing := req.ExistingVideos
	if existing == nil {
		entries, err := h.svc.Catalog.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		existing = catalog.IDs(entries)
	}
	ws, err := h.svc.Progress.PruneDeleted(r.Context(), caller(r).UserID, existing)
	h.writeState(w, r, ws, err)
}

// CompleteCycle starts a new cycle if the caller has watched the whole catalog
// (POST /progress/complete-cycle).
func (h *Handlers) CompleteCycle(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws, completed, err := h.svc.Progress.CompleteCycleIfExhausted(r.Context(), caller(r).UserID, catalog.IDs(entries))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteCycleResponse{envelope: success, WatchState: ws, Completed: completed})
}

// Catalog lists the videos (GET /catalog).
func (h *Handlers) Catalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{envelope: success, Videos: entries})
}
