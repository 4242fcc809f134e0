package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/host"
	"github.com/italolelis/downloadables/internal/logctx"
	"github.com/italolelis/downloadables/internal/storage"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxBodySize       = 4 * 1024
	streamWriteWait   = 5 * time.Second
)

// Controller is the host surface the API drives.
type Controller interface {
	Status() host.Status
	Do(ctx context.Context, fn func(*downloadables.Manager) error) error
	Reload(ctx context.Context) error
	Watch(ctx context.Context) <-chan host.Status
}

type priorityRequest struct {
	Priority *int `json:"priority"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadablesHandler struct {
	username string
	password string
	ctrl     Controller
	events   storage.EventReadRepository
}

// NewDownloadablesHandler creates the control and status API. events may be
// nil when the journal is disabled. Mutating routes require basic auth when
// username is set.
func NewDownloadablesHandler(username, password string, ctrl Controller, events storage.EventReadRepository) *DownloadablesHandler {
	return &DownloadablesHandler{
		username: username,
		password: password,
		ctrl:     ctrl,
		events:   events,
	}
}

func (h *DownloadablesHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", h.HandleStatus)
	r.Get("/groups", h.HandleListGroups)
	r.Get("/groups/stream", h.HandleStream)
	r.Get("/groups/{id}", h.HandleGetGroup)
	r.Get("/groups/{id}/events", h.HandleGroupEvents)
	r.Get("/events", h.HandleRecentEvents)

	r.Group(func(r chi.Router) {
		r.Use(h.basicAuthMiddleware)

		r.Post("/groups/{id}/handle", h.HandleCreateHandle)
		r.Post("/groups/{id}/retry", h.HandleRetry)
		r.Put("/groups/{id}/priority", h.HandleSetPriority)
		r.Put("/downloader", h.HandleSetDownloader)
		r.Put("/downloader/automatic", h.HandleSetAutomatic)
		r.Post("/reload", h.HandleReload)
		r.Post("/reset", h.HandleReset)
	})

	return r
}

func (h *DownloadablesHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.ctrl.Status())
}

func (h *DownloadablesHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.ctrl.Status().Groups
	if groups == nil {
		groups = []downloadables.GroupStatus{}
	}

	writeJSON(w, r, http.StatusOK, groups)
}

func (h *DownloadablesHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, g := range h.ctrl.Status().Groups {
		if g.ID == id {
			writeJSON(w, r, http.StatusOK, g)

			return
		}
	}

	writeError(w, r, downloadables.ErrUnknownGroup)
}

// HandleCreateHandle creates the handle of a group; repeated calls are no-ops.
func (h *DownloadablesHandler) HandleCreateHandle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.groupCommand(w, r, id, func(m *downloadables.Manager) error {
		_, err := m.CreateDownloadablesHandle(id)

		return err
	})
}

func (h *DownloadablesHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.groupCommand(w, r, id, func(m *downloadables.Manager) error {
		handle, err := m.CreateDownloadablesHandle(id)
		if err != nil {
			return err
		}

		return handle.Retry()
	})
}

func (h *DownloadablesHandler) HandleSetPriority(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req priorityRequest
	if err := decodeBody(w, r, &req); err != nil || req.Priority == nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "body must be {\"priority\": <int>}"})

		return
	}

	h.groupCommand(w, r, id, func(m *downloadables.Manager) error {
		return m.SetDownloadableGroupPriority(id, *req.Priority)
	})
}

func (h *DownloadablesHandler) HandleSetDownloader(w http.ResponseWriter, r *http.Request) {
	h.setGate(w, r, (*downloadables.Manager).SetDownloaderEnabled)
}

func (h *DownloadablesHandler) HandleSetAutomatic(w http.ResponseWriter, r *http.Request) {
	h.setGate(w, r, (*downloadables.Manager).SetAutomaticDownloaderEnabled)
}

func (h *DownloadablesHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Reload(r.Context()); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to reload downloadables", "err", err)
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, h.ctrl.Status())
}

func (h *DownloadablesHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	err := h.ctrl.Do(r.Context(), func(m *downloadables.Manager) error {
		m.Reset()

		return nil
	})
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, h.ctrl.Status())
}

func (h *DownloadablesHandler) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	h.listEvents(w, r, func(ctx context.Context, limit int) ([]storage.EventRecord, error) {
		return h.events.RecentEvents(ctx, limit)
	})
}

func (h *DownloadablesHandler) HandleGroupEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.listEvents(w, r, func(ctx context.Context, limit int) ([]storage.EventRecord, error) {
		return h.events.GroupEvents(ctx, id, limit)
	})
}

// HandleStream pushes every published status over a websocket until the
// client goes away.
func (h *DownloadablesHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "failed to accept websocket", "err", err)

		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())

	for st := range h.ctrl.Watch(ctx) {
		writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
		err := wsjson.Write(writeCtx, c, st)
		cancel()

		if err != nil {
			logger.DebugContext(ctx, "status stream closed", "err", err)

			return
		}
	}

	c.Close(websocket.StatusNormalClosure, "")
}

func (h *DownloadablesHandler) groupCommand(w http.ResponseWriter, r *http.Request, id string, fn func(*downloadables.Manager) error) {
	var status downloadables.GroupStatus

	err := h.ctrl.Do(r.Context(), func(m *downloadables.Manager) error {
		if err := fn(m); err != nil {
			return err
		}

		status, _ = m.Group(id)

		return nil
	})
	if err != nil {
		logctx.LoggerFromContext(r.Context()).WarnContext(r.Context(), "group command failed", "group_id", id, "err", err)
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

func (h *DownloadablesHandler) setGate(w http.ResponseWriter, r *http.Request, set func(*downloadables.Manager, bool)) {
	var req enabledRequest
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "body must be {\"enabled\": <bool>}"})

		return
	}

	err := h.ctrl.Do(r.Context(), func(m *downloadables.Manager) error {
		set(m, *req.Enabled)

		return nil
	})
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, h.ctrl.Status())
}

func (h *DownloadablesHandler) listEvents(
	w http.ResponseWriter,
	r *http.Request,
	query func(ctx context.Context, limit int) ([]storage.EventRecord, error),
) {
	if h.events == nil {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "event journal is disabled"})

		return
	}

	limit := defaultEventLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})

			return
		}

		limit = min(n, maxEventLimit)
	}

	events, err := query(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to query events", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to query events"})

		return
	}

	if events == nil {
		events = []storage.EventRecord{}
	}

	writeJSON(w, r, http.StatusOK, events)
}

func (h *DownloadablesHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username))
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password))

		if userOK&passOK != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, downloadables.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, downloadables.ErrInvalidState), errors.Is(err, downloadables.ErrRetriesExceeded):
		return http.StatusConflict
	case errors.Is(err, downloadables.ErrNotInitialized), errors.Is(err, host.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}

	var catalogErr *downloadables.CatalogError
	if errors.As(err, &catalogErr) {
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, r, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
