// HTTP handlers for the scrape-job API.
//
// All routes sit behind auth.Middleware, which resolves the calling user.
//
// Routes:
//
//	POST /api/scrape-job                       → start a search
//	GET  /api/scrape-job/{requestId}           → poll status
//	POST /api/scrape-job/{requestId}/abort     → request cancellation
//	GET  /api/scrape-job/{requestId}/events    → status changes as SSE

package scrapejob

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"jobmate/scrape-service/internal/auth"
	"jobmate/scrape-service/internal/logging"
)

// PollInterval is the interval clients are told to poll at while a request
// is non-terminal.
const PollInterval = 2 * time.Second

const (
	maxStartBody = 1 << 20
	sseKeepAlive = 15 * time.Second
)

// ─── Response types ───────────────────────────────────────────────────────────

// SearchParamsView is the public part of SearchParams; the resume snapshot
// is never echoed back.
type SearchParamsView struct {
	Keyword      string   `json:"keyword"`
	Location     string   `json:"location"`
	WorkType     WorkType `json:"workType"`
	JobCount     int      `json:"jobCount"`
	HasResume    bool     `json:"hasResume"`
	ExcludeTerms []string `json:"excludeTerms,omitempty"`
}

// StatusResponse is the JSON shape returned by the poll endpoint. Fields are
// present depending on status.
type StatusResponse struct {
	RequestID       string           `json:"requestId"`
	Status          Status           `json:"status"`
	SearchParams    SearchParamsView `json:"searchParams"`
	Results         []Listing        `json:"results,omitempty"`
	FilteredResults []Listing        `json:"filteredResults,omitempty"`
	EnrichedResults *EnrichedResults `json:"enrichedResults,omitempty"`
	ErrorMessage    *string          `json:"errorMessage,omitempty"`
	TotalJobsFound  *int             `json:"totalJobsFound,omitempty"`
	AbortRequested  bool             `json:"abortRequested"`
	PollIntervalMs  int64            `json:"pollIntervalMs"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// NewStatusResponse renders a snapshot. It depends only on the stored row,
// so repeated reads of a terminal request are byte-identical.
func NewStatusResponse(req *JobRequest) StatusResponse {
	resp := StatusResponse{
		RequestID: req.ID,
		Status:    req.Status,
		SearchParams: SearchParamsView{
			Keyword:      req.SearchParams.Keyword,
			Location:     req.SearchParams.Location,
			WorkType:     req.SearchParams.WorkType,
			JobCount:     req.SearchParams.JobCount,
			HasResume:    req.SearchParams.ResumeText != "",
			ExcludeTerms: req.SearchParams.ExcludeTerms,
		},
		Results:         req.RawResults,
		FilteredResults: req.FilteredResults,
		EnrichedResults: req.EnrichedResults,
		ErrorMessage:    req.ErrorMessage,
		AbortRequested:  req.AbortRequested,
		CreatedAt:       req.CreatedAt.UTC(),
		UpdatedAt:       req.UpdatedAt.UTC(),
	}
	if req.EnrichedResults != nil {
		total := req.EnrichedResults.TotalJobsFound
		resp.TotalJobsFound = &total
	}
	if !req.Status.IsTerminal() {
		resp.PollIntervalMs = PollInterval.Milliseconds()
	}
	return resp
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc *Service
	sub Subscriber
	log *logging.Logger
}

// NewHandler returns a configured Handler. sub may be nil, in which case the
// events route is not mounted.
func NewHandler(svc *Service, sub Subscriber, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{svc: svc, sub: sub, log: log.With("component", "http")}
}

// RegisterRoutes mounts all scrape-job routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scrape-job", h.start)
	mux.HandleFunc("GET /api/scrape-job/{requestId}", h.get)
	mux.HandleFunc("POST /api/scrape-job/{requestId}/abort", h.abort)
	if h.sub != nil {
		mux.HandleFunc("GET /api/scrape-job/{requestId}/events", h.events)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var in StartInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody)).Decode(&in); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	req, err := h.svc.Start(r.Context(), userID, in)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			jsonError(w, ve.Msg, http.StatusBadRequest)
			return
		}
		h.log.Error("start scrape job failed", "userId", userID, "err", err)
		jsonError(w, "could not start search", http.StatusInternalServerError)
		return
	}

	jsonStatus(w, http.StatusAccepted, map[string]string{"requestId": req.ID})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, NewStatusResponse(req))
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	_, err := h.svc.Abort(r.Context(), userID, r.PathValue("requestId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			jsonError(w, "scrape job not found", http.StatusNotFound)
			return
		}
		h.log.Error("abort scrape job failed", "userId", userID, "err", err)
		jsonError(w, "could not abort search", http.StatusInternalServerError)
		return
	}
	jsonStatus(w, http.StatusOK, map[string]bool{"success": true})
}

// events streams status changes for one request until it is terminal.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the snapshot read so no transition is missed.
	ch, cancel := h.sub.Subscribe(r.PathValue("requestId"))
	defer cancel()

	req, ok := h.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	last := req.Status
	writeSSE(w, "status", map[string]any{"requestId": req.ID, "status": last})
	flusher.Flush()
	if last.IsTerminal() {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			// The hub drops events for slow readers; resync from the store.
			if cur, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), req.ID); err == nil && cur.Status != last && last.Precedes(cur.Status) {
				last = cur.Status
				writeSSE(w, "status", map[string]any{"requestId": req.ID, "status": last})
			} else {
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			flusher.Flush()
			if last.IsTerminal() {
				return
			}
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.To == last || !last.Precedes(ev.To) {
				continue
			}
			last = ev.To
			writeSSE(w, "status", map[string]any{"requestId": ev.RequestID, "status": ev.To})
			flusher.Flush()
			if last.IsTerminal() {
				return
			}
		}
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*JobRequest, bool) {
	userID := auth.UserID(r.Context())
	req, err := h.svc.Get(r.Context(), userID, r.PathValue("requestId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			jsonError(w, "scrape job not found", http.StatusNotFound)
			return nil, false
		}
		h.log.Error("get scrape job failed", "userId", userID, "err", err)
		jsonError(w, "database error", http.StatusInternalServerError)
		return nil, false
	}
	return req, true
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonStatus(w, code, map[string]string{"error": msg})
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}
