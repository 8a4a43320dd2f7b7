package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"dreamplan/internal/planner"
	"dreamplan/internal/storage"
	logx "dreamplan/pkg/logx"
)

// Planner is the part of the planner service the HTTP surface needs.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (planner.Report, error)
	History(ctx context.Context, dreamID string, limit int) ([]storage.Run, error)
}

type HandlerOptions struct {
	Token string
	Pprof bool
	// MaxBodyBytes bounds request documents; 0 means 1 MiB.
	MaxBodyBytes int64
}

const defaultMaxBody = 1 << 20

type handler struct {
	p       Planner
	log     logx.Logger
	maxBody int64
}

// NewHandler builds the route table. Every route requires the token when one
// is set.
func NewHandler(p Planner, opts HandlerOptions, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handler{p: p, log: log, maxBody: opts.MaxBodyBytes}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBody
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /v1/plan", h.plan)
	mux.HandleFunc("GET /v1/dreams/{id}/runs", h.runs)

	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return withAuth(opts.Token, mux)
}

func (h *handler) plan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	name := "request.json"
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		name = "request.yaml"
	}
	req, err := planner.DecodeRequest(name, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := h.p.Plan(r.Context(), req)
	switch {
	case errors.Is(err, planner.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		h.log.Warn("plan request failed", logx.String("dream", req.Dream.ID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !rep.Result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, rep)
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := h.p.History(r.Context(), r.PathValue("id"), limit)
	switch {
	case errors.Is(err, planner.ErrNoStorage):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// withAuth accepts either "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, next http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
