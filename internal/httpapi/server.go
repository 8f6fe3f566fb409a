package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"trendline/internal/domain"
	"trendline/internal/store"
)

// RunServer serves the run store and bar store over HTTP.
type RunServer struct {
	runs store.RunStore
	bars store.BarStore
	log  *slog.Logger
}

// NewRunServer creates a new run browser.
func NewRunServer(runs store.RunStore, bars store.BarStore, log *slog.Logger) *RunServer {
	if log == nil {
		log = slog.Default()
	}
	return &RunServer{runs: runs, bars: bars, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *RunServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/runs/{id}/orders", s.handleOrders)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/symbols/{market}", s.handleSymbols)
	mux.HandleFunc("GET /api/bars/{market}/{symbol}", s.handleBars)
}

// Handler returns an http.Handler with CORS middleware.
func (s *RunServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *RunServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// storeError maps a store error to a response.
func (s *RunServer) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("store query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *RunServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]RunJSON, len(runs))
	for i, run := range runs {
		out[i] = convertRun(run, false)
	}
	writeJSON(w, out)
}

func (s *RunServer) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, convertRun(*run, true))
}

func (s *RunServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	trades, err := s.runs.ListTrades(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]TradeJSON, len(trades))
	for i, t := range trades {
		out[i] = convertTrade(t)
	}
	writeJSON(w, out)
}

func (s *RunServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	orders, err := s.runs.ListOrders(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]OrderJSON, len(orders))
	for i, o := range orders {
		out[i] = convertOrder(o)
	}
	writeJSON(w, out)
}

// handleEvents accepts repeated kind parameters: ?kind=trade&kind=order.
func (s *RunServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	var kinds []domain.EventKind
	for _, k := range r.URL.Query()["kind"] {
		kinds = append(kinds, domain.EventKind(k))
	}
	events, err := s.runs.ListEvents(r.Context(), id, kinds...)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]EventJSON, len(events))
	for i, e := range events {
		out[i] = convertEvent(e)
	}
	writeJSON(w, out)
}

func (s *RunServer) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.bars.ListSymbols(r.Context(), r.PathValue("market"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, symbols)
}

// handleBars accepts optional start and end dates (YYYY-MM-DD, inclusive).
func (s *RunServer) handleBars(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", p.name, v))
			return
		}
		*p.dst = t
	}
	if !end.IsZero() {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	bars, err := s.bars.ReadBars(r.Context(), r.PathValue("symbol"), r.PathValue("market"), start, end)
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]BarJSON, len(bars))
	for i, b := range bars {
		out[i] = convertBar(b)
	}
	writeJSON(w, out)
}
