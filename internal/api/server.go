package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/units"
	"github.com/banshee-data/motion.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// defaultPerPage is the flagged-frame page size when none is requested.
const defaultPerPage = 20
const maxPerPage = 100

type Server struct {
	store *db.FrameStore
	units string
}

func NewServer(store *db.FrameStore, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	return &Server{
		store: store,
		units: speedUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/filters", s.showFilters)
	mux.HandleFunc("/api/flagged", s.listFlagged)
	mux.HandleFunc("/api/frames/", s.frameRoutes)
	mux.HandleFunc("/api/query", s.runQuery)
	mux.HandleFunc("/charts/types", s.chartTypes)
	mux.HandleFunc("/charts/severity", s.chartSeverity)
	mux.HandleFunc("/charts/intents", s.chartIntents)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
		"units":   s.units,
	})
}

// statsResponse wraps the store summary with the serving units. Speed
// extremes are converted; accelerations stay in m/s^2.
type statsResponse struct {
	db.StoreSummary
	Units string `json:"units"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sum, err := s.store.Summary()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	sum.Extremes.MaxSpeed = units.ConvertSpeed(sum.Extremes.MaxSpeed, s.units)

	if err := json.NewEncoder(w).Encode(statsResponse{sum, s.units}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

func (s *Server) showFilters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	types, files, err := s.store.FilterValues()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve filters: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"edge_case_types": types,
		"file_names":      files,
	})
}

type flaggedResponse struct {
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
	Total   int64             `json:"total"`
	Units   string            `json:"units"`
	Rows    []db.FlaggedFrame `json:"rows"`
}

func (s *Server) listFlagged(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	page := 1
	if p := q.Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'page' parameter")
			return
		}
		page = parsed
	}
	perPage := defaultPerPage
	if p := q.Get("per_page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 || parsed > maxPerPage {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'per_page' parameter")
			return
		}
		perPage = parsed
	}

	filter := db.FlaggedFilter{
		EdgeCaseType: q.Get("type"),
		FileName:     q.Get("file"),
	}
	if ms := q.Get("min_severity"); ms != "" {
		parsed, err := strconv.ParseFloat(ms, 64)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'min_severity' parameter")
			return
		}
		filter.MinSeverity = parsed
	}

	rows, total, err := s.store.FlaggedFrames(filter, page, perPage)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve flagged frames: %v", err))
		return
	}
	for i := range rows {
		rows[i].SpeedMax = units.ConvertSpeed(rows[i].SpeedMax, s.units)
	}

	json.NewEncoder(w).Encode(flaggedResponse{
		Page: page, PerPage: perPage, Total: total, Units: s.units, Rows: rows,
	})
}

// frameRoutes dispatches /api/frames/{id} and /api/frames/{id}/thumbnail.
func (s *Server) frameRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/frames/")
	idPart, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 1 {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusBadRequest, "Invalid frame id")
		return
	}

	switch sub {
	case "":
		s.showFrame(w, id)
	case "thumbnail":
		s.showThumbnail(w, id)
	default:
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) showFrame(w http.ResponseWriter, id int64) {
	w.Header().Set("Content-Type", "application/json")

	d, err := s.store.Frame(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Frame %d not found", id))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve frame: %v", err))
		return
	}
	d.SpeedMin = units.ConvertSpeed(d.SpeedMin, s.units)
	d.SpeedMax = units.ConvertSpeed(d.SpeedMax, s.units)
	d.SpeedMean = units.ConvertSpeed(d.SpeedMean, s.units)

	json.NewEncoder(w).Encode(d)
}

func (s *Server) showThumbnail(w http.ResponseWriter, id int64) {
	blob, err := s.store.Thumbnail(id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No thumbnail for frame %d", id))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve thumbnail: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=86400")
	w.Write(blob)
}
