// Package server exposes the knowledge base over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xhad/hrrag/internal/models"
	"github.com/xhad/hrrag/internal/types"
	"github.com/xhad/hrrag/pkg/logger"
)

const (
	DefaultAddr           = ":8000"
	DefaultUploadDir      = "data/uploads"
	DefaultMaxUploadBytes = 50 << 20

	// nginx's code for a client that went away before the reply.
	statusClientClosedRequest = 499
)

type Config struct {
	Addr           string
	UploadDir      string
	MaxUploadBytes int64
}

type Server struct {
	config  Config
	service types.Service
	log     *logger.Logger
	mux     *http.ServeMux
}

type askRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type emailRequest struct {
	Request string `json:"request"`
	K       int    `json:"k"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(service types.Service, log *logger.Logger, config Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.UploadDir == "" {
		config.UploadDir = DefaultUploadDir
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(config.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	s := &Server{
		config:  config,
		service: service,
		log:     log.With("service", "HTTPServer"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /ask", s.handleAsk)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /upload-doc", s.handleUpload)
	s.mux.HandleFunc("POST /generate-email", s.handleEmail)
	s.mux.HandleFunc("GET /analytics", s.handleAnalytics)
	s.mux.HandleFunc("GET /documents/{name}/chunks", s.handleChunks)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	answer, err := s.service.Ask(r.Context(), req.Question, req.K)
	if err != nil {
		s.writeError(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	hits, err := s.service.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.writeError(w, "search", err)
		return
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request is required"})
		return
	}

	email, err := s.service.ComposeEmail(r.Context(), req.Request, req.K)
	if err != nil {
		s.writeError(w, "generate email", err)
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mode, ok := models.ParseIngestMode(r.URL.Query().Get("mode"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "mode must be append or rebuild"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, "\\", "/")))
	if name == "/" || name == "." {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid file name"})
		return
	}
	if _, ok := models.FileTypeFromPath(name); !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unsupported file type"})
		return
	}

	path := filepath.Join(s.config.UploadDir, name)
	if err := saveUpload(path, file); err != nil {
		s.writeError(w, "save upload", err)
		return
	}

	summary, err := s.service.Ingest(r.Context(), path, mode)
	if err != nil {
		s.writeError(w, "ingest", err)
		return
	}

	s.log.Info("document uploaded", "file", name, "mode", string(mode), "chunks", summary.Chunks)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"file":   name,
		"stats":  summary,
	})
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return dst.Close()
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.Analytics(r.Context())
	if err != nil {
		s.writeError(w, "analytics", err)
		return
	}
	if a.TopQuestions == nil {
		a.TopQuestions = []models.FrequencyCount{}
	}
	if a.TopSources == nil {
		a.TopSources = []models.FrequencyCount{}
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	records, err := s.service.ChunksBySource(r.Context(), name)
	if err != nil {
		s.writeError(w, "chunks", err)
		return
	}
	if records == nil {
		records = []models.ChunkRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": name, "chunks": records})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrUnsupportedFileType),
		errors.Is(err, types.ErrInvalidCollection),
		errors.Is(err, types.ErrUnsupportedMetric):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrCollectionAlreadyExists),
		errors.Is(err, types.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, types.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "op", op, "error", err)
	} else {
		s.log.Warn("request rejected", "op", op, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
