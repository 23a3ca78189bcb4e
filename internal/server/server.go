package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourorg/declarant/internal/classify"
	"github.com/yourorg/declarant/internal/config"
	"github.com/yourorg/declarant/internal/export"
	"github.com/yourorg/declarant/internal/ingest"
	"github.com/yourorg/declarant/internal/pipeline"
	"github.com/yourorg/declarant/internal/store"
	"github.com/yourorg/declarant/pkg/types"
)

var (
	//go:embed ui.html
	uiHTML string

	uiTemplate = template.Must(template.New("ui").Parse(uiHTML))
)

// Server wraps the review UI and API handlers.
type Server struct {
	cfg    *config.Config
	store  store.Store
	client classify.Classifier
	logger *slog.Logger
	mux    *http.ServeMux
}

type uiData struct {
	SessionID string
}

// New constructs a Server with routes registered.
func New(cfg *config.Config, st store.Store, client classify.Classifier, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	srv := &Server{cfg: cfg, store: st, client: client, logger: logger, mux: http.NewServeMux()}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/session/", s.handleSessionPage)

	s.mux.HandleFunc("/api/preview", s.handlePreview)
	s.mux.HandleFunc("/api/classify", s.handleClassify)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/results/", s.handleResultRoutes)
	s.mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderUI(w, "")
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/session/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	s.renderUI(w, id)
}

func (s *Server) limits() ingest.Limits {
	return ingest.Limits{
		MaxBytes: int64(s.cfg.Processing.MaxFileSizeMB) << 20,
		MaxRows:  s.cfg.Processing.MaxRows,
	}
}

func (s *Server) readUpload(r *http.Request) (*ingest.Table, string, error) {
	if err := r.ParseMultipartForm(int64(s.cfg.Processing.MaxFileSizeMB) << 20); err != nil {
		return nil, "", fmt.Errorf("parse upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file field is required")
	}
	defer file.Close()
	table, err := ingest.Read(file, filepath.Ext(header.Filename), s.limits())
	if err != nil {
		return nil, "", err
	}
	return table, header.Filename, nil
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	table, filename, err := s.readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	preview := table.Rows
	if len(preview) > 10 {
		preview = preview[:10]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename":   filename,
		"columns":    table.Columns,
		"rows":       preview,
		"total_rows": len(table.Rows),
		"roles":      ingest.Roles,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.client == nil {
		http.Error(w, "classification is not configured, set llm.api_key", http.StatusServiceUnavailable)
		return
	}
	table, filename, err := s.readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mapping := ingest.Mapping{}
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			http.Error(w, "invalid mapping json: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := mapping.Validate(table); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	proc := &pipeline.Processor{Store: s.store, Client: s.client, Config: s.cfg.Processing, Logger: s.logger}
	outcome, err := proc.Process(r.Context(), filename, table, mapping, nil)
	if err != nil {
		if errors.Is(err, ingest.ErrNoItems) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "processing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := s.store.ListSessions(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	idStr, tail, ok := splitPath(r.URL.Path, "/api/sessions/")
	if !ok || idStr == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	switch tail {
	case "":
		s.handleSessionDetail(w, r, id)
	case "results":
		s.handleSessionResults(w, r, id)
	case "export":
		s.handleSessionExport(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.GetSession(id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		reviews, err := s.store.UserStatusStats(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "review_stats": reviews})
	case http.MethodDelete:
		if _, err := s.store.GetSession(id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		if err := s.store.DeleteSession(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filter, err := parseResultFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	total, err := s.store.CountResults(id, store.ResultFilter{
		MinConfidence: filter.MinConfidence,
		MaxConfidence: filter.MaxConfidence,
		UserStatus:    filter.UserStatus,
		Query:         filter.Query,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results, err := s.store.GetResults(id, filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "results": results})
}

func parseResultFilter(r *http.Request) (store.ResultFilter, error) {
	q := r.URL.Query()
	filter := store.ResultFilter{Query: q.Get("q")}
	if v := q.Get("min_confidence"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid min_confidence %q", v)
		}
		filter.MinConfidence = &n
	}
	if v := q.Get("max_confidence"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid max_confidence %q", v)
		}
		filter.MaxConfidence = &n
	}
	if v := q.Get("status"); v != "" {
		status := types.UserStatus(v)
		if err := status.Validate(); err != nil {
			return filter, err
		}
		filter.UserStatus = status
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filter, nil
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetSession(id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	results, err := s.store.GetResults(id, store.ResultFilter{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tnved_results_%d.csv"`, id))
		if err := export.WriteCSV(w, results); err != nil {
			s.log().Error("csv export failed", "session_id", id, "error", err)
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tnved_results_%d.xlsx"`, id))
		if err := export.WriteXLSX(w, results); err != nil {
			s.log().Error("xlsx export failed", "session_id", id, "error", err)
		}
	default:
		http.Error(w, fmt.Sprintf("unsupported export format %q", format), http.StatusBadRequest)
	}
}

func (s *Server) handleResultRoutes(w http.ResponseWriter, r *http.Request) {
	idStr, tail, ok := splitPath(r.URL.Path, "/api/results/")
	if !ok || idStr == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid result id", http.StatusBadRequest)
		return
	}
	switch tail {
	case "":
		s.handleResultDetail(w, r, id)
	case "review":
		s.handleResultReview(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleResultDetail(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.store.GetResult(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResultReview(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserStatus string `json:"user_status"`
		UserNotes  string `json:"user_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	status := types.UserStatus(req.UserStatus)
	if err := status.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateUserStatus(id, status, req.UserNotes); err != nil {
		s.writeStoreError(w, err)
		return
	}
	result, err := s.store.GetResult(id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.store.Statistics()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) renderUI(w http.ResponseWriter, sessionID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = uiTemplate.Execute(w, uiData{SessionID: sessionID})
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
