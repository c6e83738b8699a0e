// Package server exposes the local JSON-over-HTTP surface. It binds to
// loopback only: the service trusts its single local caller and performs no
// authentication of its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Isaries/RCSL-SQL-Client/internal/apperr"
	"github.com/Isaries/RCSL-SQL-Client/internal/auditlog"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
	"github.com/Isaries/RCSL-SQL-Client/internal/sqlexec"
	"github.com/Isaries/RCSL-SQL-Client/internal/store"
)

// Executor runs a SQL statement against the configured remote endpoint.
type Executor interface {
	Execute(ctx context.Context, sqlText string) (sqlexec.Result, error)
}

type Options struct {
	Logger *slog.Logger
	Port   int

	Store    *store.Store
	Config   *config.Provider
	Executor Executor

	// Audit is optional; when nil, execution attempts are not recorded.
	Audit *auditlog.Store
}

type Server struct {
	log *slog.Logger

	port int

	store    *store.Store
	cfg      *config.Provider
	executor Executor
	audit    *auditlog.Store

	ln  net.Listener
	srv *http.Server
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("missing Store")
	}
	if opts.Config == nil {
		return nil, errors.New("missing Config")
	}
	if opts.Executor == nil {
		return nil, errors.New("missing Executor")
	}
	port := opts.Port
	if port == 0 {
		port = 5000
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid Port: %d", port)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return &Server{
		log:      logger,
		port:     port,
		store:    opts.Store,
		cfg:      opts.Config,
		executor: opts.Executor,
		audit:    opts.Audit,
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/setup", s.handleSetup)

	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("POST /api/history", s.handleAppendHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)

	mux.HandleFunc("GET /api/quick_access", s.handleListQuickAccess)
	mux.HandleFunc("POST /api/quick_access", s.handleAddQuickAccess)
	mux.HandleFunc("PUT /api/quick_access/reorder", s.handleReorderQuickAccess)
	mux.HandleFunc("PUT /api/quick_access/{id}", s.handleUpdateQuickAccess)
	mux.HandleFunc("DELETE /api/quick_access/{id}", s.handleDeleteQuickAccess)

	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("POST /api/connections", s.handleSaveConnection)
	mux.HandleFunc("DELETE /api/connections/{id}", s.handleDeleteConnection)

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.srv != nil {
		return nil
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("local api server stopped", "error", err)
		}
	}()

	s.log.Info("local api listening", "addr", addr)
	return nil
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.srv = nil
	s.ln = nil
	return nil
}

func (s *Server) Port() int {
	if s == nil {
		return 0
	}
	return s.port
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single recovery point of the request boundary: every
// component failure lands here and leaves as a structured JSON response.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		s.log.Warn("request failed", "error", err)
	}
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.UserMessage(err)})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid json body", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, "invalid id", err)
	}
	return id, nil
}

type executeRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		s.writeError(w, apperr.New(apperr.Validation, "no sql provided"))
		return
	}

	res, err := s.executor.Execute(r.Context(), req.SQL)
	s.recordExecution(req.SQL, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": res.Payload()})
}

func (s *Server) recordExecution(sqlText string, execErr error) {
	if s.audit == nil {
		return
	}
	vals, _ := s.cfg.Current()
	s.audit.RecordExecution(sqlText, vals.APIURL, execErr)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"configured": s.cfg.IsConfigured()})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var v config.Values
	if err := decodeJSON(r, &v); err != nil {
		s.writeError(w, err)
		return
	}
	if !v.IsComplete() {
		s.writeError(w, apperr.New(apperr.Validation, "api_url, username and password are required"))
		return
	}
	if err := s.cfg.Apply(v); err != nil {
		s.writeError(w, apperr.Wrap(apperr.Internal, "failed to save configuration", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListHistory(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type appendHistoryRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleAppendHistory(w http.ResponseWriter, r *http.Request) {
	var req appendHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		s.writeError(w, apperr.New(apperr.Validation, "missing sql"))
		return
	}

	ignored, err := s.store.AppendHistory(r.Context(), req.SQL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := "success"
	if ignored {
		status = "ignored_duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteHistory(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListQuickAccess(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListQuickAccess(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type quickAccessRequest struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

func (r quickAccessRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.SQL) == "" {
		return apperr.New(apperr.Validation, "name and sql are required")
	}
	return nil
}

func (s *Server) handleAddQuickAccess(w http.ResponseWriter, r *http.Request) {
	var req quickAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.store.AddQuickAccess(r.Context(), req.Name, req.SQL); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleUpdateQuickAccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req quickAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.UpdateQuickAccess(r.Context(), id, req.Name, req.SQL); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type reorderRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) handleReorderQuickAccess(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, apperr.New(apperr.Validation, "missing ids"))
		return
	}

	if err := s.store.ReorderQuickAccess(r.Context(), req.IDs); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func (s *Server) handleDeleteQuickAccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteQuickAccess(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListConnections(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

type saveConnectionRequest struct {
	Name     string `json:"name"`
	APIURL   string `json:"api_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSaveConnection(w http.ResponseWriter, r *http.Request) {
	var req saveConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.APIURL) == "" {
		s.writeError(w, apperr.New(apperr.Validation, "name and api_url are required"))
		return
	}

	if err := s.store.SaveConnection(r.Context(), req.Name, req.APIURL, req.Username, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteConnection(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
