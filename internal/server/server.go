// Package server exposes the playground host over HTTP and streams run
// output to websocket subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"regexp/syntax"

	"github.com/gorilla/mux"

	"github.com/petasbytes/codeplayground/internal/assistant"
	"github.com/petasbytes/codeplayground/internal/interp"
	"github.com/petasbytes/codeplayground/internal/playground"
	"github.com/petasbytes/codeplayground/internal/session"
	"github.com/petasbytes/codeplayground/internal/workspace"
)

// Runtime is the readiness surface of the interpreter manager.
type Runtime interface {
	State() interp.State
	Initialize(ctx context.Context)
}

type Server struct {
	host    *playground.Host
	runtime Runtime
	hub     *Hub
	logger  *slog.Logger
	router  *mux.Router
}

// New wires the routes. hub should be the Listener the host attaches to its
// sessions; nil creates a hub that receives no events.
func New(host *playground.Host, rt Runtime, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{host: host, runtime: rt, hub: hub, logger: logger, router: mux.NewRouter()}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.deleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/source", s.editSource).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/run", s.runSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.resetSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/load", s.loadFile).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/save", s.saveFile).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/explain", s.explain).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/autofix", s.autofix).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/generate", s.generate).Methods(http.MethodPost)
	api.HandleFunc("/runtime", s.runtimeState).Methods(http.MethodGet)
	api.HandleFunc("/runtime/init", s.runtimeInit).Methods(http.MethodPost)
	api.HandleFunc("/files", s.listFiles).Methods(http.MethodGet)
	api.HandleFunc("/progress", s.getProgress).Methods(http.MethodGet)
	api.HandleFunc("/progress/{moduleId}", s.completeModule).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/sessions/{id}", s.watchSession)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var spec playground.SessionSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.host.Create(spec)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.host.Sessions()})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.host.Get(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.host.Remove(mux.Vars(r)["id"]) {
		s.fail(w, playground.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) editSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess.Edit(body.Text)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) runSession(w http.ResponseWriter, r *http.Request) {
	out, err := s.host.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Reset()
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

type pathBody struct {
	Path string `json:"path"`
}

func (s *Server) loadFile(w http.ResponseWriter, r *http.Request) {
	var body pathBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.host.Load(id, body.Path); err != nil {
		s.fail(w, err)
		return
	}
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) saveFile(w http.ResponseWriter, r *http.Request) {
	var body pathBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.host.Save(mux.Vars(r)["id"], body.Path); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.host.Files(r.URL.Query().Get("dir"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": names})
}

func (s *Server) explain(w http.ResponseWriter, r *http.Request) {
	n, err := s.host.Explain(r.Context(), mux.Vars(r)["id"])
	s.notice(w, n, err)
}

func (s *Server) autofix(w http.ResponseWriter, r *http.Request) {
	n, err := s.host.Autofix(r.Context(), mux.Vars(r)["id"])
	s.notice(w, n, err)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.host.Generate(r.Context(), mux.Vars(r)["id"], body.Task)
	s.notice(w, n, err)
}

func (s *Server) notice(w http.ResponseWriter, n playground.Notice, err error) {
	if errors.Is(err, assistant.ErrService) {
		// The cause stays in the log; the client gets the generic notice.
		s.logger.Warn("Assistant request failed", "err", err)
		writeJSON(w, http.StatusBadGateway, n)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) runtimeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": s.runtime.State().String()})
}

// runtimeInit starts initialization in the background; clients poll
// GET /api/runtime for readiness.
func (s *Server) runtimeInit(w http.ResponseWriter, r *http.Request) {
	go s.runtime.Initialize(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.runtime.State().String()})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	ids := s.host.Progress()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": ids})
}

func (s *Server) completeModule(w http.ResponseWriter, r *http.Request) {
	changed, err := s.host.CompleteModule(r.Context(), mux.Vars(r)["moduleId"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "completed": s.host.Progress()})
}

func (s *Server) watchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.hub.serve(w, r, sess.ID(), sess.Snapshot())
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var pe *workspace.PathError
	var se *syntax.Error
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, playground.ErrNotFound), errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, playground.ErrNoError):
		status = http.StatusConflict
	case errors.Is(err, interp.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	case errors.Is(err, playground.ErrDisabled), errors.Is(err, playground.ErrNoStorage):
		status = http.StatusNotImplemented
	case errors.Is(err, assistant.ErrPromptTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, playground.ErrEmptyTask), errors.As(err, &pe), errors.As(err, &se):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
