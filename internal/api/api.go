// Package api implements the predicate control plane over gorilla/mux,
// grounded on the teacher-pack's admin controller shape (mux routing,
// writeJSON/writeError helpers, bearer-token middleware).
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/chainrelay/chainhooks/internal/chain"
	"github.com/chainrelay/chainhooks/internal/predicate"
	"github.com/chainrelay/chainhooks/internal/registry"
)

// TipLookup resolves a chain's current tip height, used to seed a
// newly-registered predicate's cursor when no start_block is given.
type TipLookup func(chain.Name) uint64

// Server exposes the predicate registry over HTTP (spec §4, "control
// API"): list/get/register/delete, guarded by a static bearer token.
type Server struct {
	Registry    *registry.Registry
	Tip         TipLookup
	BearerToken string
	Logger      *slog.Logger
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	// Only write endpoints require the bearer token (spec §6); list/get
	// are read-only and open, same as /ping.
	r.HandleFunc("/v1/chainhooks", s.handleList).Methods(http.MethodGet)
	r.Handle("/v1/chainhooks", s.requireAuth(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.HandleFunc("/v1/chainhooks/{uuid}", s.handleGet).Methods(http.MethodGet)
	r.Handle("/v1/chainhooks/{chain}/{uuid}", s.requireAuth(http.HandlerFunc(s.handleDelete))).Methods(http.MethodDelete)

	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	c := chain.Name(r.URL.Query().Get("chain"))
	if c == "" {
		c = chain.L1
	}
	preds, err := s.Registry.List(c)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, preds)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	c := chain.Name(r.URL.Query().Get("chain"))
	if c == "" {
		c = chain.L1
	}
	p, err := s.Registry.Get(c, uuid)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "predicate not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var p predicate.Predicate
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid predicate payload: "+err.Error())
		return
	}

	var tip uint64
	if s.Tip != nil {
		tip = s.Tip(p.Chain)
	}

	if err := s.Registry.Register(p, tip); err != nil {
		if errors.Is(err, registry.ErrExists) {
			s.writeError(w, http.StatusConflict, "predicate already registered")
			return
		}
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uuid": p.UUID})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c := chain.Name(vars["chain"])
	uuid := vars["uuid"]

	if err := s.Registry.Delete(c, uuid); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "predicate not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uuid": uuid})
}

// requireAuth checks a static bearer token, the simplified form of
// the teacher pack's token-based admin auth (no session/JWT layer,
// since the router has no login flow).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if s.BearerToken == "" || token != s.BearerToken {
			s.writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}
