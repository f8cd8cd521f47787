package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/session"
)

type ctxKey int

const sessionKey ctxKey = iota

// loadSession resolves {id} to a live session or answers 404.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := s.sessions.Get(id)
		if !ok {
			NotFoundError(w, r, "session not found: "+id)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey).(*session.Session)
	return sess
}

// ---- request/response bodies ----

type ruleRequest struct {
	Rule string `json:"rule"`
}

type ruleResponse struct {
	AST   rules.AST `json:"ast"`
	Rules []string  `json:"rules"`
}

type rulesResponse struct {
	Rules []string `json:"rules"`
}

// ---- handlers ----

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	w.Header().Set("Location", "/v1/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view := sessionFrom(r).View()
	body, err := json.Marshal(view)
	if err != nil {
		InternalError(w, r, "failed to encode session")
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(sessionFrom(r).ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleAppendRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	ast, err := sess.Append(r.Context(), req.Rule)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleResponse{AST: ast, Rules: sess.Rules()})
}

func (s *Server) handleReplaceLast(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	ast, err := sess.ReplaceLast(r.Context(), req.Rule)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse{AST: ast, Rules: sess.Rules()})
}

func (s *Server) handleRemoveLast(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.RemoveLast(); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesResponse{Rules: sess.Rules()})
}

func (s *Server) handleCombine(w http.ResponseWriter, r *http.Request) {
	entry, err := sessionFrom(r).Combine(r.Context())
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearCombination(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).ClearCombination()
	w.WriteHeader(http.StatusNoContent)
}

// handleEvaluate accepts record fields as JSON strings or numbers, the way a
// form posts them, and leaves parsing to the session.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}

	fields := make(map[string]string, len(raw))
	for name, v := range raw {
		if string(v) == "null" {
			continue
		}
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			fields[name] = str
			continue
		}
		fields[name] = string(v)
	}

	decision, err := sessionFrom(r).EvaluateFields(r.Context(), fields)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errResp := NewErrorResponse(http.StatusRequestEntityTooLarge, ErrCodeInvalidJSON, "request body too large")
			writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, errResp)
			return false
		}
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return false
	}
	return true
}
