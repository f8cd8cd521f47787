// Package testutil provides a scriptable fake rule engine and HTTP request
// helpers shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Engine endpoint names served by FakeEngine.
const (
	CreateRule   = "create_rule"
	CombineRules = "combine_rules"
	EvaluateRule = "evaluate_rule"
)

// FakeEngine is an httptest server standing in for the rule engine.
// Each endpoint has a replaceable handler; every request body is recorded.
type FakeEngine struct {
	Server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests map[string][]json.RawMessage
}

// NewFakeEngine starts a fake engine with default handlers and registers its
// shutdown with t.Cleanup.
//
// Defaults:
//   - create_rule: 400 {"error":"Invalid rule syntax"} for rules containing
//     "INVALID" or with unbalanced parentheses, otherwise an operand node
//     whose value is the rule text.
//   - combine_rules: an AND operator node listing the rules in order.
//   - evaluate_rule: {"result": true}.
func NewFakeEngine(t *testing.T) *FakeEngine {
	t.Helper()
	f := &FakeEngine{
		handlers: map[string]http.HandlerFunc{
			CreateRule:   defaultCreateRule,
			CombineRules: defaultCombineRules,
			EvaluateRule: JSONHandler(http.StatusOK, `{"result": true}`),
		},
		requests: make(map[string][]json.RawMessage),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake engine.
func (f *FakeEngine) URL() string {
	return f.Server.URL
}

// Handle replaces the handler for op.
func (f *FakeEngine) Handle(op string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
}

// Calls returns how many requests op has received.
func (f *FakeEngine) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[op])
}

// TotalCalls returns the number of requests received on all endpoints.
func (f *FakeEngine) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, reqs := range f.requests {
		n += len(reqs)
	}
	return n
}

// LastRequest returns the most recent request body sent to op, or nil.
func (f *FakeEngine) LastRequest(op string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[op]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func (f *FakeEngine) serve(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.URL.Path, "/")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	h, ok := f.handlers[op]
	if ok {
		f.requests[op] = append(f.requests[op], json.RawMessage(body))
	}
	f.mu.Unlock()

	if !ok || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	// handlers read the body again
	r.Body = io.NopCloser(bytes.NewReader(body))
	h(w, r)
}

// JSONHandler returns a handler that always answers with status and body.
func JSONHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func defaultCreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleString string `json:"rule_string"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RuleString == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Rule string is required"})
		return
	}
	if strings.Contains(req.RuleString, "INVALID") ||
		strings.Count(req.RuleString, "(") != strings.Count(req.RuleString, ")") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid rule syntax"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_type": "operand",
		"left":      nil,
		"right":     nil,
		"value":     req.RuleString,
	})
}

func defaultCombineRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules []string `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_type": "operator",
		"value":     "AND",
		"rules":     req.Rules,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
