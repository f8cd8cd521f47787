package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/telemetry"
)

// Engine endpoints and the operation names used in errors, logs and metrics.
const (
	OpCreateRule   = "create_rule"
	OpCombineRules = "combine_rules"
	OpEvaluateRule = "evaluate_rule"

	// DefaultTimeout applies to every engine call unless overridden.
	DefaultTimeout = 10 * time.Second

	// maxResponseBodySize limits how much of a response body is read (1MB)
	maxResponseBodySize = 1 << 20
)

// Client is an HTTP client for the rule engine.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithLogger sets the logger used for engine call tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.Logger = l }
}

// NewClient creates a new rule engine client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRuleRequest struct {
	RuleString string `json:"rule_string"`
}

type combineRulesRequest struct {
	Rules []string `json:"rules"`
}

type evaluateRuleRequest struct {
	RuleAST rules.AST    `json:"rule_ast"`
	Data    rules.Record `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

// EvaluateResult is the engine's answer to an evaluate request.
type EvaluateResult struct {
	Result  bool
	Payload json.RawMessage
}

// Validate asks the engine to parse rule and returns its AST.
//
// A rejected rule yields *rules.ValidationError carrying the engine's
// "error" message, or fallback when the response does not carry one.
// Network, timeout and malformed-response failures yield *rules.TransportError.
func (c *Client) Validate(ctx context.Context, rule, fallback string) (rules.AST, error) {
	status, body, err := c.post(ctx, OpCreateRule, createRuleRequest{RuleString: rule})
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		msg := fallback
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		c.Logger.Debug().Str("op", OpCreateRule).Int("status", status).Str("error", msg).Msg("rule rejected")
		return nil, &rules.ValidationError{Status: status, Message: msg}
	}

	if !json.Valid(body) {
		return nil, &rules.TransportError{Op: OpCreateRule, Err: errors.New("response body is not valid JSON")}
	}
	return rules.AST(body), nil
}

// Combine asks the engine to combine ruleList, in order, into one AST.
// An empty list fails with rules.ErrEmptyRuleSet without contacting the engine.
// Every other failure is a *rules.CombineError; transport failures are
// additionally reachable as *rules.TransportError through errors.As.
func (c *Client) Combine(ctx context.Context, ruleList []string) (rules.AST, error) {
	if len(ruleList) == 0 {
		return nil, rules.ErrEmptyRuleSet
	}

	status, body, err := c.post(ctx, OpCombineRules, combineRulesRequest{Rules: ruleList})
	if err != nil {
		return nil, &rules.CombineError{Err: err}
	}

	if !isSuccess(status) {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		return nil, &rules.CombineError{Status: status, Message: eb.Error}
	}

	if !json.Valid(body) {
		return nil, &rules.CombineError{
			Status: status,
			Err:    &rules.TransportError{Op: OpCombineRules, Err: errors.New("response body is not valid JSON")},
		}
	}
	return rules.AST(body), nil
}

// Evaluate asks the engine to evaluate ast against rec.
// The decision is the "result" field of the response.
func (c *Client) Evaluate(ctx context.Context, ast rules.AST, rec rules.Record) (*EvaluateResult, error) {
	if len(ast) == 0 {
		return nil, rules.ErrMissingCombination
	}

	status, body, err := c.post(ctx, OpEvaluateRule, evaluateRuleRequest{RuleAST: ast, Data: rec})
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		return nil, rules.NewEvaluationError(status)
	}

	var result struct {
		Result *bool `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &rules.TransportError{Op: OpEvaluateRule, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if result.Result == nil {
		return nil, &rules.TransportError{Op: OpEvaluateRule, Err: errors.New(`response has no boolean "result" field`)}
	}

	return &EvaluateResult{Result: *result.Result, Payload: json.RawMessage(body)}, nil
}

// post sends payload as JSON to the engine endpoint named op and returns the
// status code and (size-limited) body. Only transport-level failures are
// returned as errors; non-2xx statuses are for the caller to interpret.
func (c *Client) post(ctx context.Context, op string, payload any) (int, []byte, error) {
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, &rules.TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &rules.TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.ObserveEngineCall(op, telemetry.OutcomeTransport, time.Since(start))
		c.Logger.Warn().Err(err).Str("op", op).Str("request_id", requestID).Msg("engine request failed")
		return 0, nil, &rules.TransportError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		telemetry.ObserveEngineCall(op, telemetry.OutcomeTransport, time.Since(start))
		return 0, nil, &rules.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	outcome := telemetry.OutcomeOK
	if !isSuccess(resp.StatusCode) {
		outcome = telemetry.OutcomeRejected
	}
	duration := time.Since(start)
	telemetry.ObserveEngineCall(op, outcome, duration)
	c.Logger.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("engine call")

	return resp.StatusCode, respBody, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
