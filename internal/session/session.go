// Package session owns the state of one rule-authoring session: the ordered
// rule set, the combined-rule cache, the last displayed AST and decision.
//
// Every operation is an independent user action. A failed action never
// changes the rule set or the cache; errors are returned to the caller
// with their type intact (see package rules for the taxonomy).
//
// Concurrency:
//
//   - rule-set mutations are serialized (the lock is held across validation)
//   - combine and evaluate requests carry a monotonic sequence number; a
//     response is applied only if no logically-later request of the same
//     kind has been applied, so the last request wins, not the last response
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/rulekit/internal/cache"
	"github.com/TimurManjosov/rulekit/internal/client"
	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/ruleset"
	"github.com/TimurManjosov/rulekit/internal/telemetry"
)

// ErrSuperseded is returned by Combine when a later combine request (or a
// clear) was applied before this one's response arrived. The cache keeps
// the later state.
var ErrSuperseded = errors.New("combine response superseded by a later request")

// Engine is the rule engine as seen by a session.
type Engine interface {
	ruleset.Validator
	Combine(ctx context.Context, ruleList []string) (rules.AST, error)
	Evaluate(ctx context.Context, ast rules.AST, rec rules.Record) (*client.EvaluateResult, error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. A "session" field is added.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMaxRuleLength bounds the length of accepted rules.
func WithMaxRuleLength(n int) Option {
	return func(s *Session) { s.maxRuleLen = n }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithID sets the session ID instead of generating one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is the explicit, session-scoped owner of rule-set state.
type Session struct {
	id         string
	engine     Engine
	log        zerolog.Logger
	now        func() time.Time
	maxRuleLen int

	rules    *ruleset.Set
	combined *cache.Combined
	hub      *hub

	seqMu      sync.Mutex // pairs a rule snapshot with its combine sequence number
	combineSeq atomic.Uint64
	evalSeq    atomic.Uint64

	mu              sync.RWMutex // guards the display fields below
	lastAST         rules.AST
	lastDecision    *rules.Decision
	lastDecisionSeq uint64
	warning         string
	createdAt       time.Time
	touchedAt       time.Time
}

// New creates a session with an empty rule set.
func New(engine Engine, opts ...Option) *Session {
	s := &Session{
		engine:     engine,
		log:        zerolog.Nop(),
		now:        time.Now,
		maxRuleLen: rules.DefaultMaxRuleLength,
		combined:   cache.New(),
		hub:        newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	s.rules = ruleset.New(engine, s.maxRuleLen)
	s.createdAt = s.now().UTC()
	s.touchedAt = s.createdAt
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Append validates rule and adds it to the end of the rule set.
// The returned AST is also kept as the displayed AST.
func (s *Session) Append(ctx context.Context, rule string) (rules.AST, error) {
	s.touch()
	ast, err := s.rules.Append(ctx, rule)
	if err != nil {
		s.log.Info().Err(err).Msg("failed to add rule")
		return nil, err
	}

	s.mu.Lock()
	s.lastAST = ast
	s.mu.Unlock()

	s.log.Debug().Int("rules", s.rules.Len()).Msg("rule added")
	s.publish(EventRules)
	s.publish(EventAST)
	return ast, nil
}

// ReplaceLast validates rule and overwrites the last rule with it.
func (s *Session) ReplaceLast(ctx context.Context, rule string) (rules.AST, error) {
	s.touch()
	ast, err := s.rules.ReplaceLast(ctx, rule)
	if err != nil {
		s.log.Info().Err(err).Msg("failed to update rule")
		return nil, err
	}

	s.mu.Lock()
	s.lastAST = ast
	s.mu.Unlock()

	s.log.Debug().Int("rules", s.rules.Len()).Msg("last rule replaced")
	s.publish(EventRules)
	s.publish(EventAST)
	return ast, nil
}

// RemoveLast drops the last rule. When the set becomes empty the displayed
// AST and the combined rule are cleared as well.
func (s *Session) RemoveLast() error {
	s.touch()

	// the emptying remove and the clear are one step for Combine
	s.seqMu.Lock()
	remaining, err := s.rules.RemoveLast()
	if err != nil {
		s.seqMu.Unlock()
		return err
	}
	if remaining == 0 {
		s.clearCombinedLocked()
	}
	s.seqMu.Unlock()

	s.publish(EventRules)
	if remaining == 0 {
		s.mu.Lock()
		s.lastAST = nil
		s.mu.Unlock()
		s.publish(EventAST)
		s.publish(EventCombined)
	}
	s.log.Debug().Int("rules", remaining).Msg("last rule removed")
	return nil
}

// Rules returns a snapshot of the rule set in order.
func (s *Session) Rules() []string {
	return s.rules.Snapshot()
}

// Combine derives the combined rule from the current rule set and caches it.
//
// An empty set fails with rules.ErrEmptyRuleSet without contacting the
// engine. On failure the cache is left as it was and a warning is recorded
// in the view, so a stale or missing combined rule is visible.
func (s *Session) Combine(ctx context.Context) (rules.Combined, error) {
	s.touch()
	s.seqMu.Lock()
	list, version := s.rules.SnapshotVersion()
	if len(list) == 0 {
		s.seqMu.Unlock()
		return rules.Combined{}, rules.ErrEmptyRuleSet
	}
	seq := s.combineSeq.Add(1)
	s.seqMu.Unlock()

	ast, err := s.engine.Combine(ctx, list)
	if err != nil {
		// a later combine or clear owns the cache and the warning now
		if seq < s.combineSeq.Load() {
			telemetry.ObserveStaleResponse(client.OpCombineRules)
			s.log.Debug().Err(err).Uint64("seq", seq).Msg("discarding superseded combine failure")
			return rules.Combined{}, ErrSuperseded
		}
		s.warn("combined rule was not refreshed: " + err.Error())
		s.log.Warn().Err(err).Uint64("seq", seq).Msg("combine failed")
		return rules.Combined{}, err
	}

	entry := rules.NewCombined(ast, list, version, seq, s.now().UTC())
	if !s.combined.SetIfNewer(entry) {
		telemetry.ObserveStaleResponse(client.OpCombineRules)
		s.log.Debug().Uint64("seq", seq).Msg("discarding superseded combine response")
		return entry, ErrSuperseded
	}

	s.mu.Lock()
	s.warning = ""
	s.mu.Unlock()

	s.log.Debug().Uint64("seq", seq).Int("rules", len(list)).Msg("rules combined")
	s.publish(EventCombined)
	return entry, nil
}

// ClearCombination discards the combined rule. Combine responses still in
// flight are ignored when they arrive.
func (s *Session) ClearCombination() {
	s.touch()
	s.clearCombined()
	s.publish(EventCombined)
}

func (s *Session) clearCombined() {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.clearCombinedLocked()
}

// clearCombinedLocked requires seqMu.
func (s *Session) clearCombinedLocked() {
	seq := s.combineSeq.Add(1)
	s.combined.Clear()
	s.combined.Discard(seq)
}

// Combined returns the cached combined rule and whether it still matches the
// rule set. ok is false if nothing is cached.
func (s *Session) Combined() (entry rules.Combined, fresh, ok bool) {
	entry, ok, fresh = s.combined.Fresh(s.rules.Version())
	return entry, fresh, ok
}

// Evaluate evaluates the cached combined rule against rec.
//
// Preconditions, checked before any engine call and in this order:
// a combined rule exists (rules.ErrMissingCombination), the rule set is not
// empty (rules.ErrEmptyRuleSet), the combined rule matches the current rule
// set (rules.ErrStaleCombination) and the department is not blank
// (*rules.IncompleteDataError).
//
// A typed Record cannot tell a zero numeric field from an absent one, so only
// the department is checked here. Callers holding raw input should use
// EvaluateFields, which enforces that every field is present and numeric.
func (s *Session) Evaluate(ctx context.Context, rec rules.Record) (rules.Decision, error) {
	s.touch()
	entry, err := s.readyCombination()
	if err != nil {
		return rules.Decision{}, err
	}
	if rec.Department == "" {
		return rules.Decision{}, &rules.IncompleteDataError{Missing: []string{rules.FieldDepartment}}
	}
	return s.evaluate(ctx, entry, rec)
}

// EvaluateFields parses raw form fields into a record and evaluates it.
// Combination preconditions are checked first, so a missing combined rule is
// reported regardless of the field contents.
func (s *Session) EvaluateFields(ctx context.Context, fields map[string]string) (rules.Decision, error) {
	s.touch()
	entry, err := s.readyCombination()
	if err != nil {
		return rules.Decision{}, err
	}
	rec, err := rules.ParseRecord(fields)
	if err != nil {
		return rules.Decision{}, err
	}
	return s.evaluate(ctx, entry, rec)
}

func (s *Session) readyCombination() (rules.Combined, error) {
	entry, present := s.combined.Get()
	if !present {
		return rules.Combined{}, rules.ErrMissingCombination
	}
	if s.rules.Len() == 0 {
		return rules.Combined{}, rules.ErrEmptyRuleSet
	}
	if entry.RulesVersion != s.rules.Version() {
		return rules.Combined{}, rules.ErrStaleCombination
	}
	return entry, nil
}

func (s *Session) evaluate(ctx context.Context, entry rules.Combined, rec rules.Record) (rules.Decision, error) {
	seq := s.evalSeq.Add(1)
	res, err := s.engine.Evaluate(ctx, rules.AST(entry.Serialized), rec)
	if err != nil {
		s.log.Warn().Err(err).Uint64("seq", seq).Msg("evaluate failed")
		return rules.Decision{}, err
	}

	decision := rules.NewDecision(res.Result, rec, res.Payload, s.now().UTC())

	s.mu.Lock()
	applied := seq > s.lastDecisionSeq
	if applied {
		d := decision
		s.lastDecision = &d
		s.lastDecisionSeq = seq
	}
	s.mu.Unlock()

	if !applied {
		telemetry.ObserveStaleResponse(client.OpEvaluateRule)
		s.log.Debug().Uint64("seq", seq).Msg("evaluate response superseded, not displayed")
		return decision, nil
	}

	s.log.Info().Bool("result", decision.Result).Uint64("seq", seq).Msg("rule evaluated")
	s.publish(EventDecision)
	return decision, nil
}

// Reset returns the session to its initial state: empty rule set, nothing
// combined, nothing displayed. The session ID is kept.
func (s *Session) Reset() {
	s.touch()
	s.seqMu.Lock()
	s.rules.Reset()
	s.clearCombinedLocked()
	s.seqMu.Unlock()

	s.mu.Lock()
	s.lastAST = nil
	s.lastDecision = nil
	s.lastDecisionSeq = s.evalSeq.Load()
	s.warning = ""
	s.mu.Unlock()

	s.log.Info().Msg("session reset")
	s.publish(EventReset)
}

// Subscribe registers an observer. The channel is closed by the returned
// func or when the session is closed. Slow observers miss events.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe()
}

// Close releases observers. The session must not be used afterwards.
func (s *Session) Close() {
	s.hub.closeAll()
}

// LastActive returns the time of the last operation on the session.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touchedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.touchedAt = s.now().UTC()
	s.mu.Unlock()
}

func (s *Session) warn(msg string) {
	s.mu.Lock()
	s.warning = msg
	s.mu.Unlock()
	s.publish(EventWarning)
}

func (s *Session) publish(typ string) {
	s.hub.publish(Event{Type: typ, Version: s.rules.Version(), At: s.now().UTC()})
}

// CombinedView is the display form of the cached combined rule.
type CombinedView struct {
	AST        rules.AST `json:"ast"`
	Rules      []string  `json:"rules"`
	Stale      bool      `json:"stale"`
	CombinedAt time.Time `json:"combinedAt"`
}

// View is a read-only snapshot of everything a presentation layer shows.
type View struct {
	ID           string          `json:"id"`
	Rules        []string        `json:"rules"`
	Version      uint64          `json:"version"`
	Fingerprint  string          `json:"fingerprint"`
	LastAST      rules.AST       `json:"lastAst,omitempty"`
	Combined     *CombinedView   `json:"combined,omitempty"`
	LastDecision *rules.Decision `json:"lastDecision,omitempty"`
	Warning      string          `json:"warning,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// View returns the current presentation state.
func (s *Session) View() View {
	list, version := s.rules.SnapshotVersion()
	v := View{
		ID:          s.id,
		Rules:       list,
		Version:     version,
		Fingerprint: strconv.FormatUint(ruleset.Fingerprint(list), 16),
	}

	if entry, ok := s.combined.Get(); ok {
		v.Combined = &CombinedView{
			AST:        entry.AST,
			Rules:      entry.Rules,
			Stale:      entry.RulesVersion != version,
			CombinedAt: entry.CombinedAt,
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v.LastAST = s.lastAST
	if s.lastDecision != nil {
		d := *s.lastDecision
		v.LastDecision = &d
	}
	v.Warning = s.warning
	v.CreatedAt = s.createdAt
	v.UpdatedAt = s.touchedAt
	return v
}
