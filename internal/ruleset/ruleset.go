// Package ruleset holds the ordered collection of accepted rule strings.
//
// A rule enters the set only after the Validator accepts it. Order is
// significant (it is the combination order) and duplicates are allowed.
// Every successful mutation bumps Version, which callers use to detect
// that a combined rule no longer matches the set.
package ruleset

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/TimurManjosov/rulekit/internal/rules"
)

// Validator parses a rule remotely. fallback is the message used when the
// engine rejects the rule without explaining why.
type Validator interface {
	Validate(ctx context.Context, rule, fallback string) (rules.AST, error)
}

// Set is an ordered, mutable sequence of validated rules.
// It is safe for concurrent use; mutations are serialized, including the
// validation round trip, so only one mutation is in flight at a time.
type Set struct {
	validator Validator
	maxLen    int

	opMu    sync.Mutex   // serializes mutations across validation
	mu      sync.RWMutex // guards rules and version
	rules   []string
	version uint64
}

// New creates an empty Set. maxLen bounds rule length (<= 0 disables the check).
func New(v Validator, maxLen int) *Set {
	return &Set{
		validator: v,
		maxLen:    maxLen,
		rules:     []string{},
	}
}

// Append validates rule and appends it to the end of the set.
// Blank input fails with rules.ErrEmptyRule without contacting the engine.
// On any failure the set is unchanged.
func (s *Set) Append(ctx context.Context, rule string) (rules.AST, error) {
	rule, err := rules.NormalizeRule(rule, s.maxLen)
	if err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	ast, err := s.validator.Validate(ctx, rule, rules.FallbackAddMessage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.version++
	s.mu.Unlock()
	return ast, nil
}

// ReplaceLast validates rule and overwrites the final element in place.
// An empty set fails with rules.ErrEmptyRuleSet.
func (s *Set) ReplaceLast(ctx context.Context, rule string) (rules.AST, error) {
	if s.Len() == 0 {
		return nil, rules.ErrEmptyRuleSet
	}
	rule, err := rules.NormalizeRule(rule, s.maxLen)
	if err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// re-check under the mutation lock; a concurrent RemoveLast may have emptied the set
	if s.Len() == 0 {
		return nil, rules.ErrEmptyRuleSet
	}

	ast, err := s.validator.Validate(ctx, rule, rules.FallbackUpdateMessage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.rules[len(s.rules)-1] = rule
	s.version++
	s.mu.Unlock()
	return ast, nil
}

// RemoveLast drops the final element and reports how many rules remain.
// An empty set fails with rules.ErrEmptyRuleSet and stays empty.
func (s *Set) RemoveLast() (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rules) == 0 {
		return 0, rules.ErrEmptyRuleSet
	}
	s.rules[len(s.rules)-1] = ""
	s.rules = s.rules[:len(s.rules)-1]
	s.version++
	return len(s.rules), nil
}

// Reset empties the set.
func (s *Set) Reset() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rules) == 0 {
		return
	}
	s.rules = []string{}
	s.version++
}

// Snapshot returns a copy of the rules in order.
func (s *Set) Snapshot() []string {
	list, _ := s.SnapshotVersion()
	return list
}

// SnapshotVersion returns a copy of the rules together with the version they belong to.
func (s *Set) SnapshotVersion() ([]string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rules))
	copy(out, s.rules)
	return out, s.version
}

// Len returns the number of rules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Version increases by one on every successful mutation.
func (s *Set) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Fingerprint hashes an ordered rule list. Equal lists give equal fingerprints;
// rule boundaries are length-prefixed so ["ab","c"] and ["a","bc"] differ.
func Fingerprint(ruleList []string) uint64 {
	d := xxhash.New()
	var n [8]byte
	for _, r := range ruleList {
		binary.LittleEndian.PutUint64(n[:], uint64(len(r)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(r)
	}
	return d.Sum64()
}

// IsRejection reports whether err means the engine refused the rule text,
// as opposed to an input or transport problem.
func IsRejection(err error) bool {
	var vErr *rules.ValidationError
	return errors.As(err, &vErr)
}
