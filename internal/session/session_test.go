package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/rulekit/internal/client"
	"github.com/TimurManjosov/rulekit/internal/rules"
	"github.com/TimurManjosov/rulekit/internal/testutil"
)

// stubEngine is an in-process Engine with overridable behavior per call.
type stubEngine struct {
	mu          sync.Mutex
	validateFn  func(rule string) (rules.AST, error)
	combineFn   func(call int, list []string) (rules.AST, error)
	evaluateFn  func(call int, ast rules.AST, rec rules.Record) (*client.EvaluateResult, error)
	validates   int
	combines    int
	evaluations int
}

func (e *stubEngine) Validate(_ context.Context, rule, _ string) (rules.AST, error) {
	e.mu.Lock()
	e.validates++
	fn := e.validateFn
	e.mu.Unlock()
	if fn != nil {
		return fn(rule)
	}
	return rules.AST(`{"rule":"` + rule + `"}`), nil
}

func (e *stubEngine) Combine(_ context.Context, list []string) (rules.AST, error) {
	e.mu.Lock()
	e.combines++
	call := e.combines
	fn := e.combineFn
	e.mu.Unlock()
	if fn != nil {
		return fn(call, list)
	}
	return rules.AST(`{"op":"AND","args":[]}`), nil
}

func (e *stubEngine) Evaluate(_ context.Context, ast rules.AST, rec rules.Record) (*client.EvaluateResult, error) {
	e.mu.Lock()
	e.evaluations++
	call := e.evaluations
	fn := e.evaluateFn
	e.mu.Unlock()
	if fn != nil {
		return fn(call, ast, rec)
	}
	return &client.EvaluateResult{Result: true, Payload: []byte(`{"result":true}`)}, nil
}

func (e *stubEngine) counts() (validates, combines, evaluations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validates, e.combines, e.evaluations
}

var salesRecord = rules.Record{Age: 35, Salary: 50000, Experience: 5, Department: "Sales"}

// newHTTPSession wires a session to a fake engine through the real client.
func newHTTPSession(t *testing.T) (*Session, *testutil.FakeEngine) {
	t.Helper()
	engine := testutil.NewFakeEngine(t)
	return New(client.NewClient(engine.URL(), client.WithTimeout(time.Second))), engine
}

// ============================================================================
// Rule set lifecycle
// ============================================================================

func TestSession_AppendReturnsAST(t *testing.T) {
	s, engine := newHTTPSession(t)
	engine.Handle(testutil.CreateRule, testutil.JSONHandler(http.StatusOK, `{"op":">","left":"age","right":30}`))

	ast, err := s.Append(context.Background(), "age > 30")
	require.NoError(t, err)

	assert.JSONEq(t, `{"op":">","left":"age","right":30}`, string(ast))
	assert.Equal(t, []string{"age > 30"}, s.Rules())
	assert.JSONEq(t, string(ast), string(s.View().LastAST))
}

func TestSession_AppendBlankNeverCallsEngine(t *testing.T) {
	s, engine := newHTTPSession(t)

	for _, in := range []string{"", "   ", "\t\n"} {
		_, err := s.Append(context.Background(), in)
		require.ErrorIs(t, err, rules.ErrEmptyRule)
	}
	assert.Empty(t, s.Rules())
	assert.Equal(t, 0, engine.TotalCalls())
}

func TestSession_AppendRejectedLeavesStateUnchanged(t *testing.T) {
	s, _ := newHTTPSession(t)
	_, err := s.Append(context.Background(), "age > 30")
	require.NoError(t, err)
	before := s.View()

	_, err = s.Append(context.Background(), "age >> INVALID")
	var vErr *rules.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Invalid rule syntax", vErr.Message)

	after := s.View()
	assert.Equal(t, before.Rules, after.Rules)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.LastAST, after.LastAST)
}

func TestSession_ReplaceLastAndRemoveLast(t *testing.T) {
	s := New(&stubEngine{})
	ctx := context.Background()

	_, err := s.ReplaceLast(ctx, "age > 30")
	require.ErrorIs(t, err, rules.ErrEmptyRuleSet)
	require.ErrorIs(t, s.RemoveLast(), rules.ErrEmptyRuleSet)
	assert.Empty(t, s.Rules())

	for _, r := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, r)
		require.NoError(t, err)
	}

	_, err = s.ReplaceLast(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "z"}, s.Rules())

	require.NoError(t, s.RemoveLast())
	assert.Equal(t, []string{"a", "b"}, s.Rules())
}

func TestSession_RemoveLastToEmptyClearsDisplay(t *testing.T) {
	s := New(&stubEngine{})
	ctx := context.Background()

	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RemoveLast())

	v := s.View()
	assert.Empty(t, v.Rules)
	assert.Nil(t, v.LastAST)
	assert.Nil(t, v.Combined)

	_, err = s.Evaluate(ctx, salesRecord)
	assert.ErrorIs(t, err, rules.ErrMissingCombination)
}

// ============================================================================
// Combine
// ============================================================================

func TestSession_CombineEmptySetMakesNoCall(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)

	_, err := s.Combine(context.Background())
	require.ErrorIs(t, err, rules.ErrEmptyRuleSet)

	_, combines, _ := eng.counts()
	assert.Equal(t, 0, combines)
}

func TestSession_CombineCachesAST(t *testing.T) {
	s, engine := newHTTPSession(t)
	engine.Handle(testutil.CombineRules, testutil.JSONHandler(http.StatusOK, `{"op":"AND","args":[{"op":">"}]}`))
	ctx := context.Background()

	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)

	entry, err := s.Combine(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"AND","args":[{"op":">"}]}`, string(entry.AST))

	cached, fresh, ok := s.Combined()
	require.True(t, ok)
	assert.True(t, fresh)
	assert.JSONEq(t, string(entry.AST), string(cached.AST))
	assert.Equal(t, []string{"age > 30"}, cached.Rules)
}

func TestSession_CombineFailureKeepsCacheAndWarns(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()

	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	first, err := s.Combine(ctx)
	require.NoError(t, err)

	_, err = s.Append(ctx, "salary > 1000")
	require.NoError(t, err)

	eng.combineFn = func(int, []string) (rules.AST, error) {
		return nil, &rules.CombineError{Status: http.StatusInternalServerError, Message: "boom"}
	}
	_, err = s.Combine(ctx)
	var cErr *rules.CombineError
	require.ErrorAs(t, err, &cErr)

	v := s.View()
	require.NotNil(t, v.Combined)
	assert.Equal(t, first.AST, v.Combined.AST)
	assert.True(t, v.Combined.Stale)
	assert.Contains(t, v.Warning, "combined rule was not refreshed")

	// a later successful combine clears the warning
	eng.combineFn = nil
	_, err = s.Combine(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.View().Warning)
}

func TestSession_CombineLogicallyLastRequestWins(t *testing.T) {
	eng := &stubEngine{}
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	eng.combineFn = func(call int, _ []string) (rules.AST, error) {
		if call == 1 {
			close(firstStarted)
			<-releaseFirst
			return rules.AST(`{"request":1}`), nil
		}
		return rules.AST(`{"request":2}`), nil
	}

	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Combine(ctx)
		firstErr <- err
	}()
	<-firstStarted

	// second request is issued later but answered first
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	close(releaseFirst)
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	entry, fresh, ok := s.Combined()
	require.True(t, ok)
	assert.True(t, fresh)
	assert.JSONEq(t, `{"request":2}`, string(entry.AST))
}

func TestSession_ClearCombinationIgnoresInFlightResponse(t *testing.T) {
	eng := &stubEngine{}
	started := make(chan struct{})
	release := make(chan struct{})
	eng.combineFn = func(int, []string) (rules.AST, error) {
		close(started)
		<-release
		return rules.AST(`{"late":true}`), nil
	}

	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Combine(ctx)
		done <- err
	}()
	<-started
	s.ClearCombination()
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	_, _, ok := s.Combined()
	assert.False(t, ok)
}

func TestSession_SupersededCombineFailureDoesNotWarn(t *testing.T) {
	eng := &stubEngine{}
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	eng.combineFn = func(call int, _ []string) (rules.AST, error) {
		if call == 1 {
			close(firstStarted)
			<-releaseFirst
			return nil, &rules.CombineError{Status: http.StatusBadGateway, Message: "late failure"}
		}
		return rules.AST(`{"request":2}`), nil
	}

	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Combine(ctx)
		firstErr <- err
	}()
	<-firstStarted

	_, err = s.Combine(ctx)
	require.NoError(t, err)

	close(releaseFirst)
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	entry, fresh, ok := s.Combined()
	require.True(t, ok)
	assert.True(t, fresh)
	assert.JSONEq(t, `{"request":2}`, string(entry.AST))
	assert.Empty(t, s.View().Warning)
}

func TestSession_RemoveToEmptyNeverWipesLaterCombination(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		s := New(&stubEngine{})
		_, err := s.Append(ctx, "age > 30")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var combineErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.RemoveLast()
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, "salary > 1000"); err != nil {
				combineErr = err
				return
			}
			_, combineErr = s.Combine(ctx)
		}()
		wg.Wait()

		if combineErr == nil {
			_, _, ok := s.Combined()
			require.True(t, ok, "iteration %d: successful combine was wiped", i)
		}
		s.Close()
	}
}

// ============================================================================
// Evaluate
// ============================================================================

func TestSession_EvaluateSendsCompactCombinedAST(t *testing.T) {
	var sent rules.AST
	eng := &stubEngine{
		combineFn: func(int, []string) (rules.AST, error) {
			return rules.AST("{\n  \"op\": \"AND\",\n  \"args\": []\n}"), nil
		},
		evaluateFn: func(_ int, ast rules.AST, _ rules.Record) (*client.EvaluateResult, error) {
			sent = ast
			return &client.EvaluateResult{Result: true}, nil
		},
	}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	_, err = s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)
	assert.Equal(t, `{"op":"AND","args":[]}`, string(sent))
}

func TestSession_EvaluateEligible(t *testing.T) {
	s, engine := newHTTPSession(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	d, err := s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)
	assert.True(t, d.Result)
	assert.Equal(t, rules.Eligible, d.Label)
	assert.Equal(t, 1, engine.Calls(testutil.EvaluateRule))

	v := s.View()
	require.NotNil(t, v.LastDecision)
	assert.Equal(t, rules.Eligible, v.LastDecision.Label)
}

func TestSession_EvaluateNotEligible(t *testing.T) {
	eng := &stubEngine{
		evaluateFn: func(int, rules.AST, rules.Record) (*client.EvaluateResult, error) {
			return &client.EvaluateResult{Result: false}, nil
		},
	}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 60")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	d, err := s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)
	assert.Equal(t, rules.NotEligible, d.Label)
}

func TestSession_EvaluateWithoutCombinationMakesNoCall(t *testing.T) {
	records := []map[string]string{
		{},
		{"age": "35", "salary": "50000", "experience": "5", "department": "Sales"},
		{"age": "abc", "salary": "", "experience": "x", "department": " "},
	}

	for _, fields := range records {
		eng := &stubEngine{}
		s := New(eng)
		_, err := s.Append(context.Background(), "age > 30")
		require.NoError(t, err)

		_, err = s.EvaluateFields(context.Background(), fields)
		assert.ErrorIs(t, err, rules.ErrMissingCombination)

		_, _, evaluations := eng.counts()
		assert.Equal(t, 0, evaluations)
	}
}

func TestSession_EvaluateIncompleteData(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	_, err = s.EvaluateFields(ctx, map[string]string{"age": "35", "salary": "50000", "experience": "5"})
	var iErr *rules.IncompleteDataError
	require.ErrorAs(t, err, &iErr)
	assert.Equal(t, []string{rules.FieldDepartment}, iErr.Missing)

	rec := salesRecord
	rec.Department = ""
	_, err = s.Evaluate(ctx, rec)
	require.ErrorAs(t, err, &iErr)

	_, _, evaluations := eng.counts()
	assert.Equal(t, 0, evaluations)
}

func TestSession_EvaluateInvalidNumericField(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	_, err = s.EvaluateFields(ctx, map[string]string{"age": "thirty", "salary": "50000", "experience": "5", "department": "Sales"})
	var nErr *rules.InvalidNumericFieldError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, rules.FieldAge, nErr.Field)

	_, _, evaluations := eng.counts()
	assert.Equal(t, 0, evaluations)
}

func TestSession_MutationMakesCombinationStale(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	mutations := []func() error{
		func() error { _, err := s.Append(ctx, "salary > 1000"); return err },
		func() error { _, err := s.ReplaceLast(ctx, "salary > 2000"); return err },
		func() error { return s.RemoveLast() },
	}
	for _, mutate := range mutations {
		require.NoError(t, mutate())

		_, err := s.Evaluate(ctx, salesRecord)
		require.ErrorIs(t, err, rules.ErrStaleCombination)
		assert.ErrorIs(t, err, rules.ErrMissingCombination)
		assert.True(t, s.View().Combined.Stale)

		_, err = s.Combine(ctx)
		require.NoError(t, err)
		_, err = s.Evaluate(ctx, salesRecord)
		require.NoError(t, err)
	}
}

func TestSession_EvaluateErrorKeepsPreviousDecision(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)
	_, err = s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)

	eng.evaluateFn = func(int, rules.AST, rules.Record) (*client.EvaluateResult, error) {
		return nil, rules.NewEvaluationError(http.StatusBadGateway)
	}
	_, err = s.Evaluate(ctx, salesRecord)
	var eErr *rules.EvaluationError
	require.ErrorAs(t, err, &eErr)
	assert.Equal(t, "Network response was not ok: Bad Gateway", eErr.Error())

	v := s.View()
	require.NotNil(t, v.LastDecision)
	assert.True(t, v.LastDecision.Result)
}

func TestSession_EvaluateLogicallyLastDecisionDisplayed(t *testing.T) {
	eng := &stubEngine{}
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	eng.evaluateFn = func(call int, _ rules.AST, rec rules.Record) (*client.EvaluateResult, error) {
		if call == 1 {
			close(firstStarted)
			<-releaseFirst
			return &client.EvaluateResult{Result: false}, nil
		}
		return &client.EvaluateResult{Result: true}, nil
	}

	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Evaluate(ctx, salesRecord)
	}()
	<-firstStarted

	_, err = s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)
	close(releaseFirst)
	<-done

	v := s.View()
	require.NotNil(t, v.LastDecision)
	assert.True(t, v.LastDecision.Result)
}

// ============================================================================
// Reset and observers
// ============================================================================

func TestSession_Reset(t *testing.T) {
	s := New(&stubEngine{}, WithID("fixed"))
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)
	_, err = s.Evaluate(ctx, salesRecord)
	require.NoError(t, err)

	s.Reset()

	v := s.View()
	assert.Equal(t, "fixed", v.ID)
	assert.Empty(t, v.Rules)
	assert.Nil(t, v.LastAST)
	assert.Nil(t, v.Combined)
	assert.Nil(t, v.LastDecision)
	assert.Empty(t, v.Warning)
}

func TestSession_SubscribeReceivesEvents(t *testing.T) {
	s := New(&stubEngine{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err := s.Append(context.Background(), "age > 30")
	require.NoError(t, err)

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	assert.Equal(t, []string{EventRules, EventAST}, got)
}

func TestSession_CloseReleasesObservers(t *testing.T) {
	s := New(&stubEngine{})
	events, unsubscribe := s.Subscribe()

	s.Close()
	_, open := <-events
	assert.False(t, open)

	// unsubscribing after close is a no-op
	unsubscribe()
}

func TestSession_FailuresNeverCorruptState(t *testing.T) {
	eng := &stubEngine{}
	s := New(eng)
	ctx := context.Background()
	_, err := s.Append(ctx, "age > 30")
	require.NoError(t, err)
	_, err = s.Combine(ctx)
	require.NoError(t, err)
	before := s.View()

	transport := &rules.TransportError{Op: client.OpCreateRule, Err: errors.New("connection refused")}
	eng.validateFn = func(string) (rules.AST, error) { return nil, transport }
	eng.combineFn = func(int, []string) (rules.AST, error) { return nil, &rules.CombineError{Err: transport} }

	_, err = s.Append(ctx, "salary > 1")
	assert.ErrorIs(t, err, transport)
	_, err = s.ReplaceLast(ctx, "salary > 1")
	assert.ErrorIs(t, err, transport)
	_, err = s.Combine(ctx)
	assert.ErrorIs(t, err, transport)

	after := s.View()
	assert.Equal(t, before.Rules, after.Rules)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Combined.AST, after.Combined.AST)
	assert.False(t, after.Combined.Stale)

	_, err = s.Evaluate(ctx, salesRecord)
	assert.NoError(t, err)
}
