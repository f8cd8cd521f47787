package session

import (
	"sync"
	"time"
)

// Event types published to observers.
const (
	EventRules    = "rules"    // rule set changed
	EventAST      = "ast"      // displayed rule AST changed or was cleared
	EventCombined = "combined" // combined rule stored or cleared
	EventDecision = "decision" // new evaluation decision
	EventWarning  = "warning"  // non-fatal warning raised
	EventReset    = "reset"    // session reset
)

// Event notifies observers that part of the session view changed.
// Observers re-read View for the new state.
type Event struct {
	Type    string    `json:"type"`
	Version uint64    `json:"version"` // rule-set version at publish time
	At      time.Time `json:"at"`
}

type subCh = chan Event

// hub fans events out to subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[subCh]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[subCh]struct{})}
}

// subscribe registers a listener and returns its channel and an unsubscribe func.
func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(subCh, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// publish notifies all listeners (non-blocking).
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default: // if observer is slow, skip instead of blocking
		}
	}
	h.mu.Unlock()
}

// closeAll unsubscribes every listener.
func (h *hub) closeAll() {
	h.mu.Lock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}
