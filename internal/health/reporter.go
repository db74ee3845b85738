// Package health is the server-health side channel. The dispatch core writes
// entries for jobs it cannot schedule and clears them once the condition
// resolves; it never uses them as an internal source of truth.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/camber-cd/camber/internal/events"
)

// Level of a health entry.
type Level string

const (
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// State is one scoped health entry.
type State struct {
	Scope       string    `json:"scope"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reporter is an in-memory set/clear health store keyed by scope.
type Reporter struct {
	mu     sync.Mutex
	states map[string]State
	hub    *events.Hub
}

func NewReporter(hub *events.Hub) *Reporter {
	return &Reporter{
		states: make(map[string]State),
		hub:    hub,
	}
}

// Update sets or refreshes the entry for its scope.
func (r *Reporter) Update(s State) {
	s.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	r.states[s.Scope] = s
	r.mu.Unlock()

	if r.hub != nil {
		r.hub.Publish("health.updated", s)
	}
}

// RemoveByScope clears the entry for scope, if any.
func (r *Reporter) RemoveByScope(scope string) {
	r.mu.Lock()
	_, existed := r.states[scope]
	delete(r.states, scope)
	r.mu.Unlock()

	if existed && r.hub != nil {
		r.hub.Publish("health.cleared", map[string]string{"scope": scope})
	}
}

// Get returns the entry for scope.
func (r *Reporter) Get(scope string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[scope]
	return s, ok
}

// States returns a snapshot of all entries, ordered by scope.
func (r *Reporter) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}
