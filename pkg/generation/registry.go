package generation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCancelWindow is how long a cancel affordance stays live.
const DefaultCancelWindow = 30 * time.Second

// CancelResult describes what a cancel request did.
type CancelResult int

const (
	// CancelApplied means the token was live and is now set.
	CancelApplied CancelResult = iota
	// CancelAlreadySet means a previous request already set the token.
	CancelAlreadySet
	// CancelExpired means the affordance went inert or the request finished.
	CancelExpired
)

func (r CancelResult) String() string {
	switch r {
	case CancelApplied:
		return "applied"
	case CancelAlreadySet:
		return "already_set"
	default:
		return "expired"
	}
}

type registration struct {
	token *Token
	timer *time.Timer
}

// Registry maps cancel affordance IDs (for example a button custom ID) to
// live tokens. An ID stops resolving once its window elapses or the request
// is released; that makes the affordance inert without touching the work.
type Registry struct {
	mu     sync.Mutex
	window time.Duration
	live   map[string]*registration
}

func NewRegistry(window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultCancelWindow
	}
	return &Registry{
		window: window,
		live:   make(map[string]*registration),
	}
}

// Issue creates a token with a fresh ID and registers it.
func (r *Registry) Issue() *Token {
	token := NewToken(uuid.NewString())
	reg := &registration{token: token}

	r.mu.Lock()
	r.live[token.ID()] = reg
	reg.timer = time.AfterFunc(r.window, func() {
		r.Release(token.ID())
	})
	r.mu.Unlock()
	return token
}

// Cancel sets the token registered under id if its affordance is still live.
func (r *Registry) Cancel(id string) CancelResult {
	r.mu.Lock()
	reg, ok := r.live[id]
	r.mu.Unlock()
	if !ok {
		return CancelExpired
	}
	if reg.token.Set() {
		return CancelApplied
	}
	return CancelAlreadySet
}

// Release retires id so later cancel requests are ignored.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	reg, ok := r.live[id]
	if ok {
		delete(r.live, id)
	}
	r.mu.Unlock()
	if ok && reg.timer != nil {
		reg.timer.Stop()
	}
}

// Live reports how many affordances can still be pressed.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) Window() time.Duration {
	return r.window
}
