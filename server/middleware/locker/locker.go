// Package locker provides an HTTP middleware which refuses state-changing
// requests with 423 (Locked) while it is locked, e.g. while a scan owns the
// hardware.
package locker

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/beamprof/generichttp"
)

// ErrHeld is returned when unlocking while a hold is in place
var ErrHeld = errors.New("locker: held by a running scan")

// Locker is a flag guarding a set of routes.  Unlike a sync.Mutex, locking
// never blocks; requests arriving while it is held are refused instead.
//
// There are two flags.  The lock is set and cleared by operators over HTTP and
// refuses writes.  The hold belongs to the process, e.g. a scan, and refuses
// every request but reads of the lock state and the endpoints list.  The hold
// cannot be released over HTTP.
type Locker struct {
	mu     sync.RWMutex
	locked bool
	held   bool

	// DoNotProtect lists path fragments which are never refused by the lock
	DoNotProtect []string
}

// New returns an unlocked Locker which leaves the lock and endpoints routes
// reachable
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "endpoints"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.set(true)
}

// Unlock the locker.  It has no effect on a hold.
func (l *Locker) Unlock() {
	l.set(false)
}

func (l *Locker) set(b bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !b && l.held {
		return ErrHeld
	}
	l.locked = b
	return nil
}

// Hold places the hold.  It returns false if it was already held.
func (l *Locker) Hold() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

// Release removes the hold, leaving the lock as it was
func (l *Locker) Release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

// Locked returns true if the locker is locked or held
func (l *Locker) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locked || l.held
}

// Held returns true while the hold is in place
func (l *Locker) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

func (l *Locker) exempt(path string) bool {
	for _, str := range l.DoNotProtect {
		if strings.Contains(path, str) {
			return true
		}
	}
	return false
}

func (l *Locker) refuse(r *http.Request) bool {
	l.mu.RLock()
	locked, held := l.locked, l.held
	l.mu.RUnlock()
	if held {
		return r.Method != http.MethodGet || !l.exempt(r.URL.Path)
	}
	return locked && r.Method != http.MethodGet && !l.exempt(r.URL.Path)
}

// Check is the middleware.  While locked, GET requests pass.  While held,
// only GET requests to exempt paths pass.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.refuse(r) {
			http.Error(w, "hardware is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject adds GET and POST /lock routes to other, reading and setting l
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = generichttp.GetBool(func() (bool, error) {
		return l.Locked(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = generichttp.SetBool(l.set)
}
