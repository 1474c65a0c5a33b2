// internal/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tamzrod/camlink/internal/fault"
)

// Member is a registered device. Powered is called with the member locked.
type Member interface {
	comparable
	sync.Locker
	Powered() bool
}

// Handle is a generation-checked reference to a registry slot.
// A handle outlives its member safely: once the member is unregistered the
// handle simply stops resolving, even if the slot is reused.
type Handle struct {
	idx uint32
	gen uint32
}

// Valid reports whether h was ever issued. The zero Handle is never issued.
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string { return fmt.Sprintf("%d#%d", h.idx, h.gen) }

type slot[T Member] struct {
	gen  uint32
	live bool
	val  T
}

// Registry is the set of live devices sharing a bus segment or link.
//
// Iteration never holds more than one member lock at a time and never holds
// the registry lock while a member lock is taken, so callbacks may register
// or unregister other members.
type Registry[T Member] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	order []Handle // insertion order

	logger Logger
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// New creates an empty registry.
func New[T Member]() *Registry[T] {
	return &Registry[T]{logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry[T]) SetLogger(l Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// Register adds v. Registering a member twice is a programming error.
func (r *Registry[T]) Register(v T) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.order {
		if r.slots[h.idx].val == v {
			return Handle{}, fault.Programming("registry: member already registered as %s", h)
		}
	}

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}

	s := &r.slots[idx]
	s.gen++
	s.live = true
	s.val = v

	h := Handle{idx: idx, gen: s.gen}
	r.order = append(r.order, h)

	r.logger.Debug("registry member added", "handle", h.String(), "count", len(r.order))
	return h, nil
}

// Unregister removes the member h refers to. A stale handle is a
// programming error.
func (r *Registry[T]) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.liveLocked(h) {
		return fault.Programming("registry: unregister of unknown handle %s", h)
	}

	s := &r.slots[h.idx]
	var zero T
	s.live = false
	s.val = zero
	r.free = append(r.free, h.idx)

	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug("registry member removed", "handle", h.String(), "count", len(r.order))
	return nil
}

// Get resolves h.
func (r *Registry[T]) Get(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveLocked(h) {
		var zero T
		return zero, false
	}
	return r.slots[h.idx].val, true
}

// Len is the number of registered members.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Handles returns the current members in insertion order.
func (r *Registry[T]) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, len(r.order))
	copy(out, r.order)
	return out
}

// ErrGone is returned by With when the handle no longer resolves.
var ErrGone = errors.New("registry: member gone")

// With runs fn with the member h refers to locked.
func (r *Registry[T]) With(h Handle, fn func(T) error) error {
	v, ok := r.Get(h)
	if !ok {
		return ErrGone
	}
	v.Lock()
	defer v.Unlock()
	if !r.live(h) {
		return ErrGone
	}
	return fn(v)
}

// ForEach calls fn for every member registered when the iteration started
// and still registered when its turn comes, with that member locked.
// Every member is visited; errors are joined.
func (r *Registry[T]) ForEach(fn func(Handle, T) error) error {
	return r.visit(false, func(h Handle, v T) (bool, error) { return false, fn(h, v) })
}

// ForEachPowered is ForEach restricted to powered members. The power check
// happens under the member lock, immediately before fn.
func (r *Registry[T]) ForEachPowered(fn func(Handle, T) error) error {
	return r.visit(true, func(h Handle, v T) (bool, error) { return false, fn(h, v) })
}

// Find returns the first member in insertion order for which match reports
// true. match runs with the member locked.
func (r *Registry[T]) Find(match func(T) bool) (Handle, T, bool) {
	return r.find(false, match)
}

// FindPowered is Find restricted to powered members.
func (r *Registry[T]) FindPowered(match func(T) bool) (Handle, T, bool) {
	return r.find(true, match)
}

func (r *Registry[T]) find(poweredOnly bool, match func(T) bool) (Handle, T, bool) {
	var (
		found Handle
		val   T
		ok    bool
	)
	_ = r.visit(poweredOnly, func(h Handle, v T) (bool, error) {
		if match(v) {
			found, val, ok = h, v, true
			return true, nil
		}
		return false, nil
	})
	return found, val, ok
}

// visit walks a snapshot of the insertion order. fn returns stop to end the
// walk early.
func (r *Registry[T]) visit(poweredOnly bool, fn func(Handle, T) (stop bool, err error)) error {
	var errs []error
	for _, h := range r.Handles() {
		v, ok := r.Get(h)
		if !ok {
			continue
		}

		v.Lock()
		// removed while we waited for its lock
		if !r.live(h) || (poweredOnly && !v.Powered()) {
			v.Unlock()
			continue
		}
		stop, err := fn(h, v)
		v.Unlock()

		if err != nil {
			errs = append(errs, err)
		}
		if stop {
			break
		}
	}
	return errors.Join(errs...)
}

func (r *Registry[T]) live(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(h)
}

func (r *Registry[T]) liveLocked(h Handle) bool {
	if !h.Valid() || int(h.idx) >= len(r.slots) {
		return false
	}
	s := r.slots[h.idx]
	return s.live && s.gen == h.gen
}
