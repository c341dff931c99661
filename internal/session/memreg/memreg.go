// Package memreg provides the in-memory session.Registry used in
// production. Sessions are process-lifetime only; a map-level RWMutex
// guards membership while each entry carries its own lock, so turns on
// one room never block turns on another.
package memreg

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/medtriage/internal/session"
)

type entry struct {
	mu   sync.Mutex
	sess *session.Session
	gone bool // set when removed so racing Updates see ErrNotFound
}

// Registry holds active sessions keyed by room name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New initializes an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create registers a new session built from spec.
func (r *Registry) Create(_ context.Context, spec session.Spec) (*session.Session, error) {
	s := &session.Session{
		ID:              spec.ID,
		PatientID:       spec.PatientID,
		Location:        spec.Location,
		HardwareID:      spec.HardwareID,
		DoctorIDs:       append([]string(nil), spec.DoctorIDs...),
		EmergencyPhones: append([]string(nil), spec.EmergencyPhones...),
		ImageRef:        spec.ImageRef,
		StartedAt:       time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.ID]; ok {
		return nil, session.ErrAlreadyExists
	}
	r.entries[spec.ID] = &entry{sess: s}
	return s.Clone(), nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(_ context.Context, id string) (*session.Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, session.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, session.ErrNotFound
	}
	return e.sess.Clone(), nil
}

// Update runs fn on the live session under its entry lock.
func (r *Registry) Update(_ context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, session.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, session.ErrNotFound
	}
	if err := fn(e.sess); err != nil {
		return nil, err
	}
	return e.sess.Clone(), nil
}

// End closes the session, removes it, and returns the final snapshot.
func (r *Registry) End(_ context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, session.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, session.ErrNotFound
	}
	e.gone = true
	e.sess.EndedAt = time.Now()
	return e.sess.Clone(), nil
}

// List returns snapshots of all active sessions.
func (r *Registry) List(_ context.Context) []*session.Session {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		es = append(es, e)
	}
	r.mu.RUnlock()

	out := make([]*session.Session, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		if !e.gone {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Reconcile prunes the entry when the backing room no longer exists.
func (r *Registry) Reconcile(ctx context.Context, id string, stillExists bool) (*session.Session, bool, error) {
	if stillExists {
		if _, ok := r.lookup(id); !ok {
			return nil, false, session.ErrNotFound
		}
		return nil, false, nil
	}
	s, err := r.End(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}
