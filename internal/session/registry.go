package session

import "context"

// Spec describes a session to create. ID is the room name and must be
// unique among active sessions.
type Spec struct {
	ID              string
	PatientID       string
	Location        string
	HardwareID      string
	DoctorIDs       []string
	EmergencyPhones []string
	ImageRef        string
}

// Registry tracks active sessions keyed by room name. Implementations
// must serialize mutation per session key; reads and mutations on
// unrelated sessions never block each other.
type Registry interface {
	// Create registers a new session. Fails with ErrAlreadyExists on a
	// room-name collision.
	Create(ctx context.Context, spec Spec) (*Session, error)

	// Get returns a snapshot of the session, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update runs fn on the live session under its per-key lock and
	// returns a snapshot of the result. fn returning an error aborts the
	// mutation. Fails with ErrNotFound if the session is gone.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)

	// End closes and removes the session, returning the final snapshot
	// for logging. Fails with ErrNotFound if absent.
	End(ctx context.Context, id string) (*Session, error)

	// List returns snapshots of all active sessions, not a live view.
	List(ctx context.Context) []*Session

	// Reconcile aligns the registry with the backing room's liveness.
	// When stillExists is false the entry is pruned even without an
	// explicit End call; the removed snapshot is returned.
	Reconcile(ctx context.Context, id string, stillExists bool) (*Session, bool, error)
}

// Archiver receives final snapshots of ended sessions for durable
// storage. The registry itself is process-lifetime, in-memory only;
// archival is a collaborator concern and failures must never block
// session teardown.
type Archiver interface {
	Archive(ctx context.Context, s *Session) error
}
