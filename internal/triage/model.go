package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/medtriage/internal/session"
)

var (
	// ErrClassifierUnavailable wraps any transport, non-success, or parse
	// failure from the classification backend.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrCouncilUnavailable wraps any transport, non-success, or parse
	// failure from the council backend.
	ErrCouncilUnavailable = errors.New("council unavailable")

	// ErrInvalidRole is returned for join requests outside {user, doctor}.
	ErrInvalidRole = errors.New("invalid role")
)

// Category is the classification assigned to a conversation by the
// external backend.
type Category string

const (
	CategoryNormal    Category = "NORMAL"
	CategoryCritical  Category = "CRITICAL"
	CategoryEmergency Category = "EMERGENCY"
	CategoryUnknown   Category = "UNKNOWN"
)

// ParseCategory maps backend category strings onto the known set.
// Anything unrecognized degrades to UNKNOWN rather than failing the turn.
func ParseCategory(s string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryNormal:
		return CategoryNormal
	case CategoryCritical:
		return CategoryCritical
	case CategoryEmergency:
		return CategoryEmergency
	default:
		return CategoryUnknown
	}
}

// EmergencyGrade reports whether the category escalates to the council.
func (c Category) EmergencyGrade() bool {
	return c == CategoryCritical || c == CategoryEmergency
}

// Urgency is the escalation level attached to council opinions.
type Urgency string

const (
	UrgencyHigh Urgency = "HIGH"
	UrgencyLow  Urgency = "LOW"
)

// ClassificationResult is the outcome of a classify call.
type ClassificationResult struct {
	Category Category
	Response string
}

// Vote is one council member's opinion.
type Vote struct {
	Urgency    Urgency `json:"urgency"`
	Confidence float64 `json:"confidence"`
}

// CouncilResult is the aggregate confirmation verdict. Votes may be
// empty, in which case the top-level urgency stands alone.
type CouncilResult struct {
	Response   string
	Urgency    Urgency
	Confidence float64
	Votes      map[string]Vote
}

// Payload is the typed classification request built from session state.
// The image reference is included only when one is present.
type Payload struct {
	Text      []session.Exchange `json:"text"`
	PatientID string             `json:"patient_id"`
	Location  string             `json:"location"`
	Image     string             `json:"image,omitempty"`
}

// Classifier is the interface to the external classification and
// council backends. Both calls are single-attempt with a bounded
// timeout; retry policy, if any, belongs to the caller.
type Classifier interface {
	Classify(ctx context.Context, p *Payload) (*ClassificationResult, error)
	Council(ctx context.Context, p *Payload) (*CouncilResult, error)
}

// AlertChannels selects which channels a trigger should use.
type AlertChannels struct {
	SMS  bool
	Call bool
}

// AlertOutcome is the result of an alert trigger. Suppressed outcomes
// mean the session had already alerted and nothing was dispatched.
type AlertOutcome struct {
	Dispatched bool
	Suppressed bool
	Attempts   []session.AlertAttempt
}

// AlertDispatcher fans a confirmed emergency out to human responders.
type AlertDispatcher interface {
	Trigger(ctx context.Context, roomName, assessment string, urgency Urgency, contacts []string, ch AlertChannels) (*AlertOutcome, error)
}

// RoomProvider is the interface to the external real-time room service.
// Token and credential issuance lives entirely on the provider side.
type RoomProvider interface {
	CreateRoom(ctx context.Context, name, metadata string) error
	DeleteRoom(ctx context.Context, name string) error
	RoomExists(ctx context.Context, name string) (bool, error)
	AccessToken(ctx context.Context, room, identity, name string) (string, error)
}
