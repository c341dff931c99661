// Package session holds the per-consultation state tracked for each
// active real-time room: turn history, visual context, and emergency flags.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for any operation addressing an unknown or
	// already-ended room.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists is returned when creating a session whose room name
	// collides with an active one.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrNoOpenTurn indicates SetAssistantReply was called with no pending
	// human turn. This is a contract violation, not an expected condition.
	ErrNoOpenTurn = errors.New("no open turn")
)

// Turn is one human utterance plus its eventual system reply. Assistant
// stays empty until the orchestrator produces a response for the turn.
type Turn struct {
	Human     string `json:"human"`
	Assistant string `json:"assistant,omitempty"`

	open bool
}

// Open reports whether the turn is still waiting for an assistant reply.
func (t *Turn) Open() bool { return t.open }

// Exchange is the wire shape of a turn in classification payloads. The
// currently open turn is emitted with an empty assistant string.
type Exchange struct {
	Human     string `json:"human"`
	Assistant string `json:"assistant"`
}

// AlertChannel identifies how a responder was contacted.
type AlertChannel string

const (
	ChannelSMS  AlertChannel = "sms"
	ChannelCall AlertChannel = "call"
)

// AlertStatus is the terminal state of a single alert attempt.
type AlertStatus string

const (
	AlertSent      AlertStatus = "sent"      // SMS accepted by the gateway
	AlertInitiated AlertStatus = "initiated" // voice call placed
	AlertFailed    AlertStatus = "failed"
)

// AlertAttempt records one contact/channel dispatch, successful or not.
type AlertAttempt struct {
	Contact     string       `json:"contact"`
	Channel     AlertChannel `json:"channel"`
	Status      AlertStatus  `json:"status"`
	ExternalRef string       `json:"external_ref,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Session is the state of one continuous room-based consultation.
// All mutation goes through Registry.Update so access stays serialized
// per room; values handed out by the registry are snapshots.
type Session struct {
	ID              string         `json:"room_name"`
	PatientID       string         `json:"patient_id"`
	Location        string         `json:"location"`
	HardwareID      string         `json:"hardware_id,omitempty"`
	DoctorIDs       []string       `json:"doctor_ids,omitempty"`
	EmergencyPhones []string       `json:"emergency_phones,omitempty"`
	History         []Turn         `json:"history"`
	ImageRef        string         `json:"image_ref,omitempty"`
	Suspected       bool           `json:"emergency_suspected"`
	Confirmed       bool           `json:"emergency_confirmed"`
	AlertsTriggered bool           `json:"alerts_triggered"`
	AlertLog        []AlertAttempt `json:"alert_log,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at,omitempty"`
}

// Ended reports whether the session has been closed. An ended session
// accepts no further turns or alert triggers.
func (s *Session) Ended() bool { return !s.EndedAt.IsZero() }

// AppendHumanTurn opens a new turn for the given utterance. Turns are
// append-only and strictly ordered per session.
func (s *Session) AppendHumanTurn(text string) {
	s.History = append(s.History, Turn{Human: text, open: true})
}

// SetAssistantReply fills the most recent open turn. It returns
// ErrNoOpenTurn when every turn already has a reply.
func (s *Session) SetAssistantReply(text string) error {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].open {
			s.History[i].Assistant = text
			s.History[i].open = false
			return nil
		}
	}
	return ErrNoOpenTurn
}

// OpenTurns counts turns still waiting for a reply. At most one turn is
// open at a time because turns are processed serially per session.
func (s *Session) OpenTurns() int {
	n := 0
	for i := range s.History {
		if s.History[i].open {
			n++
		}
	}
	return n
}

// SetImageRef replaces the visual-context reference. The reference is
// carried unchanged across turns until replaced again.
func (s *Session) SetImageRef(ref string) { s.ImageRef = ref }

// Exchanges returns the most recent turns in payload order. Completed
// turns carry their reply; the open turn, if any, is emitted with an
// empty assistant string. window <= 0 means no limit.
func (s *Session) Exchanges(window int) []Exchange {
	turns := s.History
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	out := make([]Exchange, 0, len(turns))
	for i := range turns {
		out = append(out, Exchange{Human: turns[i].Human, Assistant: turns[i].Assistant})
	}
	return out
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *Session) Clone() *Session {
	cp := *s
	if s.DoctorIDs != nil {
		cp.DoctorIDs = append([]string(nil), s.DoctorIDs...)
	}
	if s.EmergencyPhones != nil {
		cp.EmergencyPhones = append([]string(nil), s.EmergencyPhones...)
	}
	if s.History != nil {
		cp.History = append([]Turn(nil), s.History...)
	}
	if s.AlertLog != nil {
		cp.AlertLog = append([]AlertAttempt(nil), s.AlertLog...)
	}
	return &cp
}
