// Package alert implements the idempotent multi-channel emergency
// fan-out. One effective dispatch happens per session lifetime; each
// contact and channel is attempted independently so a single failure
// never silences the rest of the batch.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/medtriage/internal/session"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

// Channel is the external alert mechanism: SMS and voice, each
// independently failable. Refs identify the dispatch on the provider
// side.
type Channel interface {
	SendSMS(ctx context.Context, to, body string) (ref string, err error)
	PlaceCall(ctx context.Context, to, spokenMessage string) (ref string, err error)
}

// Dispatcher fans confirmed emergencies out to responder contacts.
type Dispatcher struct {
	reg             session.Registry
	channel         Channel
	defaultContacts []string
	defaultCC       string
	logger          log.Logger
	metrics         *triage.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{} // rooms with a fan-out in progress
}

// NewDispatcher creates a dispatcher. defaultContacts are used when
// neither the trigger nor the session carries contacts of its own.
func NewDispatcher(reg session.Registry, channel Channel, defaultContacts []string, defaultCC string, logger log.Logger, m *triage.Metrics) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		reg:             reg,
		channel:         channel,
		defaultContacts: defaultContacts,
		defaultCC:       defaultCC,
		logger:          logger,
		metrics:         m,
		inFlight:        make(map[string]struct{}),
	}
}

// Trigger performs the fan-out for roomName. If the session has already
// alerted, the cached no-op outcome is returned without contacting the
// channel. The alerts-triggered flag flips true after the attempt loop
// completes, regardless of individual failures; later re-confirmations
// within the session never re-dispatch. Concurrent triggers for the
// same room are serialized through a per-room reservation, so at most
// one of them performs the fan-out.
func (d *Dispatcher) Trigger(ctx context.Context, roomName, assessment string, urgency triage.Urgency, contacts []string, ch triage.AlertChannels) (*triage.AlertOutcome, error) {
	// Reserve the room before the suppression check. A racing trigger
	// either fails the reservation here or, arriving after the winner
	// released it, sees the flag the winner set before releasing.
	if !d.reserve(roomName) {
		snap, err := d.reg.Get(ctx, roomName)
		if err != nil {
			return nil, err
		}
		d.logger.Info(ctx, "alert fan-out already in flight, trigger suppressed", "room", roomName)
		return &triage.AlertOutcome{Suppressed: true, Attempts: snap.AlertLog}, nil
	}
	defer d.release(roomName)

	// An ended session must never receive an alert; a termination racing
	// an in-flight turn lands here as ErrNotFound.
	snap, err := d.reg.Get(ctx, roomName)
	if err != nil {
		d.logger.Warn(ctx, "alert discarded, session not active", "room", roomName, "error", err)
		return nil, err
	}

	if snap.AlertsTriggered {
		return &triage.AlertOutcome{
			Suppressed: true,
			Attempts:   snap.AlertLog,
		}, nil
	}

	if len(contacts) == 0 {
		contacts = snap.EmergencyPhones
	}
	if len(contacts) == 0 {
		contacts = d.defaultContacts
	}

	L := d.logger.With("room", roomName, "patient_id", snap.PatientID, "urgency", string(urgency))

	smsBody := buildSMSBody(snap, assessment, urgency)
	spoken := buildSpokenMessage(snap, assessment)

	attempts := make([]session.AlertAttempt, 0, len(contacts)*2)
	for _, contact := range contacts {
		normalized, err := NormalizePhone(contact, d.defaultCC)
		if err != nil {
			L.Warn(ctx, "contact rejected", "contact", contact, "error", err)
			attempts = append(attempts, d.record(failedAttempts(contact, ch)...)...)
			continue
		}

		if ch.SMS {
			attempts = append(attempts, d.record(d.attemptSMS(ctx, L, normalized, smsBody))...)
		}
		if ch.Call {
			attempts = append(attempts, d.record(d.attemptCall(ctx, L, normalized, spoken))...)
		}
	}

	// Flag and log land on the session even when every attempt failed;
	// the per-attempt statuses carry the failure detail.
	if _, err := d.reg.Update(ctx, roomName, func(s *session.Session) error {
		s.AlertsTriggered = true
		s.AlertLog = append(s.AlertLog, attempts...)
		return nil
	}); err != nil {
		L.Warn(ctx, "session ended during alert fan-out", "error", err)
	}

	if d.metrics != nil {
		d.metrics.AlertsTriggered.Inc()
	}
	L.Info(ctx, "alert fan-out complete", "contacts", len(contacts), "attempts", len(attempts))

	return &triage.AlertOutcome{Dispatched: true, Attempts: attempts}, nil
}

// reserve marks roomName as having a fan-out in progress. It returns
// false when another trigger already holds the reservation.
func (d *Dispatcher) reserve(roomName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[roomName]; busy {
		return false
	}
	d.inFlight[roomName] = struct{}{}
	return true
}

func (d *Dispatcher) release(roomName string) {
	d.mu.Lock()
	delete(d.inFlight, roomName)
	d.mu.Unlock()
}

func (d *Dispatcher) attemptSMS(ctx context.Context, L log.Logger, to, body string) session.AlertAttempt {
	a := session.AlertAttempt{Contact: to, Channel: session.ChannelSMS, Timestamp: time.Now()}
	ref, err := d.channel.SendSMS(ctx, to, body)
	if err != nil {
		L.Error(ctx, err, "sms attempt failed", "contact", to)
		a.Status = session.AlertFailed
		return a
	}
	a.Status = session.AlertSent
	a.ExternalRef = ref
	return a
}

func (d *Dispatcher) attemptCall(ctx context.Context, L log.Logger, to, spoken string) session.AlertAttempt {
	a := session.AlertAttempt{Contact: to, Channel: session.ChannelCall, Timestamp: time.Now()}
	ref, err := d.channel.PlaceCall(ctx, to, spoken)
	if err != nil {
		L.Error(ctx, err, "call attempt failed", "contact", to)
		a.Status = session.AlertFailed
		return a
	}
	a.Status = session.AlertInitiated
	a.ExternalRef = ref
	return a
}

// record observes attempt metrics and passes the attempts through.
func (d *Dispatcher) record(attempts ...session.AlertAttempt) []session.AlertAttempt {
	if d.metrics != nil {
		for _, a := range attempts {
			d.metrics.AlertAttempts.WithLabelValues(string(a.Channel), string(a.Status)).Inc()
		}
	}
	return attempts
}

// failedAttempts marks every requested channel failed for a contact
// whose number could not be normalized.
func failedAttempts(contact string, ch triage.AlertChannels) []session.AlertAttempt {
	now := time.Now()
	var out []session.AlertAttempt
	if ch.SMS {
		out = append(out, session.AlertAttempt{Contact: contact, Channel: session.ChannelSMS, Status: session.AlertFailed, Timestamp: now})
	}
	if ch.Call {
		out = append(out, session.AlertAttempt{Contact: contact, Channel: session.ChannelCall, Status: session.AlertFailed, Timestamp: now})
	}
	return out
}

func buildSMSBody(s *session.Session, assessment string, urgency triage.Urgency) string {
	if assessment == "" {
		assessment = "Emergency detected"
	}
	return fmt.Sprintf("MEDICAL ALERT [%s] patient %s at %s: %s", urgency, s.PatientID, s.Location, assessment)
}

func buildSpokenMessage(s *session.Session, assessment string) string {
	if assessment == "" {
		assessment = "an emergency has been detected"
	}
	return fmt.Sprintf("This is an automated medical alert for patient %s at location %s. %s. Please respond immediately.",
		s.PatientID, s.Location, assessment)
}
