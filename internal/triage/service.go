package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/medtriage/internal/session"
)

const greeting = "Hello, I'm your medical assistant. How can I help you today?"

// StartRequest describes a new consultation session.
type StartRequest struct {
	PatientID       string
	Location        string
	HardwareID      string
	DoctorIDs       []string
	EmergencyPhones []string
	ImageRef        string
	RoomName        string // optional; generated when empty
}

// StartResult carries the tokens both participants need to join.
type StartResult struct {
	RoomName    string
	UserToken   string
	DoctorToken string
	JoinURL     string
	Greeting    string
}

// EndResult is the final accounting for an ended session.
type EndResult struct {
	RoomName        string
	PatientID       string
	DurationSeconds float64
	Turns           int
	AlertsTriggered bool
}

// StatusResult reports a session's current state after reconciling
// against the backing room.
type StatusResult struct {
	State         string
	RoomName      string
	PatientID     string
	Location      string
	HistoryLength int
	AlertsSent    int
	StartedAt     time.Time
}

// Service is the business boundary for session lifecycle operations:
// start, join, end, status, listing, turn processing, and explicit
// alert triggering. Per-turn pipeline logic lives in Engine.
type Service struct {
	reg        session.Registry
	rooms      RoomProvider
	engine     *Engine
	dispatcher AlertDispatcher
	archiver   session.Archiver // optional
	joinURL    string
	logger     log.Logger
	metrics    *Metrics
}

// NewService creates a session service. archiver may be nil.
func NewService(reg session.Registry, rooms RoomProvider, engine *Engine, dispatcher AlertDispatcher, archiver session.Archiver, joinURL string, logger log.Logger, m *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		reg:        reg,
		rooms:      rooms,
		engine:     engine,
		dispatcher: dispatcher,
		archiver:   archiver,
		joinURL:    joinURL,
		logger:     logger,
		metrics:    m,
	}
}

// Start creates the backing room, registers the session, and mints
// tokens for both the patient and the on-call doctor.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	roomName := req.RoomName
	if roomName == "" {
		roomName = generateRoomName(req.Location, req.PatientID)
	}

	metadata := fmt.Sprintf(`{"patient_id":%q,"location":%q}`, req.PatientID, req.Location)
	if err := s.rooms.CreateRoom(ctx, roomName, metadata); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	if _, err := s.reg.Create(ctx, session.Spec{
		ID:              roomName,
		PatientID:       req.PatientID,
		Location:        req.Location,
		HardwareID:      req.HardwareID,
		DoctorIDs:       req.DoctorIDs,
		EmergencyPhones: req.EmergencyPhones,
		ImageRef:        req.ImageRef,
	}); err != nil {
		// Roll the room back so a retry with the same name can succeed.
		if derr := s.rooms.DeleteRoom(ctx, roomName); derr != nil {
			s.logger.Error(ctx, derr, "room rollback failed", "room", roomName)
		}
		return nil, err
	}

	userToken, err := s.rooms.AccessToken(ctx, roomName, "user-"+req.PatientID, "Patient "+req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("mint user token: %w", err)
	}
	doctorToken, err := s.rooms.AccessToken(ctx, roomName, "doctor-on-call", "Doctor")
	if err != nil {
		return nil, fmt.Errorf("mint doctor token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SessionsTotal.WithLabelValues("created").Inc()
		s.metrics.ActiveSessions.Inc()
	}
	s.logger.Info(ctx, "session started",
		"room", roomName,
		"patient_id", req.PatientID,
		"location", req.Location,
	)

	return &StartResult{
		RoomName:    roomName,
		UserToken:   userToken,
		DoctorToken: doctorToken,
		JoinURL:     s.buildJoinURL(roomName),
		Greeting:    greeting,
	}, nil
}

// Join mints a fresh token for an existing session. Only the user and
// doctor roles are accepted.
func (s *Service) Join(ctx context.Context, roomName, role, participantID, name string) (string, error) {
	if role != "user" && role != "doctor" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.reg.Get(ctx, roomName); err != nil {
		return "", err
	}

	identity := role + "-" + participantID
	if name == "" {
		name = strings.ToUpper(role[:1]) + role[1:] + " " + participantID
	}

	token, err := s.rooms.AccessToken(ctx, roomName, identity, name)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}

	s.logger.Info(ctx, "join token issued", "room", roomName, "role", role, "participant_id", participantID)
	return token, nil
}

// ProcessTurn runs the triage pipeline for one human utterance.
func (s *Service) ProcessTurn(ctx context.Context, roomName, text string) (string, error) {
	return s.engine.ProcessTurn(ctx, roomName, text)
}

// UpdateImage replaces the session's visual-context reference. The new
// reference rides along on every subsequent classification payload.
func (s *Service) UpdateImage(ctx context.Context, roomName, imageRef string) error {
	_, err := s.reg.Update(ctx, roomName, func(sess *session.Session) error {
		sess.SetImageRef(imageRef)
		return nil
	})
	return err
}

// TriggerAlert performs an explicit emergency fan-out for the session.
func (s *Service) TriggerAlert(ctx context.Context, roomName, assessment string, urgency Urgency, phones []string, ch AlertChannels) (*AlertOutcome, error) {
	return s.dispatcher.Trigger(ctx, roomName, assessment, urgency, phones, ch)
}

// End tears down the backing room, removes the session, and hands the
// final snapshot to the archiver when one is configured.
func (s *Service) End(ctx context.Context, roomName string) (*EndResult, error) {
	final, err := s.reg.End(ctx, roomName)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.DeleteRoom(ctx, roomName); err != nil {
		// The registry entry is already gone; the room provider's own
		// idle eviction will collect the orphan.
		s.logger.Error(ctx, err, "room teardown failed", "room", roomName)
	}

	duration := final.EndedAt.Sub(final.StartedAt).Seconds()
	if s.metrics != nil {
		s.metrics.SessionsTotal.WithLabelValues("ended").Inc()
		s.metrics.SessionDuration.Observe(duration)
		s.metrics.ActiveSessions.Dec()
	}
	s.logger.Info(ctx, "session ended",
		"room", roomName,
		"patient_id", final.PatientID,
		"turns", len(final.History),
		"emergency_suspected", final.Suspected,
		"emergency_confirmed", final.Confirmed,
		"alerts_triggered", final.AlertsTriggered,
		"duration_seconds", duration,
	)

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, final); err != nil {
			s.logger.Error(ctx, err, "session archive failed", "room", roomName)
		}
	}

	return &EndResult{
		RoomName:        roomName,
		PatientID:       final.PatientID,
		DurationSeconds: duration,
		Turns:           len(final.History),
		AlertsTriggered: final.AlertsTriggered,
	}, nil
}

// Status reports the session state, reconciling against the room
// provider: if the backing room is gone the entry is pruned and the
// session is reported ended.
func (s *Service) Status(ctx context.Context, roomName string) (*StatusResult, error) {
	snap, err := s.reg.Get(ctx, roomName)
	if err != nil {
		return nil, err
	}

	exists, err := s.rooms.RoomExists(ctx, roomName)
	if err != nil {
		// Provider unreachable: report what the registry knows rather
		// than guessing at liveness.
		s.logger.Warn(ctx, "room liveness check failed", "room", roomName, "error", err)
		exists = true
	}

	if !exists {
		pruned, removed, rerr := s.reg.Reconcile(ctx, roomName, false)
		if rerr == nil && removed {
			if s.metrics != nil {
				s.metrics.SessionsTotal.WithLabelValues("reconciled").Inc()
				s.metrics.ActiveSessions.Dec()
			}
			s.logger.Info(ctx, "session pruned, backing room gone", "room", roomName)
			snap = pruned
		}
		return &StatusResult{
			State:         "ended",
			RoomName:      roomName,
			PatientID:     snap.PatientID,
			Location:      snap.Location,
			HistoryLength: len(snap.History),
			AlertsSent:    len(snap.AlertLog),
			StartedAt:     snap.StartedAt,
		}, nil
	}

	return &StatusResult{
		State:         "active",
		RoomName:      roomName,
		PatientID:     snap.PatientID,
		Location:      snap.Location,
		HistoryLength: len(snap.History),
		AlertsSent:    len(snap.AlertLog),
		StartedAt:     snap.StartedAt,
	}, nil
}

// ListActive returns snapshots of all active sessions.
func (s *Service) ListActive(ctx context.Context) []*session.Session {
	return s.reg.List(ctx)
}

func (s *Service) buildJoinURL(roomName string) string {
	if s.joinURL == "" {
		return ""
	}
	return strings.TrimRight(s.joinURL, "/") + "/join?room=" + roomName
}

// generateRoomName builds a unique room identifier in the form
// triage-{location}-{patient}-{ulid}.
func generateRoomName(location, patientID string) string {
	return fmt.Sprintf("triage-%s-%s-%s",
		sanitizeNamePart(location),
		sanitizeNamePart(patientID),
		strings.ToLower(ulid.Make().String()),
	)
}

// sanitizeNamePart keeps room names URL- and dashboard-safe.
func sanitizeNamePart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
