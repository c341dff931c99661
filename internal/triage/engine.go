package triage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/medtriage/internal/session"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage")

// DefaultHistoryWindow bounds how many exchanges a classification
// payload carries.
const DefaultHistoryWindow = 20

// TurnState is where the pipeline terminated for a turn. It is recorded
// on the turn span: responded for the non-emergency path, confirmed and
// downgraded for the council verdicts. Received and classified mark
// turns that degraded to a fallback before reaching the council.
type TurnState string

const (
	StateReceived   TurnState = "received"
	StateClassified TurnState = "classified"
	StateConfirmed  TurnState = "confirmed"
	StateDowngraded TurnState = "downgraded"
	StateResponded  TurnState = "responded"
)

// Fallback texts used when a backend is unreachable or returns no
// response body. The council fallback is fail-open: alerting is biased
// toward false positives over silent suppression.
const (
	clarifyingResponse = "Could you describe your symptoms?"
	continueResponse   = "I understand. Can you tell me more about your symptoms?"
	urgentResponse     = "This is an emergency. Help is being dispatched. Please stay calm."
	downgradeResponse  = "After careful review, your symptoms need attention but may not be immediately critical. " +
		"Please monitor your condition and seek medical care soon."
	failOpenResponse   = "Emergency services have been notified. Please stay calm."
	failOpenConfidence = 0.8
)

// Engine runs the per-turn triage pipeline: append the utterance,
// classify, escalate through the council when warranted, dispatch
// alerts on confirmation, and produce the spoken response. No backend
// failure escapes a turn; every path resolves to a response.
type Engine struct {
	reg        session.Registry
	classifier Classifier
	dispatcher AlertDispatcher
	window     int
	logger     log.Logger
	metrics    *Metrics
}

// NewEngine creates an engine. window <= 0 uses DefaultHistoryWindow.
func NewEngine(reg session.Registry, classifier Classifier, dispatcher AlertDispatcher, window int, logger log.Logger, m *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Engine{
		reg:        reg,
		classifier: classifier,
		dispatcher: dispatcher,
		window:     window,
		logger:     logger,
		metrics:    m,
	}
}

// ProcessTurn handles one human utterance for the given room and
// returns the assistant response. The caller serializes turns per
// session; at most one classify/council/alert chain is in flight for a
// room at any time.
func (e *Engine) ProcessTurn(ctx context.Context, roomName, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "triage.ProcessTurn")
	defer span.End()
	span.SetAttributes(attribute.String("medtriage.session.room", roomName))

	start := time.Now()

	snap, err := e.reg.Update(ctx, roomName, func(s *session.Session) error {
		s.AppendHumanTurn(text)
		return nil
	})
	if err != nil {
		return "", err
	}

	L := e.logger.With("room", roomName, "patient_id", snap.PatientID, "turn", len(snap.History))

	payload := &Payload{
		Text:      snap.Exchanges(e.window),
		PatientID: snap.PatientID,
		Location:  snap.Location,
		Image:     snap.ImageRef,
	}

	response, state := e.runPipeline(ctx, L, roomName, payload)
	span.SetAttributes(attribute.String("medtriage.turn.state", string(state)))

	// Fill the open turn before returning. If the session ended while the
	// turn was in flight there is nothing left to fill.
	if _, err := e.reg.Update(ctx, roomName, func(s *session.Session) error {
		return s.SetAssistantReply(response)
	}); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			L.Warn(ctx, "session ended mid-turn, reply dropped")
			return response, nil
		}
		L.Error(ctx, err, "failed to record assistant reply")
		return response, nil
	}

	if e.metrics != nil {
		e.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}
	return response, nil
}

// runPipeline classifies the turn, escalates emergency-grade categories
// through the council, and returns the response text plus the state the
// turn terminated in. It never returns an error; backend failures
// degrade to the documented fallbacks.
func (e *Engine) runPipeline(ctx context.Context, L log.Logger, roomName string, payload *Payload) (string, TurnState) {
	cls, err := e.classifier.Classify(ctx, payload)
	if err != nil {
		// Classifier down: treat as UNKNOWN, ask for clarification, no
		// escalation attempted.
		L.Error(ctx, err, "classification failed, degrading to UNKNOWN")
		if e.metrics != nil {
			e.metrics.ClassifierErrors.Inc()
			e.metrics.TurnsTotal.WithLabelValues(string(CategoryUnknown)).Inc()
		}
		return clarifyingResponse, StateReceived
	}
	if e.metrics != nil {
		e.metrics.TurnsTotal.WithLabelValues(string(cls.Category)).Inc()
	}

	if !cls.Category.EmergencyGrade() {
		if cls.Response != "" {
			return cls.Response, StateResponded
		}
		return continueResponse, StateResponded
	}

	L.Warn(ctx, "emergency-grade classification, escalating to council", "category", cls.Category)
	if _, err := e.reg.Update(ctx, roomName, func(s *session.Session) error {
		s.Suspected = true
		return nil
	}); err != nil {
		L.Warn(ctx, "session gone before council escalation", "error", err)
		return urgentResponse, StateClassified
	}

	council, err := e.classifier.Council(ctx, payload)
	if err != nil {
		// Fail-open: a dead council must not suppress a suspected
		// emergency.
		L.Error(ctx, err, "council unavailable, failing open to confirmed HIGH")
		if e.metrics != nil {
			e.metrics.CouncilTotal.WithLabelValues("unavailable").Inc()
		}
		council = &CouncilResult{
			Response:   failOpenResponse,
			Urgency:    UrgencyHigh,
			Confidence: failOpenConfidence,
		}
	}

	if !Confirms(council) {
		L.Info(ctx, "council did not confirm emergency",
			"urgency", council.Urgency,
			"confidence", council.Confidence,
			"votes", len(council.Votes),
		)
		if e.metrics != nil {
			e.metrics.CouncilTotal.WithLabelValues("downgraded").Inc()
		}
		if council.Response != "" {
			return council.Response, StateDowngraded
		}
		return downgradeResponse, StateDowngraded
	}

	if e.metrics != nil {
		e.metrics.CouncilTotal.WithLabelValues("confirmed").Inc()
	}

	snap, err := e.reg.Update(ctx, roomName, func(s *session.Session) error {
		s.Confirmed = true
		return nil
	})
	if err != nil {
		// Session ended while the council deliberated; the alert is
		// discarded rather than dispatched to an ended session.
		L.Warn(ctx, "session ended before alert dispatch, alert discarded", "error", err)
		return urgentResponse, StateConfirmed
	}

	e.dispatch(ctx, L, roomName, snap, council)

	if council.Response != "" {
		return council.Response, StateConfirmed
	}
	return urgentResponse, StateConfirmed
}

func (e *Engine) dispatch(ctx context.Context, L log.Logger, roomName string, snap *session.Session, council *CouncilResult) {
	outcome, err := e.dispatcher.Trigger(ctx, roomName, council.Response, council.Urgency,
		snap.EmergencyPhones, AlertChannels{SMS: true, Call: false})
	if err != nil {
		L.Error(ctx, err, "alert dispatch failed")
		return
	}
	if outcome.Suppressed {
		L.Info(ctx, "alerts already triggered for session, dispatch suppressed")
		return
	}
	L.Info(ctx, "emergency alerts dispatched",
		"attempts", len(outcome.Attempts),
		"urgency", council.Urgency,
	)
}
