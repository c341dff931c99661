// Package sessionapi exposes the session service over HTTP.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/medtriage/internal/session"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

// SessionService defines the business operations sessionapi needs.
type SessionService interface {
	Start(ctx context.Context, req triage.StartRequest) (*triage.StartResult, error)
	Join(ctx context.Context, roomName, role, participantID, name string) (string, error)
	ProcessTurn(ctx context.Context, roomName, text string) (string, error)
	UpdateImage(ctx context.Context, roomName, imageRef string) error
	TriggerAlert(ctx context.Context, roomName, assessment string, urgency triage.Urgency, phones []string, ch triage.AlertChannels) (*triage.AlertOutcome, error)
	End(ctx context.Context, roomName string) (*triage.EndResult, error)
	Status(ctx context.Context, roomName string) (*triage.StatusResult, error)
	ListActive(ctx context.Context) []*session.Session
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    SessionService
}

// New creates a new API handler.
func New(logger log.Logger, svc SessionService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("session service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", a.handleStartSession)
		r.Get("/sessions", a.handleListSessions)
		r.Get("/sessions/{room}", a.handleGetStatus)
		r.Post("/sessions/{room}/join", a.handleJoinSession)
		r.Post("/sessions/{room}/turns", a.handleProcessTurn)
		r.Post("/sessions/{room}/image", a.handleUpdateImage)
		r.Post("/sessions/{room}/alert", a.handleTriggerAlert)
		r.Post("/sessions/{room}/end", a.handleEndSession)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses; anything unmapped
// is an internal error and the caller gets no detail.
func (a *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
	case errors.Is(err, session.ErrAlreadyExists):
		http.Error(w, `{"error":"session already exists"}`, http.StatusConflict)
	case errors.Is(err, triage.ErrInvalidRole):
		http.Error(w, `{"error":"role must be 'user' or 'doctor'"}`, http.StatusBadRequest)
	default:
		a.logger.Error(ctx, err, "request failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func roomParam(r *http.Request) string {
	room := chi.URLParam(r, "room")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medtriage.session.room", room))
	return room
}
