package sessionapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

type startSessionRequest struct {
	PatientID       string   `json:"patient_id"`
	Location        string   `json:"location"`
	HardwareID      string   `json:"hardware_id"`
	DoctorIDs       []string `json:"doctor_ids,omitempty"`
	EmergencyPhones []string `json:"emergency_phones,omitempty"`
	Image           string   `json:"image,omitempty"`
	RoomName        string   `json:"room_name,omitempty"`
}

type startSessionResponse struct {
	Status      string `json:"status"`
	RoomName    string `json:"room_name"`
	UserToken   string `json:"user_token"`
	DoctorToken string `json:"doctor_token"`
	JoinURL     string `json:"join_url,omitempty"`
	Message     string `json:"message"`
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.PatientID == "" || req.Location == "" {
		http.Error(w, `{"error":"patient_id and location are required"}`, http.StatusBadRequest)
		return
	}

	result, err := a.svc.Start(r.Context(), triage.StartRequest{
		PatientID:       req.PatientID,
		Location:        req.Location,
		HardwareID:      req.HardwareID,
		DoctorIDs:       req.DoctorIDs,
		EmergencyPhones: req.EmergencyPhones,
		ImageRef:        req.Image,
		RoomName:        req.RoomName,
	})
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		Status:      "created",
		RoomName:    result.RoomName,
		UserToken:   result.UserToken,
		DoctorToken: result.DoctorToken,
		JoinURL:     result.JoinURL,
		Message:     result.Greeting,
	})
}

type joinSessionRequest struct {
	Role          string `json:"role"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
}

func (a *API) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		http.Error(w, `{"error":"participant_id is required"}`, http.StatusBadRequest)
		return
	}

	token, err := a.svc.Join(r.Context(), room, req.Role, req.ParticipantID, req.Name)
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"room_name": room,
		"role":      req.Role,
		"token":     token,
	})
}

type processTurnRequest struct {
	Text string `json:"text"`
}

func (a *API) handleProcessTurn(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	var req processTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	response, err := a.svc.ProcessTurn(r.Context(), room, req.Text)
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_name": room,
		"response":  response,
	})
}

type updateImageRequest struct {
	Image string `json:"image"`
}

func (a *API) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	var req updateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		http.Error(w, `{"error":"image is required"}`, http.StatusBadRequest)
		return
	}

	if err := a.svc.UpdateImage(r.Context(), room, req.Image); err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

type triggerAlertRequest struct {
	Assessment   string   `json:"assessment"`
	Urgency      string   `json:"urgency"`
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
	SendSMS      bool     `json:"send_sms"`
	MakeCall     bool     `json:"make_call"`
}

type alertResultEntry struct {
	Contact string `json:"contact"`
	Channel string `json:"channel"`
	Status  string `json:"status"`
}

func (a *API) handleTriggerAlert(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	var req triggerAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if !req.SendSMS && !req.MakeCall {
		http.Error(w, `{"error":"at least one of send_sms or make_call is required"}`, http.StatusBadRequest)
		return
	}

	urgency := triage.UrgencyHigh
	if strings.EqualFold(req.Urgency, string(triage.UrgencyLow)) {
		urgency = triage.UrgencyLow
	}

	outcome, err := a.svc.TriggerAlert(r.Context(), room, req.Assessment, urgency, req.PhoneNumbers,
		triage.AlertChannels{SMS: req.SendSMS, Call: req.MakeCall})
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	results := make([]alertResultEntry, 0, len(outcome.Attempts))
	for _, at := range outcome.Attempts {
		results = append(results, alertResultEntry{
			Contact: at.Contact,
			Channel: string(at.Channel),
			Status:  string(at.Status),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dispatched": outcome.Dispatched,
		"suppressed": outcome.Suppressed,
		"results":    results,
	})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	result, err := a.svc.End(r.Context(), room)
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ended",
		"room_name":        result.RoomName,
		"patient_id":       result.PatientID,
		"duration_seconds": result.DurationSeconds,
		"turns":            result.Turns,
		"alerts_triggered": result.AlertsTriggered,
	})
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	room := roomParam(r)

	status, err := a.svc.Status(r.Context(), room)
	if err != nil {
		a.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":          status.State,
		"room_name":      status.RoomName,
		"patient_id":     status.PatientID,
		"location":       status.Location,
		"history_length": status.HistoryLength,
		"alerts_sent":    status.AlertsSent,
		"started_at":     status.StartedAt.Format(time.RFC3339),
	})
}

type sessionSummary struct {
	RoomName        string `json:"room_name"`
	PatientID       string `json:"patient_id"`
	Location        string `json:"location"`
	Turns           int    `json:"turns"`
	Suspected       bool   `json:"emergency_suspected"`
	Confirmed       bool   `json:"emergency_confirmed"`
	AlertsTriggered bool   `json:"alerts_triggered"`
	StartedAt       string `json:"started_at"`
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.svc.ListActive(r.Context())

	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			RoomName:        s.ID,
			PatientID:       s.PatientID,
			Location:        s.Location,
			Turns:           len(s.History),
			Suspected:       s.Suspected,
			Confirmed:       s.Confirmed,
			AlertsTriggered: s.AlertsTriggered,
			StartedAt:       s.StartedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(out),
		"sessions": out,
	})
}
