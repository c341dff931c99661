package session

import (
	"errors"
	"testing"
	"time"
)

func TestTurnLifecycle(t *testing.T) {
	t.Parallel()

	var s Session

	s.AppendHumanTurn("I feel dizzy")
	if s.OpenTurns() != 1 {
		t.Fatalf("open turns = %d, want 1", s.OpenTurns())
	}
	if !s.History[0].Open() {
		t.Error("turn not open after append")
	}

	if err := s.SetAssistantReply("Since when?"); err != nil {
		t.Fatalf("SetAssistantReply: %v", err)
	}
	if s.OpenTurns() != 0 {
		t.Errorf("open turns = %d, want 0", s.OpenTurns())
	}
	if s.History[0].Assistant != "Since when?" {
		t.Errorf("Assistant = %q", s.History[0].Assistant)
	}
}

func TestSetAssistantReply_NoOpenTurn(t *testing.T) {
	t.Parallel()

	var s Session
	if err := s.SetAssistantReply("orphan"); !errors.Is(err, ErrNoOpenTurn) {
		t.Fatalf("error = %v, want ErrNoOpenTurn", err)
	}

	s.AppendHumanTurn("hello")
	_ = s.SetAssistantReply("hi")
	if err := s.SetAssistantReply("again"); !errors.Is(err, ErrNoOpenTurn) {
		t.Fatalf("error = %v, want ErrNoOpenTurn", err)
	}
}

func TestSetAssistantReply_FillsMostRecentOpen(t *testing.T) {
	t.Parallel()

	var s Session
	s.AppendHumanTurn("first")
	_ = s.SetAssistantReply("reply one")
	s.AppendHumanTurn("second")

	if err := s.SetAssistantReply("reply two"); err != nil {
		t.Fatalf("SetAssistantReply: %v", err)
	}
	if s.History[0].Assistant != "reply one" {
		t.Errorf("turn 0 assistant = %q", s.History[0].Assistant)
	}
	if s.History[1].Assistant != "reply two" {
		t.Errorf("turn 1 assistant = %q", s.History[1].Assistant)
	}
}

func TestExchanges_Windowing(t *testing.T) {
	t.Parallel()

	var s Session
	for _, text := range []string{"a", "b", "c", "d"} {
		s.AppendHumanTurn(text)
		_ = s.SetAssistantReply("re:" + text)
	}

	tests := []struct {
		name      string
		window    int
		wantLen   int
		wantFirst string
	}{
		{"no limit", 0, 4, "a"},
		{"negative means no limit", -1, 4, "a"},
		{"window larger than history", 10, 4, "a"},
		{"window trims oldest", 2, 2, "c"},
		{"window of one", 1, 1, "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.Exchanges(tt.window)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if got[0].Human != tt.wantFirst {
				t.Errorf("first human = %q, want %q", got[0].Human, tt.wantFirst)
			}
		})
	}
}

func TestExchanges_OpenTurnHasEmptyAssistant(t *testing.T) {
	t.Parallel()

	var s Session
	s.AppendHumanTurn("done")
	_ = s.SetAssistantReply("ok")
	s.AppendHumanTurn("pending")

	got := s.Exchanges(0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Human != "pending" || got[1].Assistant != "" {
		t.Errorf("open exchange = %+v, want empty assistant", got[1])
	}
}

func TestEnded(t *testing.T) {
	t.Parallel()

	var s Session
	if s.Ended() {
		t.Error("fresh session reports ended")
	}
	s.EndedAt = time.Now()
	if !s.Ended() {
		t.Error("session with EndedAt not reported ended")
	}
}

func TestSetImageRef_CarriesAcrossTurns(t *testing.T) {
	t.Parallel()

	var s Session
	s.SetImageRef("img-001")
	s.AppendHumanTurn("look at this")
	_ = s.SetAssistantReply("noted")
	s.AppendHumanTurn("still hurts")

	if s.ImageRef != "img-001" {
		t.Errorf("ImageRef = %q, want %q", s.ImageRef, "img-001")
	}

	s.SetImageRef("img-002")
	if s.ImageRef != "img-002" {
		t.Errorf("ImageRef = %q, want %q", s.ImageRef, "img-002")
	}
}

func TestClone_DeepCopies(t *testing.T) {
	t.Parallel()

	orig := &Session{
		ID:              "room-c",
		DoctorIDs:       []string{"d1"},
		EmergencyPhones: []string{"+15551230001"},
		AlertLog:        []AlertAttempt{{Contact: "+15551230001", Channel: ChannelSMS, Status: AlertSent}},
	}
	orig.AppendHumanTurn("hi")

	cp := orig.Clone()
	cp.DoctorIDs[0] = "tampered"
	cp.EmergencyPhones[0] = "tampered"
	cp.History[0].Human = "tampered"
	cp.AlertLog[0].Status = AlertFailed

	if orig.DoctorIDs[0] != "d1" {
		t.Error("DoctorIDs shared between clone and original")
	}
	if orig.EmergencyPhones[0] != "+15551230001" {
		t.Error("EmergencyPhones shared between clone and original")
	}
	if orig.History[0].Human != "hi" {
		t.Error("History shared between clone and original")
	}
	if orig.AlertLog[0].Status != AlertSent {
		t.Error("AlertLog shared between clone and original")
	}
}

func TestClone_PreservesOpenFlag(t *testing.T) {
	t.Parallel()

	var s Session
	s.AppendHumanTurn("pending")

	cp := s.Clone()
	if cp.OpenTurns() != 1 {
		t.Errorf("clone open turns = %d, want 1", cp.OpenTurns())
	}
	if err := cp.SetAssistantReply("ok"); err != nil {
		t.Fatalf("SetAssistantReply on clone: %v", err)
	}
	if s.History[0].Assistant != "" {
		t.Error("reply on clone leaked into original")
	}
}
