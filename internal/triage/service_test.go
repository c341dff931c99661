package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/medtriage/internal/session"
	"github.com/linnemanlabs/medtriage/internal/session/memreg"
)

// mockRooms records provider calls and serves configurable liveness.
type mockRooms struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	tokens    []string // identities tokens were minted for
	exists    bool
	existsErr error
	createErr error
	tokenErr  error
}

func (m *mockRooms) CreateRoom(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, name)
	return nil
}

func (m *mockRooms) DeleteRoom(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockRooms) RoomExists(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, m.existsErr
}

func (m *mockRooms) AccessToken(_ context.Context, room, identity, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	m.tokens = append(m.tokens, identity)
	return "tok-" + room + "-" + identity, nil
}

// mockArchiver collects archived snapshots.
type mockArchiver struct {
	mu   sync.Mutex
	got  []*session.Session
	fail error
}

func (m *mockArchiver) Archive(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.got = append(m.got, s)
	return nil
}

func newTestService(reg session.Registry, rooms *mockRooms, disp AlertDispatcher, arch session.Archiver) *Service {
	engine := NewEngine(reg, &mockClassifier{}, disp, 0, log.Nop(), nil)
	return NewService(reg, rooms, engine, disp, arch, "https://consult.example.com", log.Nop(), nil)
}

func TestServiceStart(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{exists: true}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	res, err := svc.Start(context.Background(), StartRequest{
		PatientID:       "p42",
		Location:        "Ward B",
		EmergencyPhones: []string{"+15551230001"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !strings.HasPrefix(res.RoomName, "triage-ward-b-p42-") {
		t.Errorf("room name = %q, want triage-ward-b-p42-* prefix", res.RoomName)
	}
	if res.UserToken == "" || res.DoctorToken == "" {
		t.Error("expected both participant tokens")
	}
	if res.Greeting == "" {
		t.Error("expected a greeting")
	}
	if want := "https://consult.example.com/join?room=" + res.RoomName; res.JoinURL != want {
		t.Errorf("JoinURL = %q, want %q", res.JoinURL, want)
	}

	if len(rooms.created) != 1 || rooms.created[0] != res.RoomName {
		t.Errorf("rooms created = %v", rooms.created)
	}
	if len(rooms.tokens) != 2 || rooms.tokens[0] != "user-p42" || rooms.tokens[1] != "doctor-on-call" {
		t.Errorf("token identities = %v", rooms.tokens)
	}

	snap, err := reg.Get(context.Background(), res.RoomName)
	if err != nil {
		t.Fatalf("Get after Start: %v", err)
	}
	if snap.PatientID != "p42" || snap.Location != "Ward B" {
		t.Errorf("session = %q at %q", snap.PatientID, snap.Location)
	}
	if len(snap.EmergencyPhones) != 1 {
		t.Errorf("EmergencyPhones = %v", snap.EmergencyPhones)
	}
}

func TestServiceStart_ExplicitRoomName(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	res, err := svc.Start(context.Background(), StartRequest{
		PatientID: "p1",
		Location:  "ER",
		RoomName:  "triage-fixed-name",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.RoomName != "triage-fixed-name" {
		t.Errorf("room name = %q, want the requested name", res.RoomName)
	}
}

func TestServiceStart_CollisionRollsBackRoom(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	ctx := context.Background()
	if _, err := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER", RoomName: "room-x"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := svc.Start(ctx, StartRequest{PatientID: "p2", Location: "ER", RoomName: "room-x"})
	if !errors.Is(err, session.ErrAlreadyExists) {
		t.Fatalf("second Start: error = %v, want ErrAlreadyExists", err)
	}
	if len(rooms.deleted) != 1 || rooms.deleted[0] != "room-x" {
		t.Errorf("rollback deletes = %v, want [room-x]", rooms.deleted)
	}
}

func TestServiceStart_RoomCreateFails(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{createErr: errors.New("room service down")}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	_, err := svc.Start(context.Background(), StartRequest{PatientID: "p1", Location: "ER"})
	if err == nil {
		t.Fatal("expected error when room creation fails")
	}
	if got := reg.List(context.Background()); len(got) != 0 {
		t.Errorf("registry has %d sessions after failed start, want 0", len(got))
	}
}

func TestServiceJoin(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, err := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tok, err := svc.Join(ctx, res.RoomName, "doctor", "d9", "Dr. Chen")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if tok == "" {
		t.Error("expected a token")
	}
	if got := rooms.tokens[len(rooms.tokens)-1]; got != "doctor-d9" {
		t.Errorf("joined identity = %q, want doctor-d9", got)
	}
}

func TestServiceJoin_InvalidRole(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	svc := newTestService(reg, &mockRooms{}, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, err := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, role := range []string{"admin", "nurse", "", "USER"} {
		if _, err := svc.Join(ctx, res.RoomName, role, "x", ""); !errors.Is(err, ErrInvalidRole) {
			t.Errorf("Join(%q): error = %v, want ErrInvalidRole", role, err)
		}
	}
}

func TestServiceJoin_UnknownSession(t *testing.T) {
	t.Parallel()

	svc := newTestService(memreg.New(), &mockRooms{}, &mockDispatcher{}, nil)
	_, err := svc.Join(context.Background(), "ghost", "user", "p1", "")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Join: error = %v, want ErrNotFound", err)
	}
}

func TestServiceUpdateImage(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	svc := newTestService(reg, &mockRooms{}, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})

	if err := svc.UpdateImage(ctx, res.RoomName, "img-777"); err != nil {
		t.Fatalf("UpdateImage: %v", err)
	}
	snap, _ := reg.Get(ctx, res.RoomName)
	if snap.ImageRef != "img-777" {
		t.Errorf("ImageRef = %q, want img-777", snap.ImageRef)
	}

	if err := svc.UpdateImage(ctx, "ghost", "img"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("UpdateImage on unknown session: error = %v, want ErrNotFound", err)
	}
}

func TestServiceEnd(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{}
	arch := &mockArchiver{}
	svc := newTestService(reg, rooms, &mockDispatcher{}, arch)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})
	if _, err := svc.ProcessTurn(ctx, res.RoomName, "hello"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	end, err := svc.End(ctx, res.RoomName)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if end.Turns != 1 {
		t.Errorf("Turns = %d, want 1", end.Turns)
	}
	if end.PatientID != "p1" {
		t.Errorf("PatientID = %q", end.PatientID)
	}
	if end.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %f", end.DurationSeconds)
	}

	if _, err := reg.Get(ctx, res.RoomName); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get after End: error = %v, want ErrNotFound", err)
	}
	if len(rooms.deleted) != 1 {
		t.Errorf("room deletes = %v, want one", rooms.deleted)
	}
	if len(arch.got) != 1 {
		t.Fatalf("archived = %d snapshots, want 1", len(arch.got))
	}
	if !arch.got[0].Ended() {
		t.Error("archived snapshot not marked ended")
	}
}

func TestServiceEnd_ArchiveFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	arch := &mockArchiver{fail: errors.New("db down")}
	svc := newTestService(reg, &mockRooms{}, &mockDispatcher{}, arch)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})
	if _, err := svc.End(ctx, res.RoomName); err != nil {
		t.Fatalf("End: %v, want nil despite archive failure", err)
	}
}

func TestServiceEnd_Unknown(t *testing.T) {
	t.Parallel()

	svc := newTestService(memreg.New(), &mockRooms{}, &mockDispatcher{}, nil)
	_, err := svc.End(context.Background(), "ghost")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("End: error = %v, want ErrNotFound", err)
	}
}

func TestServiceStatus_Active(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{exists: true}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})

	st, err := svc.Status(ctx, res.RoomName)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "active" {
		t.Errorf("State = %q, want active", st.State)
	}
	if st.PatientID != "p1" {
		t.Errorf("PatientID = %q", st.PatientID)
	}
}

func TestServiceStatus_DeadRoomPrunes(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{exists: false}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})

	st, err := svc.Status(ctx, res.RoomName)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "ended" {
		t.Errorf("State = %q, want ended", st.State)
	}
	if _, err := reg.Get(ctx, res.RoomName); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session not pruned after dead-room status: %v", err)
	}
}

func TestServiceStatus_ProviderErrorAssumesAlive(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	rooms := &mockRooms{existsErr: errors.New("provider unreachable")}
	svc := newTestService(reg, rooms, &mockDispatcher{}, nil)

	ctx := context.Background()
	res, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})

	st, err := svc.Status(ctx, res.RoomName)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "active" {
		t.Errorf("State = %q, want active when liveness is unknown", st.State)
	}
	if _, err := reg.Get(ctx, res.RoomName); err != nil {
		t.Errorf("session pruned on provider error: %v", err)
	}
}

func TestServiceListActive(t *testing.T) {
	t.Parallel()

	reg := memreg.New()
	svc := newTestService(reg, &mockRooms{}, &mockDispatcher{}, nil)

	ctx := context.Background()
	a, _ := svc.Start(ctx, StartRequest{PatientID: "p1", Location: "ER"})
	b, _ := svc.Start(ctx, StartRequest{PatientID: "p2", Location: "ICU"})
	_, _ = svc.End(ctx, a.RoomName)

	got := svc.ListActive(ctx)
	if len(got) != 1 {
		t.Fatalf("ListActive = %d sessions, want 1", len(got))
	}
	if got[0].ID != b.RoomName {
		t.Errorf("active session = %q, want %q", got[0].ID, b.RoomName)
	}
}

func TestGenerateRoomName(t *testing.T) {
	t.Parallel()

	a := generateRoomName("Ward B", "P 42")
	b := generateRoomName("Ward B", "P 42")

	if !strings.HasPrefix(a, "triage-ward-b-p-42-") {
		t.Errorf("room name = %q, want sanitized prefix", a)
	}
	if a == b {
		t.Error("room names must be unique per call")
	}
	if a != strings.ToLower(a) {
		t.Errorf("room name %q not lowercase", a)
	}
}

func TestSanitizeNamePart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Ward B", "ward-b"},
		{"ICU/3", "icu-3"},
		{"--er--", "er"},
		{"p42", "p42"},
		{"??", ""},
	}
	for _, tt := range tests {
		if got := sanitizeNamePart(tt.in); got != tt.want {
			t.Errorf("sanitizeNamePart(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
