package rtc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"carecall-rtc/internal/events"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/store"
	"carecall-rtc/internal/tasks"
	"carecall-rtc/pkg/logger"
)

type stubMinter struct {
	mu   sync.Mutex
	reqs []mediarouter.TokenRequest
}

func (m *stubMinter) Mint(req mediarouter.TokenRequest) (mediarouter.SignedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return mediarouter.SignedToken{Token: "tok-" + req.Identity, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *stubMinter) last() mediarouter.TokenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[len(m.reqs)-1]
}

type fixture struct {
	db     *store.Memory
	router *mediarouter.Memory
	events *events.Recorder
	queue  *tasks.MemoryQueue
	minter *stubMinter
	reg    *Registrar
	issuer *Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     store.NewMemory(),
		router: mediarouter.NewMemory(),
		events: events.NewRecorder(),
		queue:  tasks.NewMemoryQueue(64, 1, logger.Discard()),
		minter: &stubMinter{},
	}
	f.reg = NewRegistrar(f.db, f.router, f.events, f.queue, RegistrarConfig{AgentName: "sodam"}, logger.Discard())
	f.issuer = NewIssuer(f.db, f.reg, f.minter, "wss://lk.example.com", logger.Discard())
	f.queue.Register(tasks.TypeDispatchAgent, f.reg.HandleDispatch)
	return f
}

func (f *fixture) seedDevice(t *testing.T, identity, name string, kind store.TokenKind, token string) {
	t.Helper()
	ctx := context.Background()
	u, err := f.db.UpsertUser(ctx, identity, name)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := f.db.UpsertDevice(ctx, store.Device{UserID: u.ID, TokenKind: kind, Token: token}); err != nil {
		t.Fatalf("seed device: %v", err)
	}
}

func TestIssue_VoIPMatchOverridesSuppliedIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_1", "Grandma", store.TokenKindVoIP, "voip-abc")

	s, err := f.issuer.Issue(context.Background(), TokenRequest{
		Identity: "kakao_999",
		Name:     "Someone Else",
		Role:     "ward",
		Device:   &DeviceInfo{VoIPToken: "voip-abc", APNsToken: "apns-unknown"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "kakao_1" || s.Name != "Grandma" {
		t.Fatalf("expected device owner identity, got %q/%q", s.Identity, s.Name)
	}
	if f.minter.last().Identity != "kakao_1" {
		t.Fatalf("token minted for wrong identity")
	}
}

func TestIssue_VoIPBeforeAPNs(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_apns", "", store.TokenKindAPNs, "apns-1")
	f.seedDevice(t, "kakao_voip", "", store.TokenKindVoIP, "voip-1")

	s, err := f.issuer.Issue(context.Background(), TokenRequest{
		Role:   "ward",
		Device: &DeviceInfo{VoIPToken: "voip-1", APNsToken: "apns-1"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "kakao_voip" {
		t.Fatalf("expected voip owner, got %q", s.Identity)
	}
}

func TestIssue_APNsFallbackWhenVoIPMisses(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_apns", "", store.TokenKindAPNs, "apns-1")

	s, err := f.issuer.Issue(context.Background(), TokenRequest{
		Identity: "kakao_other",
		Role:     "ward",
		Device:   &DeviceInfo{VoIPToken: "voip-new", APNsToken: "apns-1"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "kakao_apns" {
		t.Fatalf("expected apns owner, got %q", s.Identity)
	}
	// the new voip token is now bound to the same user
	u, ok, _ := f.db.FindUserByDeviceToken(context.Background(), store.TokenKindVoIP, "voip-new")
	if !ok || u.Identity != "kakao_apns" {
		t.Fatalf("expected voip token recorded for resolved user")
	}
}

func TestIssue_DeviceRoomNamesAreFreshAndUnique(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_1", "", store.TokenKindVoIP, "voip-1")

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[string]bool{}
		fails []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.issuer.Issue(context.Background(), TokenRequest{
				RoomName: "room-hint",
				Role:     "ward",
				Device:   &DeviceInfo{VoIPToken: "voip-1"},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fails = append(fails, err)
				return
			}
			seen[s.RoomName] = true
		}()
	}
	wg.Wait()

	if len(fails) > 0 {
		t.Fatalf("unexpected errors: %v", fails)
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique rooms, got %d", n, len(seen))
	}
	if seen["room-hint"] {
		t.Fatalf("device session must ignore the room hint")
	}
}

func TestIssue_UnauthenticatedUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.issuer.Issue(context.Background(), TokenRequest{
		RoomName: "room-1",
		Identity: "kakao_404",
		Role:     "ward",
	})
	if !errors.Is(err, rtcerr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIssue_UnauthenticatedKnownIdentityRefreshes(t *testing.T) {
	f := newFixture(t)
	_, _ = f.db.UpsertUser(context.Background(), "kakao_1", "Grandma")

	s, err := f.issuer.Issue(context.Background(), TokenRequest{
		RoomName: "room-1",
		Identity: "kakao_1",
		Role:     "ward",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.RoomName != "room-1" || s.CallID != "" {
		t.Fatalf("non-device session must join the named room without a call, got %+v", s)
	}
	if len(f.events.Events()) != 0 || f.queue.Pending() != 0 {
		t.Fatalf("non-device session must not open room-side records")
	}
}

func TestIssue_UnauthenticatedRequestCannotBindDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.db.UpsertUser(ctx, "kakao_1", "Grandma")

	s, err := f.issuer.Issue(ctx, TokenRequest{
		Identity: "kakao_1",
		Role:     "ward",
		Device:   &DeviceInfo{VoIPToken: "voip-new", APNsToken: "apns-new"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "kakao_1" {
		t.Fatalf("expected known identity, got %q", s.Identity)
	}
	if _, ok, _ := f.db.FindUserByDeviceToken(ctx, store.TokenKindVoIP, "voip-new"); ok {
		t.Fatalf("anonymous request must not bind a voip token to an existing user")
	}
	if _, ok, _ := f.db.FindUserByDeviceToken(ctx, store.TokenKindAPNs, "apns-new"); ok {
		t.Fatalf("anonymous request must not bind an apns token to an existing user")
	}
}

func TestIssue_OwnerBindsDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, TokenRequest{
		Role:   "ward",
		Device: &DeviceInfo{VoIPToken: "voip-mine"},
		Caller: &Caller{Identity: "kakao_5", Name: "Grandpa", Role: "ward"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	u, ok, _ := f.db.FindUserByDeviceToken(ctx, store.TokenKindVoIP, "voip-mine")
	if !ok || u.Identity != "kakao_5" {
		t.Fatalf("expected the signed-in user to own the token, got %+v ok=%v", u, ok)
	}
}

func TestIssue_NonStaffCannotClaimAnotherIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.db.UpsertUser(ctx, "kakao_2", "")

	_, err := f.issuer.Issue(ctx, TokenRequest{
		RoomName: "room-1",
		Identity: "kakao_2",
		Role:     "ward",
		Device:   &DeviceInfo{VoIPToken: "voip-x"},
		Caller:   &Caller{Identity: "kakao_1", Role: "ward"},
	})
	if !errors.Is(err, rtcerr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, ok, _ := f.db.FindUserByDeviceToken(ctx, store.TokenKindVoIP, "voip-x"); ok {
		t.Fatalf("rejected request must not bind devices")
	}

	// staff may still act on a user's behalf
	s, err := f.issuer.Issue(ctx, TokenRequest{
		RoomName: "room-1",
		Identity: "kakao_2",
		Role:     "observer",
		Caller:   &Caller{Identity: "jane", Role: "operator"},
	})
	if err != nil || s.Identity != "kakao_2" {
		t.Fatalf("expected staff to issue for kakao_2, got %+v err=%v", s, err)
	}
}

func TestIssue_BadRequests(t *testing.T) {
	f := newFixture(t)
	caller := &Caller{Identity: "guardian_1", Role: "guardian"}

	cases := []TokenRequest{
		{RoomName: "room-1", Identity: "kakao_1", Role: ""},
		{RoomName: "room-1", Identity: "kakao_1", Role: "bad role!"},
		{RoomName: "", Identity: "kakao_1", Role: "guardian", Caller: caller},
		{RoomName: "../etc", Identity: "kakao_1", Role: "guardian", Caller: caller},
		{RoomName: "room-1", Identity: "bad identity", Role: "guardian", Caller: caller},
	}
	for i, req := range cases {
		if _, err := f.issuer.Issue(context.Background(), req); !errors.Is(err, rtcerr.ErrBadRequest) {
			t.Fatalf("case %d: expected bad request, got %v", i, err)
		}
	}
}

func TestIssue_BearerIdentityFallback(t *testing.T) {
	f := newFixture(t)
	s, err := f.issuer.Issue(context.Background(), TokenRequest{
		RoomName: "room-1",
		Role:     "guardian",
		Caller:   &Caller{Identity: "kakao_7", Name: "Son", Role: "guardian"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "kakao_7" || s.Name != "Son" {
		t.Fatalf("expected bearer identity, got %+v", s)
	}
}

func TestIssue_HostRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, TokenRequest{RoomName: "room-1", Identity: "jane", Role: RoleHost})
	if !errors.Is(err, rtcerr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized host without bearer, got %v", err)
	}

	_, err = f.issuer.Issue(ctx, TokenRequest{RoomName: "room-1", Identity: "jane", Role: RoleHost,
		Caller: &Caller{Identity: "kakao_2", Role: "guardian"}})
	if !errors.Is(err, rtcerr.ErrForbidden) {
		t.Fatalf("expected forbidden host for guardian, got %v", err)
	}

	s, err := f.issuer.Issue(ctx, TokenRequest{RoomName: "room-1", Role: RoleHost,
		Caller: &Caller{Identity: "jane", Role: "operator"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.Identity != "admin_jane" {
		t.Fatalf("expected operator namespace, got %q", s.Identity)
	}
	p := f.minter.last().Permissions
	if !p.RoomAdmin || !p.Hidden || !p.CanPublish {
		t.Fatalf("unexpected host grants %+v", p)
	}
}

func TestPermissionsFor(t *testing.T) {
	obs := PermissionsFor(RoleObserver)
	if obs.CanPublish || obs.CanPublishData || !obs.CanSubscribe || obs.RoomAdmin {
		t.Fatalf("observer must be subscribe-only: %+v", obs)
	}
	ward := PermissionsFor("ward")
	if !ward.CanPublish || !ward.CanSubscribe || !ward.CanPublishData || ward.RoomAdmin || ward.Hidden {
		t.Fatalf("unexpected default grants %+v", ward)
	}
}

func TestIssue_DeviceSessionSideEffects(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_1", "", store.TokenKindVoIP, "voip-1")
	ctx := context.Background()

	s, err := f.issuer.Issue(ctx, TokenRequest{Role: "ward", Device: &DeviceInfo{VoIPToken: "voip-1"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if s.CallID == "" || !strings.HasPrefix(s.RoomName, "room-") {
		t.Fatalf("expected call id and generated room, got %+v", s)
	}

	call, ok, _ := f.db.GetCallByRoom(ctx, s.RoomName)
	if !ok || call.CallerIdentity != "system" || call.CalleeIdentity != "kakao_1" {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(f.db.Members(s.RoomName)) != 1 {
		t.Fatalf("expected room member")
	}
	created := f.events.Of(events.RoomCreated)
	if len(created) != 1 || created[0].CallID != s.CallID {
		t.Fatalf("expected room-created with call id, got %+v", created)
	}

	if len(f.router.Calls(mediarouter.OpCreateDispatch)) != 0 {
		t.Fatalf("agent dispatch must be deferred")
	}
	f.queue.Drain(ctx)
	d := f.router.Calls(mediarouter.OpCreateDispatch)
	if len(d) != 1 || d[0].Room != s.RoomName || d[0].AgentName != "sodam" {
		t.Fatalf("unexpected dispatch %+v", d)
	}
}

func TestIssue_BestEffortFailuresDoNotFailIssuance(t *testing.T) {
	f := newFixture(t)
	f.seedDevice(t, "kakao_1", "", store.TokenKindVoIP, "voip-1")
	f.db.Fail = func(op string) error {
		if op == "create_call" || op == "upsert_room_member" || op == "upsert_device" {
			return errors.New("db down")
		}
		return nil
	}
	f.router.Errors[mediarouter.OpCreateDispatch] = errors.New("no agent workers")

	s, err := f.issuer.Issue(context.Background(), TokenRequest{Role: "ward", Device: &DeviceInfo{VoIPToken: "voip-1"}})
	if err != nil {
		t.Fatalf("best-effort failures leaked: %v", err)
	}
	if s.Token == "" || s.CallID != "" {
		t.Fatalf("expected token without call id, got %+v", s)
	}
	f.queue.Drain(context.Background())
	if len(f.router.Calls(mediarouter.OpCreateDispatch)) != 1 {
		t.Fatalf("expected one dispatch attempt")
	}
}

func TestStartBot(t *testing.T) {
	f := newFixture(t)
	b, err := f.issuer.StartBot(context.Background())
	if err != nil {
		t.Fatalf("start bot: %v", err)
	}
	if !strings.HasPrefix(b.RoomName, "bot-room-") || !strings.HasPrefix(b.Identity, "bot-") {
		t.Fatalf("unexpected bot session %+v", b)
	}
	if b.LiveKitURL != "wss://lk.example.com" {
		t.Fatalf("unexpected url %q", b.LiveKitURL)
	}
	if f.db.CallCount() != 0 {
		t.Fatalf("bot sessions must not create calls")
	}
	f.queue.Drain(context.Background())
	if len(f.router.Calls(mediarouter.OpCreateDispatch)) != 1 {
		t.Fatalf("expected agent dispatched to bot room")
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	f.router.AddRoom(mediarouter.Room{Name: "room-a", CreatedAt: time.Unix(1700000000, 0)})
	f.router.Join("room-a", mediarouter.Participant{Identity: "kakao_1"})
	f.router.Join("room-a", mediarouter.Participant{Identity: "agent-x"})
	f.router.AddRoom(mediarouter.Room{Name: "room-b"})

	ov, err := f.reg.Overview(context.Background(), "wss://lk")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.TotalRooms != 2 || ov.TotalParticipants != 2 {
		t.Fatalf("unexpected totals %+v", ov)
	}
	if ov.Rooms[0].Participants[1].Kind != "agent" {
		t.Fatalf("expected kind on participants, got %+v", ov.Rooms[0].Participants)
	}

	f.router.Errors[mediarouter.OpListRooms] = errors.New("down")
	if _, err := f.reg.Overview(context.Background(), ""); !errors.Is(err, rtcerr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
