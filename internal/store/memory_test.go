package store

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"carecall-rtc/internal/calls"
)

func TestMemory_DeviceLookupFollowsUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u, err := m.UpsertUser(ctx, "kakao_1", "Grandma")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := m.UpsertDevice(ctx, Device{UserID: u.ID, TokenKind: TokenKindVoIP, Token: "voip-1"}); err != nil {
		t.Fatalf("upsert device: %v", err)
	}

	got, ok, err := m.FindUserByDeviceToken(ctx, TokenKindVoIP, "voip-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Identity != "kakao_1" {
		t.Fatalf("unexpected identity %q", got.Identity)
	}

	if _, ok, _ := m.FindUserByDeviceToken(ctx, TokenKindAPNs, "voip-1"); ok {
		t.Fatalf("token kinds must not alias")
	}
}

func TestMemory_UpsertUserKeepsNameWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.UpsertUser(ctx, "kakao_1", "Grandma")
	u, _ := m.UpsertUser(ctx, "kakao_1", "")
	if u.Name != "Grandma" {
		t.Fatalf("expected name kept, got %q", u.Name)
	}
}

func TestMemory_CreateCallFirstCallerWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateCall(ctx, "room-1", "system", "kakao_1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := m.CreateCall(ctx, "room-1", "system", "kakao_2")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if a.ID != b.ID || b.CalleeIdentity != "kakao_1" {
		t.Fatalf("expected first call returned, got %+v", b)
	}
	if m.CallCount() != 1 {
		t.Fatalf("expected one call")
	}
}

func TestMemory_TransitionCall(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c, _ := m.CreateCall(ctx, "room-1", "system", "kakao_1")

	now := time.Now()
	got, changed, err := m.TransitionCall(ctx, c.ID, calls.StateEnded, now)
	if err != nil || !changed {
		t.Fatalf("expected change, changed=%v err=%v", changed, err)
	}
	if got.EndedAt == nil || got.State != calls.StateEnded {
		t.Fatalf("expected ended call, got %+v", got)
	}

	_, changed, err = m.TransitionCall(ctx, c.ID, calls.StateAnswered, now)
	if err != nil || changed {
		t.Fatalf("ended call must be frozen, changed=%v err=%v", changed, err)
	}

	if _, _, err := m.TransitionCall(ctx, "missing", calls.StateEnded, now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one migration")
	}
}
