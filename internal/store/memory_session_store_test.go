package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSessionStore() (*MemorySessionStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	sessions := NewMemorySessionStore(90 * time.Second)
	sessions.SetClock(clock.Now)
	return sessions, clock
}

func TestMemorySessionStore_LoadEnforcesInactivityWindow(t *testing.T) {
	sessions, clock := newTestSessionStore()
	ctx := context.Background()

	if err := sessions.Start(ctx, &domain.Session{SessionID: "s1", PhoneNumber: "+2348030000001", Step: domain.StepMainMenu}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	clock.Advance(90 * time.Second)
	if _, err := sessions.Load(ctx, "s1", ""); err != nil {
		t.Fatalf("expected session at exactly the window to load, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := sessions.Load(ctx, "s1", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be absent, got %v", err)
	}
	stored, _ := sessions.Get("s1")
	if !stored.Active {
		t.Fatalf("expected active flag to remain set until the sweep")
	}

	swept, err := sessions.SweepExpired(ctx, clock.Now())
	if err != nil || swept != 1 {
		t.Fatalf("expected one swept session, got %d err=%v", swept, err)
	}
	stored, _ = sessions.Get("s1")
	if stored.Active {
		t.Fatalf("expected sweep to clear the active flag")
	}
}

func TestMemorySessionStore_StartKeepsOneActiveSessionPerPhone(t *testing.T) {
	sessions, _ := newTestSessionStore()
	ctx := context.Background()
	phone := "+2348030000001"

	_ = sessions.Start(ctx, &domain.Session{SessionID: "old", PhoneNumber: phone, Step: domain.StepMainMenu})
	_ = sessions.Start(ctx, &domain.Session{SessionID: "new", PhoneNumber: phone, Step: domain.StepMainMenu})

	if _, err := sessions.Load(ctx, "old", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected previous session to be deactivated, got %v", err)
	}
	loaded, err := sessions.Load(ctx, "unknown", phone)
	if err != nil {
		t.Fatalf("expected fallback lookup by phone, got %v", err)
	}
	if loaded.SessionID != "new" {
		t.Fatalf("expected phone lookup to return the new session, got %s", loaded.SessionID)
	}
}

func TestMemorySessionStore_UpsertIsCompareAndSwap(t *testing.T) {
	sessions, clock := newTestSessionStore()
	ctx := context.Background()
	_ = sessions.Start(ctx, &domain.Session{SessionID: "s1", PhoneNumber: "+2348030000001", Step: domain.StepMainMenu})

	first, _ := sessions.Load(ctx, "s1", "")
	second, _ := sessions.Load(ctx, "s1", "")

	clock.Advance(30 * time.Second)
	first.Step = domain.StepBalancePIN
	if err := sessions.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert returned error: %v", err)
	}
	if !first.LastActivity.Equal(clock.Now()) {
		t.Fatalf("expected Upsert to refresh last activity")
	}

	second.Step = domain.StepTransferType
	if err := sessions.Close(ctx, second); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected stale writer to conflict, got %v", err)
	}

	if err := sessions.Close(ctx, first); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := sessions.Load(ctx, "s1", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected closed session to be absent, got %v", err)
	}
}

func TestMemorySessionStore_LoadReturnsIsolatedCopies(t *testing.T) {
	sessions, _ := newTestSessionStore()
	ctx := context.Background()
	_ = sessions.Start(ctx, &domain.Session{
		SessionID:   "s1",
		PhoneNumber: "+2348030000001",
		Step:        domain.StepTransferAmount,
		Data:        domain.StepData{Transfer: &domain.TransferData{RecipientAccount: "0000000002"}},
	})

	loaded, _ := sessions.Load(ctx, "s1", "")
	loaded.Data.Transfer.RecipientAccount = "tampered"

	again, _ := sessions.Load(ctx, "s1", "")
	if again.Data.Transfer.RecipientAccount != "0000000002" {
		t.Fatalf("expected stored step data to be isolated, got %q", again.Data.Transfer.RecipientAccount)
	}
}
