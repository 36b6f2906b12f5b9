package registry

import (
	"context"
	"testing"
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store, *events.Buffer) {
	t.Helper()
	store := memory.New()
	_, err := store.InitPolicy(context.Background(), policy.State{
		Owner:    "owner",
		Treasury: "treasury",
		FeeBps:   remit.DefaultFeeBps,
	})
	if err != nil {
		t.Fatalf("init policy: %v", err)
	}
	env := exec.NewEnv("engine", exec.NewManualClock(time.Unix(1_000_000, 0)))
	buf := events.NewBuffer(10)
	return New(store, guard.New(store, store), env, buf, nil), store, buf
}

func TestRegister(t *testing.T) {
	svc, _, buf := newService(t)
	ctx := context.Background()

	acct, err := svc.Register(ctx, "alice", "  Alice  ", "PH", "+63-900")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Name != "Alice" {
		t.Fatalf("name = %q, want trimmed", acct.Name)
	}
	if !acct.Active {
		t.Fatal("account should be active")
	}
	if acct.RegisteredAt != 1_000_000 {
		t.Fatalf("registered_at = %d, want 1000000", acct.RegisteredAt)
	}
	if acct.Balances == nil || len(acct.Balances) != 0 {
		t.Fatalf("balances = %v, want empty map", acct.Balances)
	}

	recent := buf.Recent(0)
	if len(recent) != 1 || recent[0].Type != events.TypeUserRegistered {
		t.Fatalf("events = %v, want one user_registered", recent)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Alice", "PH", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "Alice Again", "PH", ""); err != remit.ErrUserAlreadyRegistered {
		t.Fatalf("second register: got %v, want ErrUserAlreadyRegistered", err)
	}
}

func TestRegisterTrimsIdentity(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	acct, err := svc.Register(ctx, " alice ", "Alice", "PH", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Address != "alice" {
		t.Fatalf("address = %q, want %q", acct.Address, "alice")
	}
	if _, err := svc.Register(ctx, "alice", "Alice", "PH", ""); err != remit.ErrUserAlreadyRegistered {
		t.Fatalf("padded and bare identity diverged: got %v, want ErrUserAlreadyRegistered", err)
	}
}

func TestRegisterEmptyCaller(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Register(context.Background(), "  ", "A", "PH", ""); err != remit.ErrInvalidConfiguration {
		t.Fatalf("got %v, want ErrInvalidConfiguration", err)
	}
}

func TestRegisterWhilePaused(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	st, err := store.GetPolicy(ctx)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	st.Paused = true
	if _, err := store.UpdatePolicy(ctx, st); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	if _, err := svc.Register(ctx, "alice", "Alice", "PH", ""); err != remit.ErrContractPaused {
		t.Fatalf("got %v, want ErrContractPaused", err)
	}
}

func TestProfileUnknownAccount(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Profile(context.Background(), "ghost"); err != remit.ErrNotRegistered {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
}

func TestList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	for _, addr := range []string{"alice", "bob"} {
		if _, err := svc.Register(ctx, addr, addr, "PH", ""); err != nil {
			t.Fatalf("register %s: %v", addr, err)
		}
	}
	accts, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("len = %d, want 2", len(accts))
	}
}
