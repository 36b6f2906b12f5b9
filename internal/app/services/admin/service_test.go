package admin

import (
	"context"
	"testing"
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage/memory"
	"github.com/openremit/remit_engine/internal/app/token"
)

func newService(t *testing.T) (*Service, *memory.Store, *token.Simulator) {
	t.Helper()
	store := memory.New()
	sim := token.NewSimulator("engine")
	env := exec.NewEnv("engine", exec.NewManualClock(time.Unix(1_000_000, 0)))
	svc := New(store, guard.New(store, store), sim, env, nil)

	_, err := svc.Bootstrap(context.Background(), BootstrapConfig{
		Owner:    "owner",
		Treasury: "treasury",
		FeeBps:   remit.DefaultFeeBps,
		Tokens:   []string{"USDT", "USDC"},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc, store, sim
}

func TestBootstrap(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	st, err := store.GetPolicy(ctx)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if st.Owner != "owner" || st.Treasury != "treasury" || st.FeeBps != remit.DefaultFeeBps {
		t.Fatalf("policy = %+v", st)
	}
	for _, tok := range []string{"USDT", "USDC"} {
		supported, err := svc.TokenSupported(ctx, tok)
		if err != nil || !supported {
			t.Fatalf("token %s supported = %v, %v", tok, supported, err)
		}
	}

	// Bootstrapping again is a no-op, not an error.
	again, err := svc.Bootstrap(ctx, BootstrapConfig{Owner: "usurper", Treasury: "elsewhere"})
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if again.Owner != "owner" {
		t.Fatalf("owner = %q, want original owner", again.Owner)
	}
}

func TestBootstrapValidation(t *testing.T) {
	store := memory.New()
	env := exec.NewEnv("engine", nil)
	svc := New(store, guard.New(store, store), token.NewSimulator("engine"), env, nil)
	ctx := context.Background()

	if _, err := svc.Bootstrap(ctx, BootstrapConfig{Owner: "", Treasury: "t"}); err != remit.ErrInvalidConfiguration {
		t.Fatalf("empty owner: got %v, want ErrInvalidConfiguration", err)
	}
	if _, err := svc.Bootstrap(ctx, BootstrapConfig{Owner: "o", Treasury: "t", FeeBps: remit.MaxFeeBps + 1}); err != remit.ErrInvalidConfiguration {
		t.Fatalf("fee above cap: got %v, want ErrInvalidConfiguration", err)
	}
}

func TestSetTokenSupport(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if err := svc.SetTokenSupport(ctx, "mallory", "PHP", true); err != remit.ErrUnauthorized {
		t.Fatalf("non-owner: got %v, want ErrUnauthorized", err)
	}

	if err := svc.SetTokenSupport(ctx, "owner", "PHP", true); err != nil {
		t.Fatalf("add token: %v", err)
	}
	supported, _ := svc.TokenSupported(ctx, "PHP")
	if !supported {
		t.Fatal("PHP should be supported")
	}

	if err := svc.SetTokenSupport(ctx, "owner", "PHP", false); err != nil {
		t.Fatalf("remove token: %v", err)
	}
	supported, _ = svc.TokenSupported(ctx, "PHP")
	if supported {
		t.Fatal("PHP should no longer be supported")
	}
}

func TestPauseUnpause(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	if err := svc.Pause(ctx, "mallory"); err != remit.ErrUnauthorized {
		t.Fatalf("non-owner pause: got %v, want ErrUnauthorized", err)
	}

	if err := svc.Pause(ctx, "owner"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, _ := store.GetPolicy(ctx)
	if !st.Paused {
		t.Fatal("engine should be paused")
	}

	// Owner controls still work while paused.
	if err := svc.SetDailyLimit(ctx, "owner", "alice", 500); err != nil {
		t.Fatalf("set limit while paused: %v", err)
	}

	if err := svc.Unpause(ctx, "owner"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	st, _ = store.GetPolicy(ctx)
	if st.Paused {
		t.Fatal("engine should be unpaused")
	}
}

func TestSetDailyLimit(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	if err := svc.SetDailyLimit(ctx, "mallory", "alice", 100); err != remit.ErrUnauthorized {
		t.Fatalf("non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := svc.SetDailyLimit(ctx, "owner", "alice", 100); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	limit, _ := store.GetDailyLimit(ctx, "alice")
	if limit != 100 {
		t.Fatalf("limit = %d, want 100", limit)
	}
}

func TestSetTreasury(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	if err := svc.SetTreasury(ctx, "owner", " "); err != remit.ErrInvalidConfiguration {
		t.Fatalf("blank treasury: got %v, want ErrInvalidConfiguration", err)
	}
	if err := svc.SetTreasury(ctx, "owner", "vault-2"); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	st, _ := store.GetPolicy(ctx)
	if st.Treasury != "vault-2" {
		t.Fatalf("treasury = %q, want vault-2", st.Treasury)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	svc, _, sim := newService(t)
	ctx := context.Background()

	sim.Mint("USDT", "engine", 1000)

	if err := svc.EmergencyWithdraw(ctx, "mallory", "USDT", 100); err != remit.ErrUnauthorized {
		t.Fatalf("non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := svc.EmergencyWithdraw(ctx, "owner", "USDT", 400); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	ownerBal, _ := sim.BalanceOf(ctx, "USDT", "owner")
	if ownerBal != 400 {
		t.Fatalf("owner external = %d, want 400", ownerBal)
	}

	// More than custody: the external transfer reports failure.
	if err := svc.EmergencyWithdraw(ctx, "owner", "USDT", 10_000); err != remit.ErrTransferFailed {
		t.Fatalf("over custody: got %v, want ErrTransferFailed", err)
	}
}
