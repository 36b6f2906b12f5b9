package beneficiaries

import (
	"context"
	"testing"
	"time"

	"github.com/openremit/remit_engine/internal/app/domain/account"
	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/exec"
	"github.com/openremit/remit_engine/internal/app/services/fees"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage/memory"
	"github.com/openremit/remit_engine/internal/app/token"
)

const (
	engine   = "engine"
	treasury = "treasury"
	usdt     = "USDT"
	start    = int64(1_000_000)
)

type fixture struct {
	svc   *Service
	store *memory.Store
	sim   *token.Simulator
	clock *exec.ManualClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := store.InitPolicy(ctx, policy.State{
		Owner:    "owner",
		Treasury: treasury,
		FeeBps:   remit.DefaultFeeBps,
	})
	if err != nil {
		t.Fatalf("init policy: %v", err)
	}
	if err := store.SetTokenSupport(ctx, usdt, true); err != nil {
		t.Fatalf("set token support: %v", err)
	}
	if _, err := store.CreateAccount(ctx, account.Account{
		Address:  "alice",
		Active:   true,
		Balances: map[string]uint64{usdt: 50_000},
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	sim := token.NewSimulator(engine)
	// The engine holds custody backing the internal balances.
	sim.Mint(usdt, engine, 50_000)

	clock := exec.NewManualClock(time.Unix(start, 0))
	env := exec.NewEnv(engine, clock)
	gate := guard.New(store, store)
	svc := New(store, store, store, gate, fees.New(store, gate, nil), sim, env, nil, nil)
	return fixture{svc: svc, store: store, sim: sim, clock: clock}
}

func (f fixture) addDaily(t *testing.T, amount uint64) beneficiary.Beneficiary {
	t.Helper()
	b, err := f.svc.Add(context.Background(), "alice", "mama", "Mama", "mother", amount, usdt, beneficiary.Daily)
	if err != nil {
		t.Fatalf("add beneficiary: %v", err)
	}
	return b
}

func TestAdd(t *testing.T) {
	f := newFixture(t)

	b := f.addDaily(t, 10_000)
	if b.Index != 0 {
		t.Fatalf("index = %d, want 0", b.Index)
	}
	if !b.Active || b.LastPayment != 0 || b.TotalSent != 0 {
		t.Fatalf("beneficiary = %+v", b)
	}

	second, err := f.svc.Add(context.Background(), "alice", "papa", "Papa", "father", 5_000, usdt, beneficiary.Weekly)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.Index != 1 {
		t.Fatalf("index = %d, want 1", second.Index)
	}

	count, err := f.svc.Count(context.Background(), "alice")
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v; want 2", count, err)
	}
}

func TestAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Add(ctx, "ghost", "x", "", "", 100, usdt, beneficiary.Daily); err != remit.ErrNotRegistered {
		t.Fatalf("unregistered: got %v, want ErrNotRegistered", err)
	}
	if _, err := f.svc.Add(ctx, "alice", "x", "", "", 100, "DOGE", beneficiary.Daily); err != remit.ErrInvalidConfiguration {
		t.Fatalf("unsupported token: got %v, want ErrInvalidConfiguration", err)
	}
	if _, err := f.svc.Add(ctx, "alice", "x", "", "", 0, usdt, beneficiary.Daily); err != remit.ErrInvalidConfiguration {
		t.Fatalf("zero amount: got %v, want ErrInvalidConfiguration", err)
	}
	if _, err := f.svc.Add(ctx, "alice", "x", "", "", 100, usdt, beneficiary.Frequency(3)); err != remit.ErrInvalidFrequency {
		t.Fatalf("bad frequency: got %v, want ErrInvalidFrequency", err)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	updated, err := f.svc.Update(ctx, "alice", 0, 20_000, beneficiary.Monthly)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Amount != 20_000 || updated.Frequency != beneficiary.Monthly {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := f.svc.Update(ctx, "alice", 9, 1, beneficiary.Daily); err != remit.ErrBeneficiaryNotFound {
		t.Fatalf("bad index: got %v, want ErrBeneficiaryNotFound", err)
	}
	if _, err := f.svc.Update(ctx, "alice", 0, 1, beneficiary.Frequency(2)); err != remit.ErrInvalidFrequency {
		t.Fatalf("bad frequency: got %v, want ErrInvalidFrequency", err)
	}
}

func TestRemoveIsSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	if err := f.svc.Remove(ctx, "alice", 0); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// The slot stays allocated and readable.
	count, _ := f.svc.Count(ctx, "alice")
	if count != 1 {
		t.Fatalf("count = %d, want 1 after removal", count)
	}
	b, err := f.svc.Get(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("get removed: %v", err)
	}
	if b.Active {
		t.Fatal("removed beneficiary should be inactive")
	}

	if err := f.svc.Remove(ctx, "alice", 0); err != remit.ErrBeneficiaryNotFound {
		t.Fatalf("double remove: got %v, want ErrBeneficiaryNotFound", err)
	}
	if _, err := f.svc.Update(ctx, "alice", 0, 1, beneficiary.Daily); err != remit.ErrBeneficiaryNotFound {
		t.Fatalf("update removed: got %v, want ErrBeneficiaryNotFound", err)
	}

	// Indices are never reused.
	next, err := f.svc.Add(ctx, "alice", "papa", "Papa", "father", 100, usdt, beneficiary.Manual)
	if err != nil {
		t.Fatalf("add after remove: %v", err)
	}
	if next.Index != 1 {
		t.Fatalf("index = %d, want 1", next.Index)
	}
}

func TestExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	if err := f.svc.Execute(ctx, "alice", 0); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The internal balance is debited gross; the address receives net and
	// the treasury the fee.
	alice, _ := f.store.GetAccount(ctx, "alice")
	if alice.Balances[usdt] != 40_000 {
		t.Fatalf("internal balance = %d, want 40000", alice.Balances[usdt])
	}
	if alice.TotalSent != 10_000 {
		t.Fatalf("total_sent = %d, want 10000", alice.TotalSent)
	}
	mamaBal, _ := f.sim.BalanceOf(ctx, usdt, "mama")
	if mamaBal != 9_950 {
		t.Fatalf("mama external = %d, want 9950", mamaBal)
	}
	treasBal, _ := f.sim.BalanceOf(ctx, usdt, treasury)
	if treasBal != 50 {
		t.Fatalf("treasury external = %d, want 50", treasBal)
	}

	b, _ := f.svc.Get(ctx, "alice", 0)
	if b.LastPayment != start {
		t.Fatalf("last_payment = %d, want %d", b.LastPayment, start)
	}
	if b.TotalSent != 10_000 {
		t.Fatalf("beneficiary total_sent = %d, want 10000", b.TotalSent)
	}

	// Auto-executions advance the execution counter only; no payment record.
	st, _ := f.store.GetPolicy(ctx)
	if st.ExecutionCount != 1 || st.PaymentCount != 0 {
		t.Fatalf("counters = %+v", st)
	}
}

func TestExecuteRespectsFrequency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 1_000)

	if err := f.svc.Execute(ctx, "alice", 0); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := f.svc.Execute(ctx, "alice", 0); err != remit.ErrFrequencyNotMet {
		t.Fatalf("immediate re-execute: got %v, want ErrFrequencyNotMet", err)
	}

	f.clock.Advance(23 * time.Hour)
	if err := f.svc.Execute(ctx, "alice", 0); err != remit.ErrFrequencyNotMet {
		t.Fatalf("before interval: got %v, want ErrFrequencyNotMet", err)
	}

	f.clock.Advance(time.Hour)
	if err := f.svc.Execute(ctx, "alice", 0); err != nil {
		t.Fatalf("after interval: %v", err)
	}
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Execute(ctx, "alice", 0); err != remit.ErrBeneficiaryNotFound {
		t.Fatalf("missing: got %v, want ErrBeneficiaryNotFound", err)
	}

	manual, err := f.svc.Add(ctx, "alice", "papa", "Papa", "father", 100, usdt, beneficiary.Manual)
	if err != nil {
		t.Fatalf("add manual: %v", err)
	}
	if err := f.svc.Execute(ctx, "alice", manual.Index); err != remit.ErrInvalidConfiguration {
		t.Fatalf("manual: got %v, want ErrInvalidConfiguration", err)
	}

	removed := f.addDaily(t, 100)
	if err := f.svc.Remove(ctx, "alice", removed.Index); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.svc.Execute(ctx, "alice", removed.Index); err != remit.ErrInvalidConfiguration {
		t.Fatalf("removed: got %v, want ErrInvalidConfiguration", err)
	}
}

func TestExecuteInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.addDaily(t, 60_000)

	if err := f.svc.Execute(context.Background(), "alice", 0); err != remit.ErrInsufficientBalance {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestExecutePushFailureKeepsDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	f.sim.RejectTransfersTo("mama", true)

	if err := f.svc.Execute(ctx, "alice", 0); err != remit.ErrTransferFailed {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	alice, _ := f.store.GetAccount(ctx, "alice")
	if alice.Balances[usdt] != 40_000 {
		t.Fatalf("balance = %d, want 40000 (debit kept)", alice.Balances[usdt])
	}
	if alice.TotalSent != 0 {
		t.Fatalf("total_sent = %d, want 0 after failed push", alice.TotalSent)
	}
	// Schedule state is untouched by the failed push.
	b, _ := f.svc.Get(ctx, "alice", 0)
	if b.LastPayment != 0 {
		t.Fatalf("last_payment = %d, want 0", b.LastPayment)
	}
}

func TestExecuteWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 100)

	st, _ := f.store.GetPolicy(ctx)
	st.Paused = true
	if _, err := f.store.UpdatePolicy(ctx, st); err != nil {
		t.Fatalf("update policy: %v", err)
	}

	if err := f.svc.Execute(ctx, "alice", 0); err != remit.ErrContractPaused {
		t.Fatalf("got %v, want ErrContractPaused", err)
	}
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	targets := []Target{
		{Owner: "alice", Index: 0}, // succeeds
		{Owner: "alice", Index: 0}, // frequency not met after the first
		{Owner: "alice", Index: 7}, // missing
		{Owner: "ghost", Index: 0}, // unknown owner
	}
	results, err := f.svc.ExecuteBatch(ctx, targets)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := []bool{true, false, false, false}
	if len(results) != len(want) {
		t.Fatalf("results = %v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("results[%d] = %v, want %v (all: %v)", i, results[i], want[i], results)
		}
	}
}

func TestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDaily(t, 10_000) // due, covered
	if _, err := f.svc.Add(ctx, "alice", "papa", "Papa", "father", 100, usdt, beneficiary.Manual); err != nil {
		t.Fatalf("add manual: %v", err)
	}
	f.addDaily(t, 60_000) // due but not covered by the 50k balance

	pending, err := f.svc.Pending(ctx, "alice")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != 0 {
		t.Fatalf("pending = %v, want [0]", pending)
	}

	if err := f.svc.Execute(ctx, "alice", 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	pending, err = f.svc.Pending(ctx, "alice")
	if err != nil {
		t.Fatalf("pending after execute: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %v, want empty", pending)
	}
}

func TestEstimateNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	// Never executed: eligible now.
	next, err := f.svc.EstimateNext(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if next != start {
		t.Fatalf("next = %d, want %d", next, start)
	}

	if err := f.svc.Execute(ctx, "alice", 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	next, err = f.svc.EstimateNext(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("estimate after execute: %v", err)
	}
	if next != start+remit.SecondsPerDay {
		t.Fatalf("next = %d, want %d", next, start+remit.SecondsPerDay)
	}

	manual, err := f.svc.Add(ctx, "alice", "papa", "Papa", "father", 100, usdt, beneficiary.Manual)
	if err != nil {
		t.Fatalf("add manual: %v", err)
	}
	next, err = f.svc.EstimateNext(ctx, "alice", manual.Index)
	if err != nil {
		t.Fatalf("estimate manual: %v", err)
	}
	if next != 0 {
		t.Fatalf("manual next = %d, want 0", next)
	}

	if _, err := f.svc.EstimateNext(ctx, "alice", 42); err != remit.ErrBeneficiaryNotFound {
		t.Fatalf("bad index: got %v, want ErrBeneficiaryNotFound", err)
	}
}

func TestCrankSweepExecutesDuePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDaily(t, 10_000)

	crank := NewCrank(f.store, f.svc, "@every 1m", nil)
	crank.Sweep(ctx)

	alice, _ := f.store.GetAccount(ctx, "alice")
	if alice.Balances[usdt] != 40_000 {
		t.Fatalf("balance = %d, want 40000 after sweep", alice.Balances[usdt])
	}

	// A second sweep finds nothing due.
	crank.Sweep(ctx)
	alice, _ = f.store.GetAccount(ctx, "alice")
	if alice.Balances[usdt] != 40_000 {
		t.Fatalf("balance = %d, want 40000 after idle sweep", alice.Balances[usdt])
	}
}
