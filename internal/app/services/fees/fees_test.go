package fees

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openremit/remit_engine/internal/app/domain/policy"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/services/guard"
	"github.com/openremit/remit_engine/internal/app/storage/memory"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name   string
		amount uint64
		bps    uint32
		want   uint64
	}{
		{"zero amount", 0, 50, 0},
		{"zero rate", 10000, 0, 0},
		{"half percent", 10000, 50, 50},
		{"one percent", 10000, 100, 100},
		{"rounds down", 199, 50, 0},
		{"small amount", 2000, 50, 10},
		{"odd amount", 12345, 50, 61},
		{"max uint64 at cap", math.MaxUint64, 100, math.MaxUint64 / 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compute(tc.amount, tc.bps))
		})
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	for _, amount := range []uint64{1, 999, 10000, 123456789, math.MaxUint64} {
		first := Compute(amount, remit.DefaultFeeBps)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Compute(amount, remit.DefaultFeeBps))
		}
	}
}

func TestNetPlusFeeEqualsAmount(t *testing.T) {
	for _, amount := range []uint64{0, 1, 199, 10000, 987654321, math.MaxUint64} {
		fee := Compute(amount, remit.MaxFeeBps)
		net, err := Net(amount, fee)
		require.NoError(t, err)
		assert.Equal(t, amount, net+fee, "amount %d", amount)
	}
}

func TestNetRejectsUnderflow(t *testing.T) {
	_, err := Net(10, 11)
	assert.ErrorIs(t, err, remit.ErrInvalidAmount)
}

func newFeeService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	_, err := store.InitPolicy(context.Background(), policy.State{
		Owner:    "owner",
		Treasury: "treasury",
		FeeBps:   remit.DefaultFeeBps,
	})
	require.NoError(t, err)
	return New(store, guard.New(store, store), nil), store
}

func TestQuote(t *testing.T) {
	svc, _ := newFeeService(t)

	fee, net, err := svc.Quote(context.Background(), 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), fee)
	assert.Equal(t, uint64(9950), net)
}

func TestSetRate(t *testing.T) {
	svc, _ := newFeeService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetRate(ctx, "owner", 100))
	rate, err := svc.Rate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), rate)

	fee, _, err := svc.Quote(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), fee)
}

func TestSetRateRejectsNonOwner(t *testing.T) {
	svc, _ := newFeeService(t)
	err := svc.SetRate(context.Background(), "mallory", 10)
	assert.ErrorIs(t, err, remit.ErrUnauthorized)
}

func TestSetRateRejectsAboveCap(t *testing.T) {
	svc, _ := newFeeService(t)
	err := svc.SetRate(context.Background(), "owner", remit.MaxFeeBps+1)
	assert.ErrorIs(t, err, remit.ErrInvalidConfiguration)

	rate, err := svc.Rate(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	assert.Equal(t, uint32(remit.DefaultFeeBps), rate)
}
