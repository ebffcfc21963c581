package metrics

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/store"
)

type stubSupply struct {
	supply    *big.Int
	staked    *big.Int
	supplyErr error
}

func (r *stubSupply) TotalSupply(ctx context.Context) (*big.Int, error) {
	if r.supplyErr != nil {
		return nil, r.supplyErr
	}
	return new(big.Int).Set(r.supply), nil
}

func (r *stubSupply) TotalStaked(ctx context.Context) (*big.Int, bool, error) {
	if r.staked == nil {
		return big.NewInt(0), false, nil
	}
	return new(big.Int).Set(r.staked), true, nil
}

func (r *stubSupply) Decimals() uint8 { return 18 }

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newSampler(t *testing.T, reader SupplyReader) (*Sampler, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	s := New(st, func() SupplyReader { return reader }, zap.NewNop())
	return s, st
}

func TestPlaceholderSeries(t *testing.T) {
	s, _ := newSampler(t, nil)

	history := s.History()
	require.Len(t, history, 6)
	assert.Equal(t, "Jan", history[0].Label)
	assert.Equal(t, "180.0", history[5].Ratio)
}

func TestFirstSampleReplacesPlaceholder(t *testing.T) {
	reader := &stubSupply{supply: tokens(1_000_000), staked: tokens(250_000)}
	s, st := newSampler(t, reader)

	s.sampleOnce(context.Background())

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "25.0", history[0].Ratio)
	assert.Equal(t, "1,000,000", history[0].TotalSupply)
	assert.Equal(t, "250,000", history[0].TotalStaked)

	// Persisted too.
	assert.Len(t, st.Samples(), 1)
}

func TestNoSamplingWithoutBinding(t *testing.T) {
	st, err := store.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	s := New(st, func() SupplyReader { return nil }, zap.NewNop())

	s.sampleOnce(context.Background())
	assert.Len(t, s.History(), 6, "placeholder must remain untouched")
}

func TestSupplyErrorSkipsSample(t *testing.T) {
	reader := &stubSupply{supplyErr: errors.New("rpc timeout")}
	s, _ := newSampler(t, reader)

	s.sampleOnce(context.Background())
	assert.Len(t, s.History(), 6)
}

func TestUnsupportedStakedYieldsZeroRatio(t *testing.T) {
	reader := &stubSupply{supply: tokens(1_000_000)}
	s, _ := newSampler(t, reader)

	s.sampleOnce(context.Background())
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "0.0", history[0].Ratio)
	assert.Equal(t, "0", history[0].TotalStaked)
}

func TestDuplicateTimestampDropped(t *testing.T) {
	reader := &stubSupply{supply: tokens(100), staked: tokens(10)}
	s, _ := newSampler(t, reader)

	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	s.sampleOnce(context.Background())
	s.sampleOnce(context.Background())
	assert.Len(t, s.History(), 1, "a sample not strictly newer must be dropped")

	s.now = func() time.Time { return fixed.Add(time.Minute) }
	s.sampleOnce(context.Background())
	assert.Len(t, s.History(), 2)
}

func TestBoundedHistory(t *testing.T) {
	reader := &stubSupply{supply: tokens(100), staked: tokens(10)}
	s, _ := newSampler(t, reader)

	base := time.Now()
	for i := 0; i < maxSamples+5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return tick }
		s.sampleOnce(context.Background())
	}

	history := s.History()
	assert.Len(t, history, maxSamples)
	assert.Equal(t, base.Add(5*time.Minute).Unix(), history[0].Timestamp.Unix(),
		"oldest samples are evicted first")
}

func TestOldSamplesPrunedOnLoad(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir, zap.NewNop())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, st.SaveSamples([]store.Sample{
		{Timestamp: now.Add(-2 * time.Hour), Label: "old", Ratio: "1.0"},
		{Timestamp: now.Add(-time.Minute), Label: "recent", Ratio: "2.0"},
	}))

	s := New(st, func() SupplyReader { return nil }, zap.NewNop())
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "recent", history[0].Label)
}

func TestClearHistory(t *testing.T) {
	reader := &stubSupply{supply: tokens(100), staked: tokens(10)}
	s, st := newSampler(t, reader)

	s.sampleOnce(context.Background())
	require.Len(t, s.History(), 1)

	require.NoError(t, s.ClearHistory())
	assert.Len(t, s.History(), 6, "history resets to the placeholder series")
	assert.Empty(t, st.Samples())

	// Sampling resumes normally afterwards.
	s.now = func() time.Time { return time.Now().Add(time.Minute) }
	s.sampleOnce(context.Background())
	assert.Len(t, s.History(), 1)
}

func TestSubscriberReceivesSamples(t *testing.T) {
	reader := &stubSupply{supply: tokens(100), staked: tokens(50)}
	s, _ := newSampler(t, reader)

	var got []store.Sample
	unsub := s.Subscribe(func(sample store.Sample) { got = append(got, sample) })
	defer unsub()

	s.sampleOnce(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "50.0", got[0].Ratio)
}

func TestStakingRatioRounding(t *testing.T) {
	cases := []struct {
		staked, supply int64
		want           string
	}{
		{1, 3, "33.3"},
		{1, 8, "12.5"},
		{1, 16, "6.3"},
		{1, 1, "100.0"},
		{0, 100, "0.0"},
		{5, 0, "0.0"},
	}
	for _, tc := range cases {
		got := stakingRatio(big.NewInt(tc.staked), big.NewInt(tc.supply))
		assert.Equal(t, tc.want, got, "staked=%d supply=%d", tc.staked, tc.supply)
	}
}
