// Package metrics samples token-level indicators (total supply, global
// staked amount, staking ratio) on a fixed interval and maintains the
// bounded, persisted history behind the dashboard chart.
package metrics

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hayq-io/hayq-dashboard/internal/store"
	"github.com/hayq-io/hayq-dashboard/internal/units"
)

const (
	sampleEvery = 60 * time.Second
	maxSamples  = 12
	maxAge      = time.Hour
)

// SupplyReader is the contract surface the sampler consumes. Satisfied
// by *contract.Binding.
type SupplyReader interface {
	TotalSupply(ctx context.Context) (*big.Int, error)
	TotalStaked(ctx context.Context) (*big.Int, bool, error)
	Decimals() uint8
}

// Sampler owns the metrics history. readerFn returns the currently
// bound contract, or nil while no binding is usable; sampling is
// suspended in that case.
type Sampler struct {
	st       *store.Store
	readerFn func() SupplyReader
	log      *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	samples     []store.Sample
	placeholder bool
	lastTs      time.Time
	listeners   map[int]func(store.Sample)
	nextID      int
}

// New seeds the sampler from persisted history, pruning samples older
// than the age window. With no usable history left, a fixed
// placeholder series keeps the chart populated until the first real
// sample replaces it.
func New(st *store.Store, readerFn func() SupplyReader, log *zap.Logger) *Sampler {
	s := &Sampler{
		st:        st,
		readerFn:  readerFn,
		log:       log,
		now:       time.Now,
		listeners: map[int]func(store.Sample){},
	}

	cutoff := time.Now().Add(-maxAge)
	for _, sample := range st.Samples() {
		if sample.Timestamp.After(cutoff) {
			s.samples = append(s.samples, sample)
		}
	}
	if len(s.samples) > 0 {
		s.lastTs = s.samples[len(s.samples)-1].Timestamp
	} else {
		s.samples = placeholderSeries(time.Now())
		s.placeholder = true
	}
	return s
}

// History returns the current sample series, oldest first.
func (s *Sampler) History() []store.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Sample(nil), s.samples...)
}

// Subscribe registers a listener for newly appended samples.
func (s *Sampler) Subscribe(fn func(store.Sample)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ClearHistory wipes the persisted samples and resets to the
// placeholder series.
func (s *Sampler) ClearHistory() error {
	s.mu.Lock()
	s.samples = placeholderSeries(s.now())
	s.placeholder = true
	s.lastTs = time.Time{}
	s.mu.Unlock()
	return s.st.ClearSamples()
}

// Run samples on a fixed interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

// sampleOnce reads the indicators and appends a sample if its
// timestamp is strictly newer than the last one, guarding against
// overlapping timers.
func (s *Sampler) sampleOnce(ctx context.Context) {
	reader := s.readerFn()
	if reader == nil {
		return
	}

	supply, err := reader.TotalSupply(ctx)
	if err != nil {
		s.log.Debug("total supply read failed", zap.Error(err))
		return
	}
	stakedTotal, ok, err := reader.TotalStaked(ctx)
	if err != nil {
		s.log.Debug("total staked read failed", zap.Error(err))
		stakedTotal, ok = big.NewInt(0), false
	}
	if !ok {
		stakedTotal = big.NewInt(0)
	}

	ts := s.now()
	decimals := reader.Decimals()
	sample := store.Sample{
		Timestamp:   ts,
		Label:       ts.Format("15:04"),
		TotalSupply: units.Format(supply, decimals),
		TotalStaked: units.Format(stakedTotal, decimals),
		Ratio:       stakingRatio(stakedTotal, supply),
	}

	s.mu.Lock()
	if !ts.After(s.lastTs) {
		s.mu.Unlock()
		return
	}
	if s.placeholder {
		s.samples = nil
		s.placeholder = false
	}
	s.samples = append(s.samples, sample)
	if len(s.samples) > maxSamples {
		s.samples = s.samples[len(s.samples)-maxSamples:]
	}
	s.lastTs = ts
	persisted := append([]store.Sample(nil), s.samples...)
	targets := make([]func(store.Sample), 0, len(s.listeners))
	for _, fn := range s.listeners {
		targets = append(targets, fn)
	}
	s.mu.Unlock()

	if err := s.st.SaveSamples(persisted); err != nil {
		s.log.Warn("persisting metrics history failed", zap.Error(err))
	}
	for _, fn := range targets {
		fn(sample)
	}
}

// stakingRatio renders staked/supply as a percentage with one decimal
// place, rounded half up. A zero supply yields "0.0".
func stakingRatio(stakedTotal, supply *big.Int) string {
	if supply == nil || supply.Sign() <= 0 || stakedTotal == nil || stakedTotal.Sign() <= 0 {
		return "0.0"
	}
	// per-mille, rounded: staked*1000/supply with half-up rounding.
	num := new(big.Int).Mul(stakedTotal, big.NewInt(1000))
	num.Add(num, new(big.Int).Div(supply, big.NewInt(2)))
	perMille := new(big.Int).Div(num, supply)
	return fmt.Sprintf("%d.%d",
		new(big.Int).Div(perMille, big.NewInt(10)),
		new(big.Int).Mod(perMille, big.NewInt(10)))
}

// placeholderSeries is the fixed seed series shown before any real
// sample exists.
func placeholderSeries(now time.Time) []store.Sample {
	labels := []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun"}
	values := []string{"100.0", "120.0", "115.0", "140.0", "155.0", "180.0"}

	out := make([]store.Sample, len(labels))
	for i := range labels {
		out[i] = store.Sample{
			Timestamp:   now.Add(-time.Duration(len(labels)-1-i) * time.Minute),
			Label:       labels[i],
			TotalSupply: "0",
			TotalStaked: "0",
			Ratio:       values[i],
		}
	}
	return out
}
