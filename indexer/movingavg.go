package indexer

import "time"

type sample struct {
	at    time.Time
	value uint64
}

// MovingAverage tracks a per-second rate over a sliding time window.
type MovingAverage struct {
	window  time.Duration
	samples []sample
	sum     uint64
	now     func() time.Time
}

func NewMovingAverage(window time.Duration) *MovingAverage {
	return &MovingAverage{window: window, now: time.Now}
}

// Tick records a new value and evicts samples older than the window.
func (a *MovingAverage) Tick(value uint64) {
	now := a.now()
	a.samples = append(a.samples, sample{at: now, value: value})
	a.sum += value

	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.samples)-1 && a.samples[i].at.Before(cutoff) {
		a.sum -= a.samples[i].value
		i++
	}
	a.samples = a.samples[i:]
}

func (a *MovingAverage) Sum() uint64 {
	return a.sum
}

// AveragePerSecond returns the windowed rate. With fewer than two samples
// there is no elapsed time to divide by, so the rate is zero.
func (a *MovingAverage) AveragePerSecond() float64 {
	if len(a.samples) < 2 {
		return 0
	}
	elapsed := a.samples[len(a.samples)-1].at.Sub(a.samples[0].at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(a.sum-a.samples[0].value) / elapsed
}
