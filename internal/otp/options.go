package otp

import (
	"fmt"
	"time"
)

// Options holds the tunable policies for a single metrics run. Options are
// immutable once passed to ComputeMetrics, so concurrent runs with different
// policies are safe.
type Options struct {
	// MatchWindowSeconds bounds the search for observations around each
	// scheduled arrival time, in both directions.
	MatchWindowSeconds int

	// LateThresholdSeconds classifies an arrival as late when delay exceeds it.
	LateThresholdSeconds int

	// EarlyThresholdSeconds classifies an arrival as early when delay is
	// below it. Negative: early arrivals have negative delay.
	EarlyThresholdSeconds int

	// BunchingRatio flags a headway as bunched when the actual headway is
	// below this fraction of the scheduled headway.
	BunchingRatio float64

	// ScoreClampMin and ScoreClampMax bound the reliability score.
	ScoreClampMin float64
	ScoreClampMax float64

	// Workers bounds the arrival-inference worker pool. Zero means one
	// worker per CPU.
	Workers int
}

// DefaultOptions returns the starting policy. The window and tie-break
// defaults were chosen from the TTC feed's observed poll frequency and
// should be confirmed against sample data before production use.
func DefaultOptions() Options {
	return Options{
		MatchWindowSeconds:    1200,
		LateThresholdSeconds:  300,
		EarlyThresholdSeconds: -60,
		BunchingRatio:         0.5,
		ScoreClampMin:         0,
		ScoreClampMax:         100,
	}
}

// MatchWindow returns the configured window as a duration.
func (o Options) MatchWindow() time.Duration {
	return time.Duration(o.MatchWindowSeconds) * time.Second
}

// Validate rejects option sets that would invalidate every derived metric.
// It must pass before any computation begins.
func (o Options) Validate() error {
	if o.MatchWindowSeconds <= 0 {
		return fmt.Errorf("matchWindowSeconds must be positive, got %d", o.MatchWindowSeconds)
	}
	if o.EarlyThresholdSeconds >= o.LateThresholdSeconds {
		return fmt.Errorf("earlyThresholdSeconds (%d) must be below lateThresholdSeconds (%d)",
			o.EarlyThresholdSeconds, o.LateThresholdSeconds)
	}
	if o.BunchingRatio <= 0 || o.BunchingRatio >= 1 {
		return fmt.Errorf("bunchingRatio must be in (0, 1), got %g", o.BunchingRatio)
	}
	if o.ScoreClampMin >= o.ScoreClampMax {
		return fmt.Errorf("scoreClampMin (%g) must be below scoreClampMax (%g)",
			o.ScoreClampMin, o.ScoreClampMax)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", o.Workers)
	}
	return nil
}
