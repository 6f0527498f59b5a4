package otp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 1200, opts.MatchWindowSeconds)
	assert.Equal(t, 300, opts.LateThresholdSeconds)
	assert.Equal(t, -60, opts.EarlyThresholdSeconds)
	assert.Equal(t, 0.5, opts.BunchingRatio)
	assert.Equal(t, 0.0, opts.ScoreClampMin)
	assert.Equal(t, 100.0, opts.ScoreClampMax)
	assert.NoError(t, opts.Validate())
}

func TestOptions_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{
			name:    "ZeroWindow",
			mutate:  func(o *Options) { o.MatchWindowSeconds = 0 },
			wantErr: "matchWindowSeconds",
		},
		{
			name:    "EarlyAboveLate",
			mutate:  func(o *Options) { o.EarlyThresholdSeconds = 400 },
			wantErr: "earlyThresholdSeconds",
		},
		{
			name:    "BunchingRatioTooHigh",
			mutate:  func(o *Options) { o.BunchingRatio = 1.5 },
			wantErr: "bunchingRatio",
		},
		{
			name:    "BunchingRatioZero",
			mutate:  func(o *Options) { o.BunchingRatio = 0 },
			wantErr: "bunchingRatio",
		},
		{
			name:    "InvertedClampRange",
			mutate:  func(o *Options) { o.ScoreClampMin = 100; o.ScoreClampMax = 0 },
			wantErr: "scoreClampMin",
		},
		{
			name:    "NegativeWorkers",
			mutate:  func(o *Options) { o.Workers = -1 },
			wantErr: "workers",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)

			err := opts.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
