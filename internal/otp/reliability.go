package otp

// reliabilityScore combines OTP with delay variability into a single
// composite: otp_percent - (delay_stddev_minutes / 2), clamped to the
// configured range so the score stays interpretable.
func reliabilityScore(otpPercent, delayStdDevSeconds float64, opts Options) float64 {
	score := otpPercent - (delayStdDevSeconds/60.0)/2.0
	if score < opts.ScoreClampMin {
		return opts.ScoreClampMin
	}
	if score > opts.ScoreClampMax {
		return opts.ScoreClampMax
	}
	return score
}
