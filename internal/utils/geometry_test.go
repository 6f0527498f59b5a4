package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_ZeroForSamePoint(t *testing.T) {
	d := Distance(43.6532, -79.3832, 43.6532, -79.3832)
	assert.Equal(t, 0.0, d)
}

func TestDistance_ShortDistanceApproximation(t *testing.T) {
	// Union Station to King Station in Toronto is roughly 600m.
	d := Distance(43.6453, -79.3806, 43.6489, -79.3775)
	assert.InDelta(t, 470, d, 50)
}

func TestDistance_LongDistanceExact(t *testing.T) {
	// Toronto to Vancouver, roughly 3360 km. Exceeds the 0.2 degree
	// fast-path threshold so this exercises the exact formula.
	d := Distance(43.6532, -79.3832, 49.2827, -123.1207)
	assert.InDelta(t, 3359000, d, 20000)
}

func TestDistance_Symmetric(t *testing.T) {
	a := Distance(43.6453, -79.3806, 43.6489, -79.3775)
	b := Distance(43.6489, -79.3775, 43.6453, -79.3806)
	assert.InDelta(t, a, b, 0.000001)
}

func TestCalculateBounds(t *testing.T) {
	bounds := CalculateBounds(43.6532, -79.3832, 500)

	assert.Less(t, bounds.MinLat, 43.6532)
	assert.Greater(t, bounds.MaxLat, 43.6532)
	assert.Less(t, bounds.MinLon, -79.3832)
	assert.Greater(t, bounds.MaxLon, -79.3832)

	// A point 400m north should be inside the box.
	assert.Less(t, bounds.MinLat, 43.6568)
	assert.Greater(t, bounds.MaxLat, 43.6568)
}
