package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeBucketFor(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		hoursAhead float64
		expected   TimeBucket
	}{
		{"far_out", 100, Bucket72hPlus},
		{"exactly_72h", 72, Bucket72hPlus},
		{"just_under_72h", 71.5, Bucket24to72h},
		{"exactly_24h", 24, Bucket24to72h},
		{"just_under_24h", 23.5, Bucket6to24h},
		{"exactly_6h", 6, Bucket6to24h},
		{"just_under_6h", 5.5, Bucket2to6h},
		{"exactly_2h", 2, Bucket2to6h},
		{"just_under_2h", 1.5, BucketUnder2h},
		{"at_kickoff", 0, BucketUnder2h},
		{"after_kickoff", -0.5, BucketInplay},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			captured := start.Add(-time.Duration(tc.hoursAhead * float64(time.Hour)))
			assert.Equal(t, tc.expected, TimeBucketFor(start, captured))
		})
	}
}

func TestOddsBandFor(t *testing.T) {
	testCases := []struct {
		price    float64
		expected OddsBand
	}{
		{0, BandUnknown},
		{1.005, BandUnknown}, // below the exchange minimum price
		{1.01, BandHeavyFav},
		{1.50, BandHeavyFav},
		{1.51, BandFavourite},
		{2.00, BandFavourite},
		{2.01, BandEven},
		{3.00, BandEven},
		{3.01, BandUnderdog},
		{5.00, BandUnderdog},
		{5.01, BandLongshot},
		{120.0, BandLongshot},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, OddsBandFor(tc.price), "price %.3f", tc.price)
	}
}
