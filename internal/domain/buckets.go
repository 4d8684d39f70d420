package domain

import "time"

// TimeBucket labels how far before scheduled start a snapshot was captured.
type TimeBucket string

const (
	Bucket72hPlus TimeBucket = "72h+"
	Bucket24to72h TimeBucket = "24-72h"
	Bucket6to24h  TimeBucket = "6-24h"
	Bucket2to6h   TimeBucket = "2-6h"
	BucketUnder2h TimeBucket = "<2h"
	// BucketInplay marks snapshots captured after scheduled start. They are
	// excluded from pre-match profiles.
	BucketInplay TimeBucket = "inplay"
)

// TimeBucketFor classifies capturedAt relative to the event's scheduled start.
func TimeBucketFor(scheduledStart, capturedAt time.Time) TimeBucket {
	hours := scheduledStart.Sub(capturedAt).Hours()
	switch {
	case hours >= 72:
		return Bucket72hPlus
	case hours >= 24:
		return Bucket24to72h
	case hours >= 6:
		return Bucket6to24h
	case hours >= 2:
		return Bucket2to6h
	case hours >= 0:
		return BucketUnder2h
	default:
		return BucketInplay
	}
}

// OddsBand groups runners by where their mean price sits.
type OddsBand string

const (
	BandHeavyFav  OddsBand = "Heavy Fav"
	BandFavourite OddsBand = "Favourite"
	BandEven      OddsBand = "Even"
	BandUnderdog  OddsBand = "Underdog"
	BandLongshot  OddsBand = "Longshot"
	BandUnknown   OddsBand = "Unknown"
)

// OddsBandFor classifies a mean price. Prices below the exchange minimum
// (1.01) are unclassifiable.
func OddsBandFor(meanPrice float64) OddsBand {
	switch {
	case meanPrice < 1.01:
		return BandUnknown
	case meanPrice <= 1.50:
		return BandHeavyFav
	case meanPrice <= 2.00:
		return BandFavourite
	case meanPrice <= 3.00:
		return BandEven
	case meanPrice <= 5.00:
		return BandUnderdog
	default:
		return BandLongshot
	}
}
