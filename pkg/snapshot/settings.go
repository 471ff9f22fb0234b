package snapshot

// Settings tunes the interpolation buffer. The defaults are calibration
// points, not derived constants; start from DefaultSettings and adjust.
//
// Thresholds are expressed in multiples of the send interval.
type Settings struct {
	// Target buffer time is SendInterval * BufferTimeMultiplier.
	BufferTimeMultiplier float64

	// Maximum snapshots held per buffer. Enforced by the owner of the
	// buffer, passed to InsertAndAdjust.
	BufferLimit int

	// Drift below this many send intervals slows the timeline down.
	CatchupNegativeThreshold float64
	// Drift above this many send intervals speeds the timeline up.
	CatchupPositiveThreshold float64

	CatchupSpeed  float64
	SlowdownSpeed float64

	// EMA windows, in seconds of snapshots at the send rate.
	DriftEmaDuration        int
	DeliveryTimeEmaDuration int

	// Grow or shrink the buffer multiplier with measured delivery jitter.
	DynamicAdjustment          bool
	DynamicAdjustmentTolerance float64

	// A gap between arrivals longer than this many send intervals is an idle
	// period, not jitter, and is left out of the delivery time estimate.
	IdleGapThreshold float64

	// How far past the newest snapshot the timeline may extrapolate, as a
	// fraction of the last interval. Zero holds the newest snapshot.
	ExtrapolationLimit float64
}

func DefaultSettings() Settings {
	return Settings{
		BufferTimeMultiplier:       2,
		BufferLimit:                32,
		CatchupNegativeThreshold:   -1,
		CatchupPositiveThreshold:   1,
		CatchupSpeed:               0.02,
		SlowdownSpeed:              0.04,
		DriftEmaDuration:           1,
		DeliveryTimeEmaDuration:    2,
		DynamicAdjustment:          true,
		DynamicAdjustmentTolerance: 1,
		IdleGapThreshold:           4,
		ExtrapolationLimit:         0,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.BufferTimeMultiplier <= 0 {
		s.BufferTimeMultiplier = d.BufferTimeMultiplier
	}
	if s.BufferLimit <= 0 {
		s.BufferLimit = d.BufferLimit
	}
	if s.DriftEmaDuration <= 0 {
		s.DriftEmaDuration = d.DriftEmaDuration
	}
	if s.DeliveryTimeEmaDuration <= 0 {
		s.DeliveryTimeEmaDuration = d.DeliveryTimeEmaDuration
	}
	if s.IdleGapThreshold <= 0 {
		s.IdleGapThreshold = d.IdleGapThreshold
	}
	return s
}
