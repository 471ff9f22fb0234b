package snapshot

type State uint8

const (
	State_Empty State = iota
	State_Buffering
	State_Interpolating
)

func (s State) String() string {
	switch s {
	case State_Empty:
		return "Empty"
	case State_Buffering:
		return "Buffering"
	case State_Interpolating:
		return "Interpolating"
	}
	return "Unknown"
}

type InsertResult uint8

const (
	InsertResult_Inserted InsertResult = iota
	// A snapshot with the same remote time was replaced. Timing estimators
	// are not updated.
	InsertResult_Overwritten
	// The buffer was at its limit. Nothing changed.
	InsertResult_Rejected
)

// Buffer holds snapshots of one synchronized entity ordered by remote time,
// and the local timeline used to play them back. Not safe for concurrent use.
type Buffer[T Snapshot] struct {
	settings     Settings
	sendInterval float64

	snapshots []T

	localTimeline        float64
	localTimescale       float64
	bufferTimeMultiplier float64

	driftEma        ExponentialMovingAverage
	deliveryTimeEma ExponentialMovingAverage

	interpolating bool
}

// CreateBuffer builds a buffer for a sender that emits sendRate snapshots per
// second.
func CreateBuffer[T Snapshot](sendRate int, settings Settings) *Buffer[T] {
	if sendRate <= 0 {
		sendRate = 30
	}
	settings = settings.withDefaults()

	return &Buffer[T]{
		settings:             settings,
		sendInterval:         1 / float64(sendRate),
		snapshots:            []T{},
		localTimescale:       1,
		bufferTimeMultiplier: settings.BufferTimeMultiplier,
		driftEma:             CreateExponentialMovingAverage(sendRate * settings.DriftEmaDuration),
		deliveryTimeEma:      CreateExponentialMovingAverage(sendRate * settings.DeliveryTimeEmaDuration),
	}
}

func (b *Buffer[T]) Len() int {
	return len(b.snapshots)
}

func (b *Buffer[T]) Settings() Settings {
	return b.settings
}

func (b *Buffer[T]) SendInterval() float64 {
	return b.sendInterval
}

func (b *Buffer[T]) LocalTimeline() float64 {
	return b.localTimeline
}

func (b *Buffer[T]) LocalTimescale() float64 {
	return b.localTimescale
}

func (b *Buffer[T]) BufferTimeMultiplier() float64 {
	return b.bufferTimeMultiplier
}

func (b *Buffer[T]) BufferTime() float64 {
	return b.sendInterval * b.bufferTimeMultiplier
}

// IdleGap is the time between arrivals past which the sender is considered
// to have gone quiet.
func (b *Buffer[T]) IdleGap() float64 {
	return b.sendInterval * b.settings.IdleGapThreshold
}

// Newest returns the snapshot with the latest remote time.
func (b *Buffer[T]) Newest() (newest T, ok bool) {
	if len(b.snapshots) == 0 {
		return newest, false
	}
	return b.snapshots[len(b.snapshots)-1], true
}

func (b *Buffer[T]) DeliveryTimeEma() ExponentialMovingAverage {
	return b.deliveryTimeEma
}

func (b *Buffer[T]) DriftEma() ExponentialMovingAverage {
	return b.driftEma
}

// Snapshots returns the buffered snapshots, oldest first. The slice must not
// be modified.
func (b *Buffer[T]) Snapshots() []T {
	return b.snapshots
}

func (b *Buffer[T]) State() State {
	if len(b.snapshots) == 0 && !b.interpolating {
		return State_Empty
	}
	if !b.interpolating {
		return State_Buffering
	}
	return State_Interpolating
}

// InsertAndAdjust inserts s unless the buffer already holds bufferLimit
// snapshots, then updates the delivery and drift estimators and picks a new
// timescale. A bufferLimit of zero or less uses Settings.BufferLimit.
func (b *Buffer[T]) InsertAndAdjust(s T, bufferLimit int) InsertResult {
	if bufferLimit <= 0 {
		bufferLimit = b.settings.BufferLimit
	}

	if len(b.snapshots) >= bufferLimit {
		return InsertResult_Rejected
	}

	if b.settings.DynamicAdjustment {
		b.bufferTimeMultiplier = DynamicAdjustment(b.sendInterval, b.deliveryTimeEma.StandardDeviation, b.settings.DynamicAdjustmentTolerance)
	}
	bufferTime := b.BufferTime()

	if len(b.snapshots) == 0 {
		b.localTimeline = s.RemoteTime() - bufferTime
	}

	var added bool
	b.snapshots, added = insertSorted(b.snapshots, s)
	if !added {
		return InsertResult_Overwritten
	}

	n := len(b.snapshots)
	if n >= 2 {
		previousLocalTime := b.snapshots[n-2].LocalTime()
		latestLocalTime := b.snapshots[n-1].LocalTime()
		if deliveryTime := latestLocalTime - previousLocalTime; deliveryTime <= b.IdleGap() {
			b.deliveryTimeEma.Add(deliveryTime)
		}
	}

	// out of order arrivals must not pull the target backwards
	latestRemoteTime := b.snapshots[n-1].RemoteTime()
	b.localTimeline = TimelineClamp(b.localTimeline, bufferTime, latestRemoteTime)

	b.driftEma.Add(latestRemoteTime - b.localTimeline)
	drift := b.driftEma.Value - bufferTime

	absoluteNegativeThreshold := b.sendInterval * b.settings.CatchupNegativeThreshold
	absolutePositiveThreshold := b.sendInterval * b.settings.CatchupPositiveThreshold
	b.localTimescale = Timescale(drift, b.settings.CatchupSpeed, b.settings.SlowdownSpeed, absoluteNegativeThreshold, absolutePositiveThreshold)

	if !b.interpolating && b.localTimeline >= b.snapshots[0].RemoteTime() {
		b.interpolating = true
	}

	return InsertResult_Inserted
}

// Step advances the local timeline by deltaTime scaled by the current
// timescale and returns the pair to interpolate between. Snapshots older
// than from are dropped. ok is false when the buffer is empty.
func (b *Buffer[T]) Step(deltaTime float64) (from, to T, t float64, ok bool) {
	if len(b.snapshots) == 0 {
		return from, to, 0, false
	}

	b.localTimeline += deltaTime * b.localTimescale

	fromIdx, toIdx, t := Sample(b.snapshots, b.localTimeline, b.settings.ExtrapolationLimit)
	from = b.snapshots[fromIdx]
	to = b.snapshots[toIdx]

	if fromIdx > 0 {
		n := copy(b.snapshots, b.snapshots[fromIdx:])
		clear(b.snapshots[n:])
		b.snapshots = b.snapshots[:n]
	}

	if !b.interpolating && b.localTimeline >= b.snapshots[0].RemoteTime() {
		b.interpolating = true
	}

	return from, to, t, true
}

// RewriteHistory replaces every buffered snapshot with seed, leaving the
// timeline and the estimators alone. Call it when updates resume after an
// idle period, with the last known state stamped one send interval before
// the new update, so playback starts from where the entity stopped.
func (b *Buffer[T]) RewriteHistory(seed T) {
	clear(b.snapshots)
	b.snapshots = append(b.snapshots[:0], seed)
}

// Reset drops every snapshot and restarts the timeline, e.g. after a
// teleport or a respawn.
func (b *Buffer[T]) Reset() {
	clear(b.snapshots)
	b.snapshots = b.snapshots[:0]
	b.localTimeline = 0
	b.localTimescale = 1
	b.bufferTimeMultiplier = b.settings.BufferTimeMultiplier
	b.driftEma.Reset()
	b.deliveryTimeEma.Reset()
	b.interpolating = false
}
