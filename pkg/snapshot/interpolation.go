// Package snapshot buffers received world state and plays it back on a local
// timeline that trails the sender by a small buffer time. The timeline speeds
// up or slows down slightly to keep that buffer from draining or growing.
package snapshot

import (
	"math"
	"sort"

	"github.com/sessamekesh/netsync/pkg/geom"
)

type Snapshot interface {
	// RemoteTime is the sender's timestamp, taken from the batch header.
	RemoteTime() float64
	// LocalTime is when the snapshot was received on this side.
	LocalTime() float64
}

// Timescale picks the playback speed for the current drift.
func Timescale(drift, catchupSpeed, slowdownSpeed, absoluteCatchupNegativeThreshold, absoluteCatchupPositiveThreshold float64) float64 {
	if drift > absoluteCatchupPositiveThreshold {
		return 1 + catchupSpeed
	}
	if drift < absoluteCatchupNegativeThreshold {
		return 1 - slowdownSpeed
	}
	return 1
}

// DynamicAdjustment returns a buffer time multiplier that covers the measured
// delivery jitter plus a tolerance.
func DynamicAdjustment(sendInterval, jitterStandardDeviation, dynamicAdjustmentTolerance float64) float64 {
	intervalWithJitter := sendInterval + jitterStandardDeviation
	multiples := intervalWithJitter / sendInterval
	return multiples + dynamicAdjustmentTolerance
}

// TimelineClamp keeps the timeline within one buffer time of its target so a
// long stall or burst does not need many seconds of catch-up.
func TimelineClamp(localTimeline, bufferTime, latestRemoteTime float64) float64 {
	targetTime := latestRemoteTime - bufferTime
	lowerBound := targetTime - bufferTime
	upperBound := targetTime + bufferTime
	return geom.Clamp(localTimeline, lowerBound, upperBound)
}

// Sample finds the two snapshots bracketing localTimeline and the fraction
// between them. snapshots must be sorted by remote time and non-empty.
//
// Before the first snapshot both indices are 0. After the last, both indices
// are the last one, unless extrapolationLimit allows t to run past 1 on the
// final pair.
func Sample[T Snapshot](snapshots []T, localTimeline, extrapolationLimit float64) (from, to int, t float64) {
	n := len(snapshots)

	for i := 0; i < n-1; i++ {
		first := snapshots[i].RemoteTime()
		second := snapshots[i+1].RemoteTime()
		if localTimeline >= first && localTimeline <= second {
			return i, i + 1, geom.InverseLerp(first, second, localTimeline)
		}
	}

	if snapshots[0].RemoteTime() > localTimeline {
		return 0, 0, 0
	}

	if extrapolationLimit > 0 && n >= 2 {
		first := snapshots[n-2].RemoteTime()
		second := snapshots[n-1].RemoteTime()
		if second > first {
			t = (localTimeline - first) / (second - first)
			return n - 2, n - 1, math.Min(t, 1+extrapolationLimit)
		}
	}

	return n - 1, n - 1, 0
}

// insertSorted inserts s keyed by remote time. An existing snapshot with the
// same remote time is overwritten and added is false.
func insertSorted[T Snapshot](snapshots []T, s T) (out []T, added bool) {
	remote := s.RemoteTime()
	i := sort.Search(len(snapshots), func(i int) bool {
		return snapshots[i].RemoteTime() >= remote
	})

	if i < len(snapshots) && snapshots[i].RemoteTime() == remote {
		snapshots[i] = s
		return snapshots, false
	}

	var zero T
	snapshots = append(snapshots, zero)
	copy(snapshots[i+1:], snapshots[i:])
	snapshots[i] = s
	return snapshots, true
}
