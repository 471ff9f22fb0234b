package compression

import (
	"math"

	"github.com/sessamekesh/netsync/pkg/geom"
)

// The three smallest components of a unit quaternion are within
// [-1/sqrt(2), 1/sqrt(2)].
const (
	quaternionMinRange = -0.707107
	quaternionMaxRange = 0.707107
	tenBitsMax         = 0x3FF
)

// CompressQuaternion packs a rotation into 32 bits: the index of the largest
// component in the top two bits, then the remaining three components with ten
// bits each. The largest component is rebuilt on the receiving side from the
// unit length constraint.
func CompressQuaternion(q geom.Quaternion) uint32 {
	q = q.Normalized()

	largestIndex := 0
	largestAbs := math.Abs(q.Component(0))
	for i := 1; i < 4; i++ {
		if abs := math.Abs(q.Component(i)); abs > largestAbs {
			largestIndex = i
			largestAbs = abs
		}
	}

	// q and -q are the same rotation; flip so the dropped component is
	// positive and can be rebuilt with a plain square root.
	if q.Component(largestIndex) < 0 {
		q = q.Negate()
	}

	var rest [3]float64
	n := 0
	for i := 0; i < 4; i++ {
		if i == largestIndex {
			continue
		}
		rest[n] = q.Component(i)
		n++
	}

	a := scaleFloatToUint(rest[0], quaternionMinRange, quaternionMaxRange, 0, tenBitsMax)
	b := scaleFloatToUint(rest[1], quaternionMinRange, quaternionMaxRange, 0, tenBitsMax)
	c := scaleFloatToUint(rest[2], quaternionMinRange, quaternionMaxRange, 0, tenBitsMax)

	return uint32(largestIndex)<<30 | a<<20 | b<<10 | c
}

func DecompressQuaternion(data uint32) geom.Quaternion {
	largestIndex := int(data >> 30)
	a := scaleUintToFloat((data>>20)&tenBitsMax, 0, tenBitsMax, quaternionMinRange, quaternionMaxRange)
	b := scaleUintToFloat((data>>10)&tenBitsMax, 0, tenBitsMax, quaternionMinRange, quaternionMaxRange)
	c := scaleUintToFloat(data&tenBitsMax, 0, tenBitsMax, quaternionMinRange, quaternionMaxRange)

	// quantization can push the sum slightly over one
	d := math.Sqrt(math.Max(0, 1-a*a-b*b-c*c))

	var q geom.Quaternion
	switch largestIndex {
	case 0:
		q = geom.Quaternion{X: d, Y: a, Z: b, W: c}
	case 1:
		q = geom.Quaternion{X: a, Y: d, Z: b, W: c}
	case 2:
		q = geom.Quaternion{X: a, Y: b, Z: d, W: c}
	default:
		q = geom.Quaternion{X: a, Y: b, Z: c, W: d}
	}
	return q.Normalized()
}

func scaleFloatToUint(value, minValue, maxValue float64, minTarget, maxTarget uint32) uint32 {
	value = geom.Clamp(value, minValue, maxValue)
	targetRange := float64(maxTarget - minTarget)
	valueRelative := (value - minValue) / (maxValue - minValue)
	return minTarget + uint32(math.Round(valueRelative*targetRange))
}

func scaleUintToFloat(value, minValue, maxValue uint32, minTarget, maxTarget float64) float64 {
	targetRange := maxTarget - minTarget
	valueRelative := float64(value-minValue) / float64(maxValue-minValue)
	return minTarget + valueRelative*targetRange
}
