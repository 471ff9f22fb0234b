// Package compression converts transform values to compact wire forms:
// fixed precision integers, varint deltas against a baseline and smallest
// three quaternions.
package compression

import (
	"math"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/geom"
)

// Vector3Long is a quantized vector.
type Vector3Long struct {
	X, Y, Z int64
}

func (v Vector3Long) Sub(o Vector3Long) Vector3Long {
	return Vector3Long{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3Long) Add(o Vector3Long) Vector3Long {
	return Vector3Long{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// float64(math.MaxInt64) rounds up to 2^63, so the bound is exclusive
const int64Bound = float64(1 << 63)

// Quantize returns round(v / precision).
func Quantize(v, precision float64) (int64, error) {
	if !(precision > 0) || math.IsInf(precision, 0) {
		return 0, &errors.InvalidPrecision{Precision: precision}
	}

	scaled := math.Round(v / precision)
	if math.IsNaN(scaled) || scaled >= int64Bound || scaled < -int64Bound {
		return 0, &errors.QuantizationOverflow{Value: v, Precision: precision}
	}
	return int64(scaled), nil
}

// Dequantize returns q * precision.
func Dequantize(q int64, precision float64) float64 {
	return float64(q) * precision
}

func QuantizeVector(v geom.Vector3, precision float64) (Vector3Long, error) {
	x, err := Quantize(v.X, precision)
	if err != nil {
		return Vector3Long{}, err
	}
	y, err := Quantize(v.Y, precision)
	if err != nil {
		return Vector3Long{}, err
	}
	z, err := Quantize(v.Z, precision)
	if err != nil {
		return Vector3Long{}, err
	}
	return Vector3Long{x, y, z}, nil
}

func DequantizeVector(q Vector3Long, precision float64) geom.Vector3 {
	return geom.Vector3{
		X: Dequantize(q.X, precision),
		Y: Dequantize(q.Y, precision),
		Z: Dequantize(q.Z, precision),
	}
}
