// Package geom holds the small value types replicated by the transform
// synchronization layer.
package geom

import "math"

type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// LerpUnclamped interpolates between a and b without clamping t, so values
// outside [0,1] extrapolate along the same line.
func LerpUnclamped(a, b Vector3, t float64) Vector3 {
	return Vector3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// InverseLerp returns where value lies between a and b, clamped to [0,1].
func InverseLerp(a, b, value float64) float64 {
	if a == b {
		return 0
	}
	t := (value - a) / (b - a)
	return math.Max(0, math.Min(1, t))
}

func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
