package geom

import "math"

type Quaternion struct {
	X, Y, Z, W float64
}

var QuaternionIdentity = Quaternion{0, 0, 0, 1}

// Component returns the i-th component in x, y, z, w order.
func (q Quaternion) Component(i int) float64 {
	switch i {
	case 0:
		return q.X
	case 1:
		return q.Y
	case 2:
		return q.Z
	default:
		return q.W
	}
}

func (q Quaternion) Dot(o Quaternion) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

func (q Quaternion) Negate() Quaternion {
	return Quaternion{-q.X, -q.Y, -q.Z, -q.W}
}

func (q Quaternion) Normalized() Quaternion {
	length := math.Sqrt(q.Dot(q))
	if length < 1e-12 {
		return QuaternionIdentity
	}
	return Quaternion{q.X / length, q.Y / length, q.Z / length, q.W / length}
}

// Angle returns the angle in radians between two rotations.
func Angle(a, b Quaternion) float64 {
	d := math.Min(math.Abs(a.Normalized().Dot(b.Normalized())), 1)
	return 2 * math.Acos(d)
}

// FromAxisAngle builds a rotation of angle radians around axis.
func FromAxisAngle(axis Vector3, angle float64) Quaternion {
	length := axis.Length()
	if length == 0 {
		return QuaternionIdentity
	}
	s := math.Sin(angle/2) / length
	return Quaternion{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(angle / 2)}
}

// SlerpUnclamped interpolates along the shortest arc between a and b. t is
// not clamped.
func SlerpUnclamped(a, b Quaternion, t float64) Quaternion {
	cos := a.Dot(b)
	if cos < 0 {
		b = b.Negate()
		cos = -cos
	}

	// nearly parallel, fall back to normalized lerp
	if cos > 0.9995 {
		return Quaternion{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalized()
	}

	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quaternion{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}.Normalized()
}
