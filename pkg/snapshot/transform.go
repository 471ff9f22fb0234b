package snapshot

import "github.com/sessamekesh/netsync/pkg/geom"

// TransformSnapshot is the replicated state of one transform at a point in
// remote time.
type TransformSnapshot struct {
	Remote float64
	Local  float64

	Position geom.Vector3
	Rotation geom.Quaternion
	Scale    geom.Vector3
}

func (s TransformSnapshot) RemoteTime() float64 {
	return s.Remote
}

func (s TransformSnapshot) LocalTime() float64 {
	return s.Local
}

// InterpolateTransform blends two snapshots. Position and scale use unclamped
// linear interpolation so t beyond 1 extrapolates; rotation follows the
// shortest arc.
func InterpolateTransform(from, to TransformSnapshot, t float64) TransformSnapshot {
	return TransformSnapshot{
		Position: geom.LerpUnclamped(from.Position, to.Position, t),
		Rotation: geom.SlerpUnclamped(from.Rotation, to.Rotation, t),
		Scale:    geom.LerpUnclamped(from.Scale, to.Scale, t),
	}
}
