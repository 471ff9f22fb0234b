// Package replication keeps transforms in sync between a server and its
// clients. The owning side serializes full or delta updates at the send rate;
// the receiving side buffers them as snapshots and interpolates.
package replication

import (
	"github.com/sessamekesh/netsync/pkg/compression"
	"github.com/sessamekesh/netsync/pkg/geom"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/sessamekesh/netsync/pkg/snapshot"
)

type Transform struct {
	Position geom.Vector3
	Rotation geom.Quaternion
	Scale    geom.Vector3
}

// IdentityTransform is what unsynced components read as on the receiving side.
var IdentityTransform = Transform{
	Rotation: geom.QuaternionIdentity,
	Scale:    geom.Vector3{X: 1, Y: 1, Z: 1},
}

func (t Transform) toSnapshot(remoteTime, localTime float64) snapshot.TransformSnapshot {
	return snapshot.TransformSnapshot{
		Remote:   remoteTime,
		Local:    localTime,
		Position: t.Position,
		Rotation: t.Rotation,
		Scale:    t.Scale,
	}
}

func fromSnapshot(s snapshot.TransformSnapshot) Transform {
	return Transform{Position: s.Position, Rotation: s.Rotation, Scale: s.Scale}
}

// baseline is the quantized state both ends agree on after a sync. Deltas
// are relative to it.
type baseline struct {
	valid    bool
	position compression.Vector3Long
	rotation geom.Quaternion
	scale    compression.Vector3Long
}

// codec writes and reads transform payloads for one set of settings. The
// settings are shared by both ends and never transmitted.
type codec struct {
	settings Settings
}

func (c codec) quantize(t Transform) (baseline, error) {
	b := baseline{valid: true}
	var err error
	if c.settings.SyncPosition {
		if b.position, err = compression.QuantizeVector(t.Position, c.settings.PositionPrecision); err != nil {
			return baseline{}, err
		}
	}
	if c.settings.SyncRotation {
		b.rotation = c.roundRotation(t.Rotation)
	}
	if c.settings.SyncScale {
		if b.scale, err = compression.QuantizeVector(t.Scale, c.settings.ScalePrecision); err != nil {
			return baseline{}, err
		}
	}
	return b, nil
}

// roundRotation returns the rotation as the receiver will see it.
func (c codec) roundRotation(q geom.Quaternion) geom.Quaternion {
	if c.settings.CompressRotation {
		return compression.DecompressQuaternion(compression.CompressQuaternion(q))
	}
	return q
}

// unchanged reports whether b would encode to the same delta payload as
// prev, i.e. whether sending it is a no-op for the receiver.
func (c codec) unchanged(prev, b baseline) bool {
	return prev.valid && prev.position == b.position && prev.rotation == b.rotation && prev.scale == b.scale
}

func (c codec) writeRotation(w *netbuf.Writer, q geom.Quaternion) {
	if c.settings.CompressRotation {
		w.WriteUint32(compression.CompressQuaternion(q))
		return
	}
	w.WriteQuaternion(q)
}

func (c codec) readRotation(r *netbuf.Reader) (geom.Quaternion, error) {
	if c.settings.CompressRotation {
		packed, err := r.ReadUint32()
		if err != nil {
			return geom.Quaternion{}, err
		}
		return compression.DecompressQuaternion(packed), nil
	}
	return r.ReadQuaternion()
}

// writeFull writes the synced components at full precision.
func (c codec) writeFull(w *netbuf.Writer, t Transform) {
	if c.settings.SyncPosition {
		w.WriteVector3(t.Position)
	}
	if c.settings.SyncRotation {
		c.writeRotation(w, t.Rotation)
	}
	if c.settings.SyncScale {
		w.WriteVector3(t.Scale)
	}
}

func (c codec) readFull(r *netbuf.Reader) (Transform, error) {
	t := IdentityTransform
	var err error
	if c.settings.SyncPosition {
		if t.Position, err = r.ReadVector3(); err != nil {
			return Transform{}, err
		}
	}
	if c.settings.SyncRotation {
		if t.Rotation, err = c.readRotation(r); err != nil {
			return Transform{}, err
		}
	}
	if c.settings.SyncScale {
		if t.Scale, err = r.ReadVector3(); err != nil {
			return Transform{}, err
		}
	}
	return t, nil
}

// writeDelta writes position and scale relative to from. Rotation is written
// whole.
func (c codec) writeDelta(w *netbuf.Writer, from, to baseline) {
	if c.settings.SyncPosition {
		compression.CompressDelta(w, from.position, to.position)
	}
	if c.settings.SyncRotation {
		c.writeRotation(w, to.rotation)
	}
	if c.settings.SyncScale {
		compression.CompressDelta(w, from.scale, to.scale)
	}
}

func (c codec) readDelta(r *netbuf.Reader, from baseline) (baseline, error) {
	to := baseline{valid: true, rotation: geom.QuaternionIdentity}
	var err error
	if c.settings.SyncPosition {
		if to.position, err = compression.DecompressDelta(r, from.position); err != nil {
			return baseline{}, err
		}
	}
	if c.settings.SyncRotation {
		if to.rotation, err = c.readRotation(r); err != nil {
			return baseline{}, err
		}
	}
	if c.settings.SyncScale {
		if to.scale, err = compression.DecompressDelta(r, from.scale); err != nil {
			return baseline{}, err
		}
	}
	return to, nil
}

// dequantize turns a received baseline back into a transform.
func (c codec) dequantize(b baseline) Transform {
	t := IdentityTransform
	if c.settings.SyncPosition {
		t.Position = compression.DequantizeVector(b.position, c.settings.PositionPrecision)
	}
	if c.settings.SyncRotation {
		t.Rotation = b.rotation
	}
	if c.settings.SyncScale {
		t.Scale = compression.DequantizeVector(b.scale, c.settings.ScalePrecision)
	}
	return t
}
