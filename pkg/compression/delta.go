package compression

import (
	"github.com/sessamekesh/netsync/pkg/netbuf"
)

// CompressDelta writes current - baseline per axis as zig-zag varints. Small
// movements between sends encode in a byte or two per axis.
//
// The receiver must decompress against the same baseline. A mismatch is not
// detectable here and yields a wrong value.
func CompressDelta(w *netbuf.Writer, baseline, current Vector3Long) {
	delta := current.Sub(baseline)
	w.WriteVarInt(delta.X)
	w.WriteVarInt(delta.Y)
	w.WriteVarInt(delta.Z)
}

func DecompressDelta(r *netbuf.Reader, baseline Vector3Long) (Vector3Long, error) {
	dx, err := r.ReadVarInt()
	if err != nil {
		return Vector3Long{}, err
	}
	dy, err := r.ReadVarInt()
	if err != nil {
		return Vector3Long{}, err
	}
	dz, err := r.ReadVarInt()
	if err != nil {
		return Vector3Long{}, err
	}
	return baseline.Add(Vector3Long{dx, dy, dz}), nil
}
