package compression

import (
	goerrs "errors"
	"math"
	"math/rand"
	"testing"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/geom"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantize(t *testing.T) {
	cases := []struct {
		value     float64
		precision float64
		expected  int64
	}{
		{0, 0.01, 0},
		{1.234, 0.01, 123},
		{1.235, 0.1, 12},
		{-1.26, 0.1, -13},
		{10, 0.5, 20},
	}

	for _, c := range cases {
		q, err := Quantize(c.value, c.precision)
		require.NoError(t, err)
		assert.Equal(t, c.expected, q, "quantize(%v, %v)", c.value, c.precision)
	}
}

func TestQuantizeRejectsInvalidPrecision(t *testing.T) {
	for _, precision := range []float64{0, -0.01, math.NaN(), math.Inf(1)} {
		_, err := Quantize(1, precision)
		var invalid *errors.InvalidPrecision
		assert.True(t, goerrs.As(err, &invalid), "precision %v", precision)
	}
}

func TestQuantizeRejectsOverflow(t *testing.T) {
	for _, value := range []float64{math.MaxFloat64, -math.MaxFloat64, math.NaN(), math.Inf(-1)} {
		_, err := Quantize(value, 0.01)
		var overflow *errors.QuantizationOverflow
		assert.True(t, goerrs.As(err, &overflow), "value %v", value)
	}
}

func TestQuantizeRoundTripWithinHalfPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	precisions := []float64{0.001, 0.01, 0.1, 0.5, 3}

	for i := 0; i < 10000; i++ {
		v := (rng.Float64() - 0.5) * 20000
		p := precisions[i%len(precisions)]

		q, err := Quantize(v, p)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(Dequantize(q, p)-v), p/2+1e-9, "v=%v p=%v", v, p)
	}
}

func TestQuantizeVector(t *testing.T) {
	q, err := QuantizeVector(geom.Vector3{X: 1, Y: -2.005, Z: 0.004}, 0.01)
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.X)
	assert.Equal(t, int64(0), q.Z)

	v := DequantizeVector(q, 0.01)
	assert.InDelta(t, 1, v.X, 0.005)
	assert.InDelta(t, -2.005, v.Y, 0.005+1e-9)

	_, err = QuantizeVector(geom.Vector3{}, 0)
	assert.Error(t, err)
}

func TestDeltaRoundTrip(t *testing.T) {
	cases := []struct {
		baseline Vector3Long
		current  Vector3Long
	}{
		{Vector3Long{}, Vector3Long{}},
		{Vector3Long{1, 2, 3}, Vector3Long{1, 2, 3}},
		{Vector3Long{100, -100, 0}, Vector3Long{101, -99, -1}},
		{Vector3Long{math.MaxInt64, math.MinInt64, 0}, Vector3Long{math.MinInt64, math.MaxInt64, 7}},
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		cases = append(cases, struct {
			baseline Vector3Long
			current  Vector3Long
		}{
			Vector3Long{rng.Int63() - rng.Int63(), rng.Int63() - rng.Int63(), rng.Int63() - rng.Int63()},
			Vector3Long{rng.Int63() - rng.Int63(), rng.Int63() - rng.Int63(), rng.Int63() - rng.Int63()},
		})
	}

	for _, c := range cases {
		w := netbuf.NewWriter(0)
		CompressDelta(w, c.baseline, c.current)

		r := netbuf.NewReader(w.Bytes())
		decoded, err := DecompressDelta(r, c.baseline)
		require.NoError(t, err)
		assert.Equal(t, c.current, decoded)
		assert.Equal(t, 0, r.Remaining())
	}
}

func TestDeltaIsCompactForSmallChanges(t *testing.T) {
	w := netbuf.NewWriter(0)
	CompressDelta(w, Vector3Long{5000, 5000, 5000}, Vector3Long{5001, 4999, 5000})
	assert.Equal(t, 3, w.Position())
}

func TestDecompressDeltaTruncated(t *testing.T) {
	w := netbuf.NewWriter(0)
	CompressDelta(w, Vector3Long{}, Vector3Long{1, 2, 3})

	r := netbuf.NewReader(w.Bytes()[:2])
	_, err := DecompressDelta(r, Vector3Long{})
	var underflow *errors.Underflow
	assert.True(t, goerrs.As(err, &underflow))
}

func TestDecompressDeltaWithWrongBaselineDoesNotFail(t *testing.T) {
	w := netbuf.NewWriter(0)
	CompressDelta(w, Vector3Long{10, 10, 10}, Vector3Long{11, 11, 11})

	decoded, err := DecompressDelta(netbuf.NewReader(w.Bytes()), Vector3Long{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, Vector3Long{1, 1, 1}, decoded)
}

func TestQuaternionCompressionRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	rotations := []geom.Quaternion{
		geom.QuaternionIdentity,
		geom.QuaternionIdentity.Negate(),
		geom.FromAxisAngle(geom.Vector3{X: 1}, math.Pi/2),
		geom.FromAxisAngle(geom.Vector3{Y: 1}, math.Pi),
		geom.FromAxisAngle(geom.Vector3{X: 1, Y: 1, Z: 1}, -2),
	}
	for i := 0; i < 500; i++ {
		axis := geom.Vector3{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.5}
		rotations = append(rotations, geom.FromAxisAngle(axis, rng.Float64()*2*math.Pi))
	}

	for _, q := range rotations {
		decoded := DecompressQuaternion(CompressQuaternion(q))
		// ten bits per component keeps the error well under a degree
		assert.Less(t, geom.Angle(q, decoded), 0.01, "rotation %+v", q)
	}
}

func TestQuaternionCompressionStoresLargestIndex(t *testing.T) {
	q := geom.FromAxisAngle(geom.Vector3{Y: 1}, math.Pi)
	assert.Equal(t, uint32(1), CompressQuaternion(q)>>30)

	assert.Equal(t, uint32(3), CompressQuaternion(geom.QuaternionIdentity)>>30)
}
