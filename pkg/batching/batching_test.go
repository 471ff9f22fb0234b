package batching

import (
	"encoding/binary"
	goerrs "errors"
	"math"
	"math/rand"
	"testing"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 8 bytes timestamp + 4 bytes of message budget
const testThreshold = HeaderSize + 4

func batchBytes(timestamp float64, messages ...[]byte) []byte {
	out := binary.LittleEndian.AppendUint64(nil, math.Float64bits(timestamp))
	for _, m := range messages {
		out = append(out, m...)
	}
	return out
}

func drain(t *testing.T, b *Batcher, timestamp float64) [][]byte {
	t.Helper()
	out := [][]byte{}
	for {
		w := netbuf.NewWriter(0)
		ok, err := b.MakeNextBatch(w, timestamp)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, w.CopyBytes())
	}
}

func TestMakeNextBatchEmpty(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	w := netbuf.NewWriter(0)

	ok, err := b.MakeNextBatch(w, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Position())
}

func TestMakeNextBatchRequiresFreshWriter(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	b.AddMessage([]byte{1})

	w := netbuf.NewWriter(0)
	w.WriteUint8(0xFF)

	_, err := b.MakeNextBatch(w, 1)
	var dirty *errors.DirtyWriter
	require.True(t, goerrs.As(err, &dirty))
	assert.Equal(t, 1, dirty.Position)
	assert.Equal(t, 1, b.Count(), "message must stay queued after a usage error")
}

func TestMakeNextBatchExactFit(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	b.AddMessage([]byte{0x01, 0x02})
	b.AddMessage([]byte{0x03, 0x04})
	b.AddMessage([]byte{0x05})

	batches := drain(t, b, 123.456)
	require.Len(t, batches, 2)
	assert.Equal(t, batchBytes(123.456, []byte{0x01, 0x02}, []byte{0x03, 0x04}), batches[0])
	assert.Len(t, batches[0], testThreshold)
	assert.Equal(t, batchBytes(123.456, []byte{0x05}), batches[1])
}

func TestMakeNextBatchSmallGiantSmall(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	b.AddMessage([]byte{0x01})
	b.AddMessage([]byte{0x02, 0x03, 0x04, 0x05})
	b.AddMessage([]byte{0x06, 0x07})

	batches := drain(t, b, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, batchBytes(2, []byte{0x01}), batches[0])
	assert.Equal(t, batchBytes(2, []byte{0x02, 0x03, 0x04, 0x05}), batches[1])
	assert.Equal(t, batchBytes(2, []byte{0x06, 0x07}), batches[2])
}

func TestMakeNextBatchIsolatesOversizedMessage(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	giant := make([]byte, testThreshold+1)
	for i := range giant {
		giant[i] = 0xEE
	}

	b.AddMessage([]byte{0x01})
	b.AddMessage([]byte{0x02})
	b.AddMessage(giant)
	b.AddMessage([]byte{0x03})
	b.AddMessage([]byte{0x04})

	batches := drain(t, b, 3)
	require.Len(t, batches, 3)
	assert.Equal(t, batchBytes(3, []byte{0x01}, []byte{0x02}), batches[0])
	assert.Equal(t, batchBytes(3, giant), batches[1])
	assert.Equal(t, batchBytes(3, []byte{0x03}, []byte{0x04}), batches[2])
}

func TestMakeNextBatchOversizedFirst(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	giant := make([]byte, 100)
	b.AddMessage(giant)

	batches := drain(t, b, 4)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], HeaderSize+100)
}

func TestMakeNextBatchZeroLengthMessages(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	b.AddMessage([]byte{})
	b.AddMessage(nil)
	assert.Equal(t, 2, b.Count())

	batches := drain(t, b, 5)
	require.Len(t, batches, 1)
	assert.Equal(t, batchBytes(5), batches[0])
	assert.Equal(t, 0, b.Count())
}

func TestThresholdEqualToHeaderIsOneMessagePerBatch(t *testing.T) {
	b := CreateBatcher(HeaderSize, nil)
	b.AddMessage([]byte{0x01})
	b.AddMessage([]byte{0x02})
	b.AddMessage([]byte{0x03})

	batches := drain(t, b, 6)
	require.Len(t, batches, 3)
	for i, batch := range batches {
		assert.Equal(t, batchBytes(6, []byte{byte(i + 1)}), batch)
	}
}

func TestAddMessageCopiesInput(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	msg := []byte{0x01, 0x02}
	b.AddMessage(msg)
	msg[0] = 0xFF

	batches := drain(t, b, 7)
	assert.Equal(t, batchBytes(7, []byte{0x01, 0x02}), batches[0])
}

func TestBatcherClear(t *testing.T) {
	b := CreateBatcher(testThreshold, nil)
	b.AddMessage([]byte{0x01})
	b.AddMessage([]byte{0x02})
	b.Clear()

	assert.Equal(t, 0, b.Count())
	assert.Empty(t, drain(t, b, 8))
}

func TestAddBatchRejectsTruncatedHeader(t *testing.T) {
	u := CreateUnbatcher(nil)
	assert.False(t, u.AddBatch([]byte{0x01, 0x02, 0x03}))
	assert.Equal(t, 0, u.BatchesCount())

	_, _, ok := u.GetNextMessage()
	assert.False(t, ok)
}

func TestGetNextMessageSingleBatch(t *testing.T) {
	u := CreateUnbatcher(nil)
	require.True(t, u.AddBatch(batchBytes(42.5, []byte{0x01, 0x02})))

	reader, timestamp, ok := u.GetNextMessage()
	require.True(t, ok)
	assert.Equal(t, 42.5, timestamp)
	v, err := reader.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), v)

	_, _, ok = u.GetNextMessage()
	assert.False(t, ok)
	assert.Equal(t, 0, u.BatchesCount())
}

func TestGetNextMessageAcrossBatches(t *testing.T) {
	u := CreateUnbatcher(nil)
	require.True(t, u.AddBatch(batchBytes(1, []byte{0x01})))
	require.True(t, u.AddBatch(batchBytes(2, []byte{0x02}, []byte{0x03})))

	expected := []struct {
		value     uint8
		timestamp float64
	}{
		{0x01, 1},
		{0x02, 2},
		{0x03, 2},
	}

	for _, e := range expected {
		reader, timestamp, ok := u.GetNextMessage()
		require.True(t, ok)
		assert.Equal(t, e.timestamp, timestamp)
		v, err := reader.ReadUint8()
		require.NoError(t, err)
		assert.Equal(t, e.value, v)
	}

	_, _, ok := u.GetNextMessage()
	assert.False(t, ok)
}

func TestHeaderOnlyBatchIsSkipped(t *testing.T) {
	u := CreateUnbatcher(nil)
	require.True(t, u.AddBatch(batchBytes(1)))
	require.True(t, u.AddBatch(batchBytes(2, []byte{0x09})))

	reader, timestamp, ok := u.GetNextMessage()
	require.True(t, ok)
	assert.Equal(t, 2.0, timestamp)
	v, _ := reader.ReadUint8()
	assert.Equal(t, uint8(0x09), v)
}

func TestUnbatcherResumesAfterExhaustion(t *testing.T) {
	u := CreateUnbatcher(nil)
	require.True(t, u.AddBatch(batchBytes(1, []byte{0x01})))

	reader, _, ok := u.GetNextMessage()
	require.True(t, ok)
	_, err := reader.ReadUint8()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, ok = u.GetNextMessage()
		assert.False(t, ok)
	}

	require.True(t, u.AddBatch(batchBytes(2, []byte{0x02})))
	reader, timestamp, ok := u.GetNextMessage()
	require.True(t, ok)
	assert.Equal(t, 2.0, timestamp)
	v, _ := reader.ReadUint8()
	assert.Equal(t, uint8(0x02), v)
}

func TestAddBatchWhileLastBatchDrainedButNotRetired(t *testing.T) {
	u := CreateUnbatcher(nil)
	require.True(t, u.AddBatch(batchBytes(1, []byte{0x01})))

	reader, _, ok := u.GetNextMessage()
	require.True(t, ok)
	_, _ = reader.ReadUint8()

	// the drained batch is still queued when the next one arrives
	require.True(t, u.AddBatch(batchBytes(2, []byte{0x02})))

	reader, timestamp, ok := u.GetNextMessage()
	require.True(t, ok)
	assert.Equal(t, 2.0, timestamp)
	v, _ := reader.ReadUint8()
	assert.Equal(t, uint8(0x02), v)
	assert.Equal(t, 1, u.BatchesCount())
}

func TestBatchRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	pool := netbuf.CreateWriterPool(0, 0)
	const threshold = 64

	b := CreateBatcher(threshold, pool)
	u := CreateUnbatcher(pool)

	messages := [][]byte{}
	for i := 0; i < 500; i++ {
		size := rng.Intn(threshold - HeaderSize + 1)
		msg := make([]byte, size)
		rng.Read(msg)
		messages = append(messages, msg)
		b.AddMessage(msg)
	}

	for {
		w := pool.Take()
		ok, err := b.MakeNextBatch(w, 9)
		require.NoError(t, err)
		if !ok {
			pool.Return(w)
			break
		}
		assert.LessOrEqual(t, w.Position(), threshold)
		require.True(t, u.AddBatch(w.Bytes()))
		pool.Return(w)
	}

	for i, expected := range messages {
		if len(expected) == 0 {
			// empty messages occupy no bytes and cannot be observed on the
			// reading side without message framing
			continue
		}
		reader, timestamp, ok := u.GetNextMessage()
		require.True(t, ok, "message %d", i)
		assert.Equal(t, 9.0, timestamp)
		actual, err := reader.ReadBytes(len(expected))
		require.NoError(t, err)
		assert.Equal(t, expected, actual, "message %d", i)
	}

	_, _, ok := u.GetNextMessage()
	assert.False(t, ok)
}
