package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))

	assert.Equal(t, []byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0}, buf.Bytes())

	first, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(first))

	second, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversizedWithoutAllocating(t *testing.T) {
	// 11 MiB declared, followed by nothing.
	header := []byte{0, 0, 0xB0, 0}
	r := &countingReader{r: bytes.NewReader(header)}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	payload, err := ReadFrame(r, MaxFrameSize)

	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.Nil(t, payload)
	assert.True(t, common.IsCode(err, common.ErrCodeProtocolCorruption))
	assert.Equal(t, HeaderSize, r.n)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestReadFrameCustomLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 100)))

	_, err := ReadFrame(bytes.NewReader(buf.Bytes()), 64)
	assert.True(t, common.IsCode(err, common.ErrCodeProtocolCorruption))

	payload, err := ReadFrame(bytes.NewReader(buf.Bytes()), 128)
	require.NoError(t, err)
	assert.Len(t, payload, 100)
}

func TestReadFrameTruncated(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{10, 0, 0, 0, 'a', 'b'}), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader([]byte{10, 0}), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFrameErrors(t *testing.T) {
	assert.ErrorIs(t, WriteFrame(shortWriter{}, []byte("abcd")), io.ErrShortWrite)
	assert.EqualError(t, WriteFrame(brokenWriter{}, []byte("abcd")), "broken pipe")

	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.True(t, common.IsCode(err, common.ErrCodeProtocolCorruption))
}

func TestAudioEncoding(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, float32(math.Pi), -1e-7}

	encoded := EncodeAudio(samples)
	decoded, err := DecodeAudio(encoded)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)

	// 1.0f little-endian is 00 00 80 3f.
	assert.Equal(t, "AACAPw==", EncodeAudio([]float32{1}))

	_, err = DecodeAudio("AACA")
	assert.Error(t, err)
	_, err = DecodeAudio("!!!")
	assert.Error(t, err)
}

func TestRequestWireFields(t *testing.T) {
	payload, err := JSONCodec{}.Marshal(NewExtractRequest([]float32{1}, 44100))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.Equal(t, "extract", fields["command"])
	assert.Equal(t, "AACAPw==", fields["audio_data"])
	assert.Equal(t, 44100.0, fields["sr"])

	payload, err = JSONCodec{}.Marshal(Request{Command: CommandExit})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"exit"}`, string(payload))
}

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "json", "JSON": "json", "msgpack": "msgpack"} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name())
	}
	_, err := CodecByName("protobuf")
	assert.Error(t, err)
}
