package bridge

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPeer feeds requests to Serve and returns every response it produced
func runPeer(t *testing.T, extract ExtractFunc, requests ...[]byte) []Response {
	t.Helper()

	var in, out bytes.Buffer
	for _, req := range requests {
		require.NoError(t, WriteFrame(&in, req))
	}
	require.NoError(t, Serve(&in, &out, JSONCodec{}, extract))

	var responses []Response
	for out.Len() > 0 {
		payload, err := ReadFrame(&out, 0)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, JSONCodec{}.Unmarshal(payload, &resp))
		responses = append(responses, resp)
	}
	return responses
}

func request(t *testing.T, req Request) []byte {
	t.Helper()
	payload, err := JSONCodec{}.Marshal(req)
	require.NoError(t, err)
	return payload
}

func TestServeReadyAndEOF(t *testing.T) {
	responses := runPeer(t, echoExtract)
	require.Len(t, responses, 1)
	assert.Equal(t, StatusReady, responses[0].Status)
	assert.Equal(t, ProtocolVersion, responses[0].Version)
}

func TestServeExtractAndExit(t *testing.T) {
	audio := EncodeAudio([]float32{0.5, 0.5, 0.5})
	responses := runPeer(t, echoExtract,
		request(t, Request{Command: CommandExtract, AudioData: &audio}),
		request(t, Request{Command: CommandExit}),
		request(t, NewExtractRequest([]float32{1}, 8000)),
	)

	require.Len(t, responses, 3)
	assert.Equal(t, StatusSuccess, responses[1].Status)
	assert.Equal(t, 3.0, responses[1].Features[0])
	assert.Equal(t, float64(DefaultPeerSampleRate), responses[1].Features[1])
	// Nothing after exit is answered.
	assert.Equal(t, StatusExit, responses[2].Status)
}

func TestServeRejectsBadRequests(t *testing.T) {
	empty := ""

	responses := runPeer(t, echoExtract,
		request(t, Request{Command: CommandExtract}),
		request(t, Request{Command: CommandExtract, AudioData: &empty}),
		request(t, Request{Command: "transcribe", AudioData: &empty}),
		[]byte("{oops"),
	)

	require.Len(t, responses, 5)
	for _, resp := range responses[1:] {
		assert.Equal(t, StatusError, resp.Status)
		assert.Empty(t, resp.Features)
	}
	assert.Equal(t, "No audio_data in request", responses[1].Message)
	assert.Equal(t, "Empty audio data", responses[2].Message)
	assert.Contains(t, responses[3].Message, "Unknown command")
	assert.Contains(t, responses[4].Message, "Invalid request")
}

func TestServeSampleRate(t *testing.T) {
	responses := runPeer(t, echoExtract,
		request(t, NewExtractRequest([]float32{1}, 0)),
		request(t, NewExtractRequest([]float32{1}, -8000)),
		request(t, NewExtractRequest([]float32{1}, 16000)),
	)

	require.Len(t, responses, 4)
	assert.Equal(t, StatusError, responses[1].Status)
	assert.Equal(t, "Invalid sample rate: 0", responses[1].Message)
	assert.Equal(t, StatusError, responses[2].Status)
	assert.Equal(t, "Invalid sample rate: -8000", responses[2].Message)
	assert.Equal(t, StatusSuccess, responses[3].Status)
	assert.Equal(t, 16000.0, responses[3].Features[1])
}

func TestHandleExtractRejectsLongBlocks(t *testing.T) {
	// Larger than one frame can carry, so checked without the framing layer.
	resp := handleExtract(NewExtractRequest(make([]float32, MaxPeerSamples+1), 44100), echoExtract)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Message, "Audio data too large")

	resp = handleExtract(NewExtractRequest(make([]float32, 4), 44100), echoExtract)
	assert.Equal(t, StatusSuccess, resp.Status)
}

func TestServeReportsExtractorErrors(t *testing.T) {
	failing := func([]float32, int) ([]float64, error) { return nil, errors.New("no spectrum") }
	short := func([]float32, int) ([]float64, error) { return []float64{1}, nil }

	responses := runPeer(t, failing, request(t, NewExtractRequest([]float32{1}, 44100)))
	assert.Equal(t, StatusError, responses[1].Status)
	assert.Contains(t, responses[1].Message, "no spectrum")

	responses = runPeer(t, short, request(t, NewExtractRequest([]float32{1}, 44100)))
	assert.Equal(t, StatusError, responses[1].Status)
	assert.Contains(t, responses[1].Message, "Expected 17 features")
}

func TestServeStopsOnCorruptFrame(t *testing.T) {
	in := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	var out bytes.Buffer
	assert.Error(t, Serve(in, &out, nil, echoExtract))
}
