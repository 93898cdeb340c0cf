package bridge

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	HeaderSize = 4

	// MaxFrameSize bounds a single payload in either direction.
	MaxFrameSize = 10 << 20

	ProtocolVersion = "1.0"
)

// Commands and statuses on the wire
const (
	CommandExtract = "extract"
	CommandExit    = "exit"

	StatusReady   = "ready"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusExit    = "exit"
)

// Request is sent to the peer. AudioData and SR are pointers so an empty
// block or a zero rate can be told apart from a missing field.
type Request struct {
	Command   string  `json:"command" msgpack:"command"`
	AudioData *string `json:"audio_data,omitempty" msgpack:"audio_data,omitempty"`
	SR        *int    `json:"sr,omitempty" msgpack:"sr,omitempty"`
}

// Response is sent by the peer
type Response struct {
	Status   string    `json:"status" msgpack:"status"`
	Features []float64 `json:"features,omitempty" msgpack:"features,omitempty"`
	Message  string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Version  string    `json:"version,omitempty" msgpack:"version,omitempty"`
}

// NewExtractRequest encodes samples for the wire
func NewExtractRequest(samples []float32, sampleRate int) Request {
	data := EncodeAudio(samples)
	return Request{Command: CommandExtract, AudioData: &data, SR: &sampleRate}
}

// WriteFrame writes a little-endian length prefix and payload in one call
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return common.NewAudioError(common.BackendExternal, common.ErrCodeProtocolCorruption,
			fmt.Sprintf("payload of %d bytes exceeds frame limit %d", len(payload), MaxFrameSize), nil)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads one frame. A declared length above maxSize is rejected
// before any payload buffer is allocated. io.EOF is returned unchanged when
// the stream ends cleanly between frames.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 || maxSize > MaxFrameSize {
		maxSize = MaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeProtocolCorruption,
			fmt.Sprintf("declared frame length %d exceeds limit %d", size, maxSize), nil)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// EncodeAudio base64-encodes samples as little-endian float32
func EncodeAudio(samples []float32) string {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeAudio reverses EncodeAudio
func DecodeAudio(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("audio payload length %d is not a multiple of 4", len(raw))
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return samples, nil
}

// Codec encodes frame payloads
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default codec, understood by every peer
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec trades readability for smaller frames; both ends must be
// started with it.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecByName resolves a codec from configuration
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack", "messagepack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
