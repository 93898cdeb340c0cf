package bridge

import (
	"errors"
	"fmt"
	"io"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

const (
	DefaultPeerSampleRate = 44100

	// MaxPeerSamples caps one request at 60 s of 44.1 kHz audio.
	MaxPeerSamples = 44100 * 60
)

// ExtractFunc computes a feature vector for the peer loop
type ExtractFunc func(samples []float32, sampleRate int) ([]float64, error)

// Serve runs the peer side of the protocol on r/w until it reads an exit
// command or the input stream ends. It must own w exclusively: anything else
// written there corrupts the framing.
func Serve(r io.Reader, w io.Writer, codec Codec, extract ExtractFunc) error {
	if codec == nil {
		codec = JSONCodec{}
	}

	send := func(resp Response) error {
		payload, err := codec.Marshal(resp)
		if err != nil {
			return err
		}
		return WriteFrame(w, payload)
	}

	if err := send(Response{Status: StatusReady, Version: ProtocolVersion}); err != nil {
		return fmt.Errorf("failed to send ready: %w", err)
	}

	for {
		payload, err := ReadFrame(r, MaxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req Request
		if err := codec.Unmarshal(payload, &req); err != nil {
			if err := send(errorResponse("Invalid request: %v", err)); err != nil {
				return err
			}
			continue
		}

		if req.Command == CommandExit {
			return send(Response{Status: StatusExit})
		}

		if err := send(handleExtract(req, extract)); err != nil {
			return err
		}
	}
}

func handleExtract(req Request, extract ExtractFunc) Response {
	if req.Command != "" && req.Command != CommandExtract {
		return errorResponse("Unknown command: %s", req.Command)
	}
	if req.AudioData == nil {
		return errorResponse("No audio_data in request")
	}

	samples, err := DecodeAudio(*req.AudioData)
	if err != nil {
		return errorResponse("Failed to decode audio: %v", err)
	}
	if len(samples) == 0 {
		return errorResponse("Empty audio data")
	}
	if len(samples) > MaxPeerSamples {
		return errorResponse("Audio data too large: %d samples", len(samples))
	}

	sr := DefaultPeerSampleRate
	if req.SR != nil {
		if *req.SR <= 0 {
			return errorResponse("Invalid sample rate: %d", *req.SR)
		}
		sr = *req.SR
	}

	features, err := extract(samples, sr)
	if err != nil {
		return errorResponse("Feature extraction failed: %v", err)
	}
	if len(features) != common.FeatureVectorSize {
		return errorResponse("Expected %d features, got %d", common.FeatureVectorSize, len(features))
	}
	return Response{Status: StatusSuccess, Features: features}
}

func errorResponse(format string, args ...any) Response {
	return Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
