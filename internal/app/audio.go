package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/RyanBlaney/latency-benchmark-common/stream"
	streamcommon "github.com/RyanBlaney/latency-benchmark-common/stream/common"
	"github.com/RyanBlaney/sonido-sonar/transcode"
	"github.com/go-audio/wav"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

// Audio is decoded mono input ready for analysis
type Audio struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Source     string
	Duration   time.Duration
	LoadTime   time.Duration
}

// Frame returns the whole signal as an AudioFrame
func (a *Audio) Frame() common.AudioFrame {
	return common.AudioFrame{Samples: a.Samples, SampleRate: a.SampleRate}
}

// AudioLoader reads local files and stream URLs
type AudioLoader struct {
	segmentDuration   time.Duration
	streamTimeout     time.Duration
	contentType       string
	defaultSampleRate int
	logger            logging.Logger
}

const (
	// DefaultContentType is the loudness normalization profile used for files
	DefaultContentType = "music"

	DefaultSampleRate = 44100
)

// NewAudioLoader creates a loader. segmentDuration bounds stream captures
// and truncates files; zero keeps files whole.
func NewAudioLoader(segmentDuration, streamTimeout time.Duration, logger logging.Logger) *AudioLoader {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if streamTimeout <= 0 {
		streamTimeout = 30 * time.Second
	}
	return &AudioLoader{
		segmentDuration:   segmentDuration,
		streamTimeout:     streamTimeout,
		contentType:       DefaultContentType,
		defaultSampleRate: DefaultSampleRate,
		logger:            logger.WithFields(logging.Fields{"component": "audio_loader"}),
	}
}

// SetContentType selects the normalization profile (music, news, talk,
// sports or mixed) for transcoded files.
func (l *AudioLoader) SetContentType(contentType string) {
	if contentType != "" {
		l.contentType = contentType
	}
}

// SetDefaultSampleRate sets the rate assumed for decoded audio that does
// not report one
func (l *AudioLoader) SetDefaultSampleRate(sampleRate int) {
	if sampleRate > 0 {
		l.defaultSampleRate = sampleRate
	}
}

// Load decodes input, a file path, file:// URL or http(s) stream URL
func (l *AudioLoader) Load(ctx context.Context, input string) (*Audio, error) {
	start := time.Now()

	var (
		audio *Audio
		err   error
	)
	if isLocalFile(input) {
		audio, err = l.loadLocalFile(strings.TrimPrefix(input, "file://"))
	} else {
		audio, err = l.loadStreamURL(ctx, input)
	}
	if err != nil {
		return nil, err
	}

	audio.Source = input
	audio.LoadTime = time.Since(start)
	l.fillSampleRate(audio)
	l.truncate(audio)

	l.logger.Debug("Audio loaded", logging.Fields{
		"source":      input,
		"samples":     len(audio.Samples),
		"sample_rate": audio.SampleRate,
		"channels":    audio.Channels,
		"load_ms":     audio.LoadTime.Milliseconds(),
	})
	return audio, nil
}

// isLocalFile checks if the input is a local file
func isLocalFile(input string) bool {
	return strings.HasPrefix(input, "file://") ||
		(!strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://"))
}

func (l *AudioLoader) fillSampleRate(audio *Audio) {
	if audio.SampleRate > 0 {
		return
	}
	l.logger.Warn("Decoded audio has no sample rate, assuming default", logging.Fields{
		"source":      audio.Source,
		"sample_rate": l.defaultSampleRate,
	})
	audio.SampleRate = l.defaultSampleRate
	audio.Duration = samplesDuration(len(audio.Samples), audio.SampleRate)
}

func (l *AudioLoader) truncate(audio *Audio) {
	if l.segmentDuration <= 0 || audio.SampleRate <= 0 {
		return
	}
	maxSamples := int(l.segmentDuration.Seconds() * float64(audio.SampleRate))
	if len(audio.Samples) > maxSamples {
		audio.Samples = audio.Samples[:maxSamples]
	}
	audio.Duration = samplesDuration(len(audio.Samples), audio.SampleRate)
}

func (l *AudioLoader) loadLocalFile(path string) (*Audio, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeNotFound,
			fmt.Sprintf("audio file %s", path), err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return loadWAV(path)
	}
	return l.loadTranscoded(path)
}

// loadWAV decodes PCM WAV files directly
func loadWAV(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO, "failed to open wav file", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			fmt.Sprintf("%s is not a valid wav file", path), nil)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO, "failed to decode wav file", err)
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	floatBuf := buf.AsFloat32Buffer()

	// AsFloat32Buffer keeps integer magnitudes, so scale by bit depth.
	scale := float32(1)
	if depth := int(dec.BitDepth); depth > 1 {
		scale = float32(int64(1) << (depth - 1))
	}
	interleaved := make([]float32, len(floatBuf.Data))
	for i, v := range floatBuf.Data {
		interleaved[i] = v / scale
	}

	samples := downmix(interleaved, channels)
	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   samplesDuration(len(samples), sampleRate),
	}, nil
}

// loadTranscoded decodes compressed files through the transcoder
func (l *AudioLoader) loadTranscoded(path string) (*Audio, error) {
	decoder := transcode.NewNormalizingDecoder(l.contentType)
	anyData, err := decoder.DecodeFile(path)
	if err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO, "failed to decode audio file", err)
	}

	audioData := streamcommon.ConvertToAudioData(anyData)
	if audioData == nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			fmt.Sprintf("decoder returned unexpected type: %T", anyData), nil)
	}
	return fromAudioData(audioData), nil
}

// loadStreamURL captures a segment of a live stream
func (l *AudioLoader) loadStreamURL(ctx context.Context, url string) (*Audio, error) {
	segment := l.segmentDuration
	if segment <= 0 {
		segment = 10 * time.Second
	}

	manager := stream.NewManagerWithConfig(&stream.ManagerConfig{
		StreamTimeout:        l.streamTimeout,
		OverallTimeout:       l.streamTimeout + segment + 10*time.Second,
		MaxConcurrentStreams: 1,
		ResultBufferSize:     1,
	})

	results, err := manager.ExtractAudioSequential(ctx, []string{url}, segment)
	if err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO, "stream extraction failed", err)
	}
	if len(results.Results) == 0 {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO, "no results from stream extraction", nil)
	}
	if results.Results[0].Error != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeIO,
			"stream extraction failed", results.Results[0].Error)
	}

	return fromAudioData(results.Results[0].AudioData), nil
}

func fromAudioData(data *streamcommon.AudioData) *Audio {
	interleaved := make([]float32, len(data.PCM))
	for i, v := range data.PCM {
		interleaved[i] = float32(v)
	}
	samples := downmix(interleaved, data.Channels)
	return &Audio{
		Samples:    samples,
		SampleRate: data.SampleRate,
		Channels:   data.Channels,
		Duration:   samplesDuration(len(samples), data.SampleRate),
	}
}

// downmix averages interleaved channels to mono
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 || len(interleaved)%channels != 0 {
		return interleaved
	}

	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(sampleRate) * float64(time.Second))
}
