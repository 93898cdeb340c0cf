// Command vtr-feature-extractor is the peer process behind the external
// extraction backend. In daemon mode it speaks the length-prefixed bridge
// protocol on stdin/stdout, so nothing else may write to stdout.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/extractors"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/bridge"
)

var (
	daemon     bool
	selfTest   bool
	codecName  string
	fftSize    int
	melFilters int
	rolloff    float64
)

var errSelfTest = errors.New("self-check failed")

var rootCmd = &cobra.Command{
	Use:   "vtr-feature-extractor --daemon | --test",
	Short: "Feature extraction peer for the external backend",
	Long: `Serve feature extraction requests over the bridge protocol on
stdin/stdout (--daemon), or run a self-check on a 440 Hz tone (--test).`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	// stdout belongs to the protocol
	rootCmd.SetOut(os.Stderr)

	rootCmd.Flags().BoolVar(&daemon, "daemon", false, "serve extraction requests on stdin/stdout")
	rootCmd.Flags().BoolVar(&selfTest, "test", false, "run a self-check on a 440 Hz tone and exit")
	rootCmd.Flags().StringVar(&codecName, "codec", "json", "wire codec (json, msgpack)")
	rootCmd.Flags().IntVar(&fftSize, "fft-size", analyzers.DefaultFFTSize, "FFT size")
	rootCmd.Flags().IntVar(&melFilters, "mel-filters", analyzers.DefaultNumMelFilters, "number of mel filters")
	rootCmd.Flags().Float64Var(&rolloff, "rolloff", analyzers.DefaultRolloffThreshold, "spectral rolloff threshold")
	rootCmd.MarkFlagsMutuallyExclusive("daemon", "test")
	rootCmd.MarkFlagsOneRequired("daemon", "test")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSelfTest) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	engine, err := analyzers.NewSpectrumEngine(fftSize)
	if err != nil {
		return err
	}
	cepstral := analyzers.NewCepstralExtractor(melFilters, common.NumMFCC)

	// Serve handles one request at a time, so the engines need no locking.
	extract := func(samples []float32, sampleRate int) ([]float64, error) {
		fv := extractors.ComputeFeatures(engine, cepstral, samples, sampleRate, rolloff)
		return fv.Sanitize().Slice(), nil
	}

	if selfTest {
		return runSelfTest(extract)
	}

	codec, err := bridge.CodecByName(codecName)
	if err != nil {
		return err
	}
	return bridge.Serve(os.Stdin, os.Stdout, codec, extract)
}

// runSelfTest prints the features of one second of a 440 Hz tone and
// checks that the centroid lands near the tone
func runSelfTest(extract bridge.ExtractFunc) error {
	const sr = bridge.DefaultPeerSampleRate

	tone := make([]float32, sr)
	for i := range tone {
		tone[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/sr))
	}

	features, err := extract(tone, sr)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	fv, err := common.FeatureVectorFromSlice(features)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"version":  bridge.ProtocolVersion,
		"features": fv.Map(),
	}, "", "  ")
	fmt.Println(string(out))

	if c := fv.Centroid(); c < 300 || c > 600 {
		fmt.Fprintf(os.Stderr, "self-check failed: centroid %.1f Hz for a 440 Hz tone\n", c)
		return errSelfTest
	}
	return nil
}
