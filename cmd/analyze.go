package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaclisinc/VTR-plugin-sub000/internal/app"
)

var (
	analyzeSegmentDuration time.Duration
	analyzeTimeout         time.Duration
	analyzeWeights         string
	analyzeScaler          string
	analyzeNoModel         bool
	analyzeContentType     string
	analyzeExecutable      string
	analyzeCodec           string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file-or-url]",
	Short: "Extract features and suggest EQ gains for an audio input",
	Long: `Decode an audio file or capture a segment of a stream, extract the
averaged feature vector and, when model files are found, predict EQ gains.

Examples:
  # Analyze a local file with the default backend chain
  vtr analyze vocals.wav

  # Force the built-in backend and print JSON
  vtr analyze --backend analytic -o json vocals.wav

  # Capture 5 seconds of a stream
  vtr analyze --segment-duration 5s https://stream.example.com/live.mp3`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().DurationVarP(&analyzeSegmentDuration, "segment-duration", "t", 0,
		"maximum length of audio to analyze (default from config)")
	analyzeCmd.Flags().DurationVarP(&analyzeTimeout, "timeout", "T", time.Minute,
		"overall timeout")
	addModelFlags(analyzeCmd, &analyzeWeights, &analyzeScaler, &analyzeNoModel)
	addInputFlags(analyzeCmd, &analyzeContentType, &analyzeExecutable, &analyzeCodec)
}

// addModelFlags registers the model file flags shared by several commands
func addModelFlags(cmd *cobra.Command, weights, scaler *string, noModel *bool) {
	cmd.Flags().StringVar(weights, "weights", "", "model weights file (json)")
	cmd.Flags().StringVar(scaler, "scaler", "", "scaler parameters file (json)")
	if noModel != nil {
		cmd.Flags().BoolVar(noModel, "no-model", false, "skip EQ prediction")
	}
}

// addInputFlags registers decoding and external backend flags
func addInputFlags(cmd *cobra.Command, contentType, executable, codec *string) {
	cmd.Flags().StringVar(contentType, "content-type", "",
		"loudness profile for compressed files (music, news, talk, sports, mixed)")
	cmd.Flags().StringVar(executable, "extractor", "",
		"path to the vtr-feature-extractor executable")
	cmd.Flags().StringVar(codec, "codec", "",
		"external extractor codec (json, msgpack)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	appCtx := newAppContext()
	appCtx.SegmentDuration = analyzeSegmentDuration
	appCtx.WeightsFile = analyzeWeights
	appCtx.ScalerFile = analyzeScaler
	appCtx.NoModel = analyzeNoModel
	appCtx.ContentType = analyzeContentType
	appCtx.Executable = analyzeExecutable
	appCtx.Codec = analyzeCodec

	application, err := app.NewApp(appCtx)
	if err != nil {
		return err
	}
	defer application.Close()

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, analyzeTimeout)
	defer cancel()

	report, err := application.Analyze(ctx, args[0])
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	return application.Emit(application.AnalysisOutput(report))
}
