package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaclisinc/VTR-plugin-sub000/internal/analysis"
	"github.com/vaclisinc/VTR-plugin-sub000/internal/app"
)

var (
	monitorRate            float64
	monitorSpeed           float64
	monitorSegmentDuration time.Duration
	monitorWeights         string
	monitorScaler          string
	monitorNoModel         bool
	monitorContentType     string
	monitorExecutable      string
	monitorCodec           string
	monitorTicks           bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [file-or-url]",
	Short: "Analyze audio continuously at a fixed rate",
	Long: `Play audio through the analysis buffer in real time and extract
features at a fixed rate (5 to 30 Hz), as a plugin would while audio runs.
Ticks that arrive while an analysis is still running are skipped. A summary
is printed when the input ends or on Ctrl-C.

Examples:
  vtr monitor --rate 20 vocals.wav
  vtr monitor --ticks --speed 4 -o json vocals.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().Float64VarP(&monitorRate, "rate", "r", 0,
		"analysis rate in Hz (default from config)")
	monitorCmd.Flags().Float64Var(&monitorSpeed, "speed", 1,
		"playback speed multiplier")
	monitorCmd.Flags().DurationVarP(&monitorSegmentDuration, "segment-duration", "t", 0,
		"maximum length of audio to play (default from config)")
	monitorCmd.Flags().BoolVar(&monitorTicks, "ticks", false,
		"print every analysis result to stderr")
	addModelFlags(monitorCmd, &monitorWeights, &monitorScaler, &monitorNoModel)
	addInputFlags(monitorCmd, &monitorContentType, &monitorExecutable, &monitorCodec)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	appCtx := newAppContext()
	appCtx.RateHz = monitorRate
	appCtx.Speed = monitorSpeed
	appCtx.SegmentDuration = monitorSegmentDuration
	appCtx.WeightsFile = monitorWeights
	appCtx.ScalerFile = monitorScaler
	appCtx.NoModel = monitorNoModel
	appCtx.ContentType = monitorContentType
	appCtx.Executable = monitorExecutable
	appCtx.Codec = monitorCodec

	application, err := app.NewApp(appCtx)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signalContext()
	defer stop()

	var sink analysis.Sink
	if monitorTicks {
		sink = func(r analysis.Result) {
			line, err := application.Format(application.ResultOutput(r))
			if err != nil {
				return
			}
			os.Stderr.Write(line)
		}
	}

	summary, err := application.Monitor(ctx, args[0], sink)
	if err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}

	return application.Emit(application.SummaryOutput(args[0], summary))
}
