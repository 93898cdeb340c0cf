package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaclisinc/VTR-plugin-sub000/internal/app"
)

var (
	predictFeatures string
	predictInput    string
	predictWeights  string
	predictScaler   string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run the EQ model on a precomputed feature vector",
	Long: `Predict EQ gains from 17 feature values given either as a comma
separated list or as a JSON file holding an array or {"features": [...]}.

Examples:
  vtr predict --features 1800,1500,4000,-200,80,10,5,2,1,0,0,0,0,0,0,0,0.1
  vtr predict --input features.json -o json`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&predictFeatures, "features", "",
		"comma separated feature values")
	predictCmd.Flags().StringVarP(&predictInput, "input", "i", "",
		"JSON file with the feature values")
	addModelFlags(predictCmd, &predictWeights, &predictScaler, nil)
}

func runPredict(cmd *cobra.Command, args []string) error {
	features, err := readFeatures(predictFeatures, predictInput)
	if err != nil {
		return err
	}

	appCtx := newAppContext()
	appCtx.WeightsFile = predictWeights
	appCtx.ScalerFile = predictScaler

	application, err := app.NewApp(appCtx)
	if err != nil {
		return err
	}
	defer application.Close()

	report, err := application.Predict(features)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	return application.Emit(application.PredictionOutput(report))
}

// readFeatures parses the --features list or the --input file
func readFeatures(list, path string) ([]float64, error) {
	switch {
	case list != "" && path != "":
		return nil, fmt.Errorf("use either --features or --input, not both")
	case list != "":
		return parseFeatureList(list)
	case path != "":
		return loadFeatureFile(path)
	default:
		return nil, fmt.Errorf("requires --features or --input")
	}
}

func parseFeatureList(list string) ([]float64, error) {
	fields := strings.Split(list, ",")
	features := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature value %q: %w", f, err)
		}
		features = append(features, v)
	}
	return features, nil
}

func loadFeatureFile(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read features file: %w", err)
	}

	var features []float64
	if err := json.Unmarshal(data, &features); err == nil {
		return features, nil
	}

	var wrapped struct {
		Features []float64 `json:"features"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse features file: %w", err)
	}
	return wrapped.Features, nil
}
