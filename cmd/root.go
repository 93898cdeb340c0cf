package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vaclisinc/VTR-plugin-sub000/internal/app"
)

var (
	configFile   string
	profileFile  string
	verbose      bool
	quiet        bool
	logLevel     string
	outputFormat string
	outputFile   string
	backend      string
	noFallback   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vtr",
	Short: "Vocal tone analysis and EQ suggestion",
	Long: `Extracts a 17-value spectral feature vector (centroid, bandwidth,
rolloff, 13 MFCCs and RMS) from audio and runs it through a small neural
network that suggests EQ gains for five bands.

Feature extraction runs on one of several backends:
- analytic: built-in FFT pipeline, always available
- native: gonum based pipeline (explicit request only)
- interpreter: embedded Lua implementation
- external: vtr-feature-extractor peer process

"auto" tries external, then interpreter, then analytic.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is $HOME/.config/vtr/vtr.yaml)")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile", "",
		"extraction profile (yaml or json)")

	// Output and logging flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"only log errors")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "",
		"output format (json, table, csv, yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFile, "output-file", "",
		"write results to a file instead of stdout")

	// Extraction flags
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "",
		"extraction backend (auto, analytic, native, interpreter, external)")
	rootCmd.PersistentFlags().BoolVar(&noFallback, "no-fallback", false,
		"fail instead of falling back when the requested backend is unavailable")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".config", "vtr"))
		viper.AddConfigPath("/etc/vtr")
		viper.AddConfigPath("./configs")
		viper.SetConfigName("vtr")
		viper.SetConfigType("yaml")
	}

	// Environment variable support
	viper.SetEnvPrefix("VTR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

// initializeConfig initializes configuration after flags are parsed
func initializeConfig(cmd *cobra.Command) error {
	// Bind all flags to viper
	return bindFlags(cmd, viper.GetViper())
}

// bindFlags binds each cobra flag to its associated viper configuration
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		// Apply the viper config value to the flag when the flag is not set and viper has a
		// scalar value; config sections share some flag names
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if _, section := val.(map[string]any); !section {
				if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
					lastErr = err
				}
			}
		}

		// Bind to environment variable
		if err := v.BindEnv(f.Name, "VTR_"+envVarSuffix); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

// newAppContext collects the persistent flags into an application context
func newAppContext() *app.Context {
	return &app.Context{
		ConfigFile:   configFile,
		ProfileFile:  profileFile,
		OutputFile:   outputFile,
		OutputFormat: outputFormat,
		Backend:      backend,
		NoFallback:   noFallback,
		Verbose:      verbose || strings.EqualFold(logLevel, "debug"),
		Quiet:        quiet || strings.EqualFold(logLevel, "error"),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// GetConfig returns the current viper instance
func GetConfig() *viper.Viper {
	return viper.GetViper()
}
