// Package cli wires the command-line interface.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cunyap/pypocquant/internal/batch"
	"github.com/cunyap/pypocquant/internal/config"
	"github.com/cunyap/pypocquant/internal/version"
)

// NewRootCmd builds the pocquant command tree.
func NewRootCmd(log *logrus.Logger) *cobra.Command {
	var (
		settingsPath string
		verbose      bool
		workers      int
		noQC         bool
	)

	rootCmd := &cobra.Command{
		Use:   "pocquant",
		Short: "Batch quantification of POCT/lateral-flow strip photographs",
		Long: `pocquant locates the test strip in each photograph using the printed
QR markers, extracts the measurement window and quantifies the signal
of every test band relative to the control band.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "settings JSON file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadConfig := func() (config.Config, error) {
		cfg := config.Default()
		if settingsPath != "" {
			var err error
			if cfg, err = config.Load(settingsPath); err != nil {
				return cfg, err
			}
		}
		if workers > 0 {
			cfg.Workers = workers
		}
		if noQC {
			cfg.QC = false
		}
		cfg.Verbose = cfg.Verbose || verbose
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid settings: %w", err)
		}
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run <input_folder> <results_folder>",
		Short: "Process every image in a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return batch.Run(cmd.Context(), cfg, args[0], args[1], log)
		},
	}
	runCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of parallel workers (default: settings value)")
	runCmd.Flags().BoolVar(&noQC, "no-qc", false, "skip quality control images")

	watchCmd := &cobra.Command{
		Use:   "watch <input_folder> <results_folder>",
		Short: "Process images as they appear in a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return batch.Watch(cmd.Context(), cfg, args[0], args[1], log)
		},
	}
	watchCmd.Flags().BoolVar(&noQC, "no-qc", false, "skip quality control images")

	collectCmd := &cobra.Command{
		Use:   "collect <results_root> <archive.sqlite>",
		Short: "Merge result tables from multiple runs into a sqlite archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := batch.Collect(args[0], args[1])
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"rows":    n,
				"archive": args[1],
			}).Info("collected")
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-settings <path>",
		Short: "Write a settings file with the default parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(config.Default(), args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pocquant %s (commit %s, built %s)\n",
				version.Version, version.GitCommit, version.BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, watchCmd, collectCmd, initCmd, versionCmd)
	return rootCmd
}
