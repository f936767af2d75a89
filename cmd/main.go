package main

import (
	"fmt"
	"os"
	"path/filepath"

	"pythia-bench/internal/config"
	"pythia-bench/internal/logging"
	"pythia-bench/internal/plot"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func validateEnvironment() error {
	logger := logging.GetLogger()

	requiredVars := []string{
		"INFLUXDB_HOST",
		"INFLUXDB_TOKEN",
		"INFLUXDB_ORG",
		"INFLUXDB_BUCKET",
	}

	var missing []string
	for _, varName := range requiredVars {
		if os.Getenv(varName) == "" {
			missing = append(missing, varName)
		}
	}

	if len(missing) > 0 {
		logger.WithField("missing_vars", missing).Error("Missing required environment variables")
		return fmt.Errorf("missing required environment variables: %v. Please ensure your .env file contains these variables", missing)
	}

	logger.Debug("All required environment variables are present")
	return nil
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	if err := newRootCommand().Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "pythia-bench",
		Short:   "RDMA NIC cache timing side channel testbed",
		Long:    "Runs the memory owner, victim client and attacker roles of a remote translation cache eviction experiment",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRoleCommand(roleServer, "Allocate and publish the remote memory regions", 0))
	rootCmd.AddCommand(newRoleCommand(roleClient, "Run the victim client that accesses the target on bit 0", 2))
	rootCmd.AddCommand(newRoleCommand(roleAttacker, "Run the attacker rounds and write the per-round reports", 1))
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlotCommand())

	return rootCmd
}

func newRoleCommand(role, short string, defaultMachine int) *cobra.Command {
	var configFile string
	var machineID int

	cmd := &cobra.Command{
		Use:   role,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(configFile, role, machineID)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to experiment configuration file")
	cmd.Flags().IntVar(&machineID, "machine-id", defaultMachine, "Machine id used at the terminate barrier")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newSimulateCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run server, client and attacker in one process against a simulated NIC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to experiment configuration file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an experiment configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to experiment configuration file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	checksum, err := config.Checksum(cfg)
	if err != nil {
		return err
	}
	logger.WithField("config_file", configFile).WithField("checksum", checksum).Info("Configuration is valid")
	return nil
}

func newPlotCommand() *cobra.Command {
	var runID, spoolFile, yField string
	var skipNotEnough, onlyPlot, onlyWrapper bool

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate plots from run data",
		Long:  "Generate LaTeX/TikZ plots from rounds stored in InfluxDB or in a spool artifact",
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Plot a round field against the eviction set size",
		RunE: func(cmd *cobra.Command, args []string) error {
			if spoolFile == "" {
				if runID == "" {
					return fmt.Errorf("either --run-id or --spool is required")
				}
				if err := validateEnvironment(); err != nil {
					return err
				}
			}
			return generateSweepPlot(runID, spoolFile, yField, skipNotEnough, onlyPlot, onlyWrapper)
		},
	}

	sweepCmd.Flags().StringVar(&runID, "run-id", "", "Run ID to plot from InfluxDB")
	sweepCmd.Flags().StringVar(&spoolFile, "spool", "", "Spool artifact to plot instead of InfluxDB")
	sweepCmd.Flags().StringVar(&yField, "y", "accuracy", "Y-axis field")
	sweepCmd.Flags().BoolVar(&skipNotEnough, "skip-notenough", false, "Leave under-filled rounds out of the averages")
	sweepCmd.Flags().BoolVar(&onlyPlot, "plot", false, "Print only the plot file (TikZ)")
	sweepCmd.Flags().BoolVar(&onlyWrapper, "wrapper", false, "Print only the wrapper file (LaTeX)")

	plotCmd.AddCommand(sweepCmd)
	return plotCmd
}

func generateSweepPlot(runID, spoolFile, yField string, skipNotEnough, onlyPlot, onlyWrapper bool) error {
	logger := logging.GetLogger()
	logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"spool":   spoolFile,
		"y_field": yField,
	}).Debug("Generating sweep plot")

	var plotMgr *plot.PlotManager
	var err error
	if spoolFile != "" {
		plotMgr, err = plot.NewSpoolPlotManager(spoolFile)
	} else {
		plotMgr, err = plot.NewPlotManager()
	}
	if err != nil {
		logger.WithError(err).Error("Failed to create plot manager")
		return fmt.Errorf("failed to create plot manager: %w", err)
	}
	defer plotMgr.Close()

	plotTikz, wrapperTex, err := plotMgr.GenerateSweepPlot(runID, yField, skipNotEnough)
	if err != nil {
		logger.WithError(err).Error("Failed to generate plot")
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	// Determine what to print
	showPlot := !onlyWrapper
	showWrapper := !onlyPlot

	if showPlot {
		fmt.Println(plotTikz)
		if showWrapper {
			fmt.Println()
		}
	}

	if showWrapper {
		fmt.Println(wrapperTex)
	}

	return nil
}
