// Package cmd provides the CLI commands for searchd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/logging"
	"github.com/quickparts/searchd/internal/profiling"
	"github.com/quickparts/searchd/pkg/version"
)

// Global flags shared by every subcommand.
var (
	configPath string
	debugMode  bool

	profileCPU   string
	profileMem   string
	profileTrace string

	profiler  = profiling.NewProfiler()
	cpuStop   func()
	traceStop func()

	loggingCleanup func()
)

// NewRootCmd creates the root command for the searchd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchd",
		Short: "Product catalog search service",
		Long: `searchd serves product search, autocomplete and availability over
an Elasticsearch index built from the MySQL catalog database.

Run 'searchd serve' to start the HTTP API, 'searchd index run' to
rebuild the index, and 'searchd health' to check the dependencies.`,
		Version: version.Version,
	}

	// Set version template
	cmd.SetVersionTemplate("searchd version {{.Version}}\n")

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: searchd.yaml in working directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	// Setup profiling and logging hooks
	cmd.PersistentPreRunE = startDiagnostics
	cmd.PersistentPostRunE = stopDiagnostics

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startDiagnostics installs a debug-level stderr logger when --debug
// is set (commands that configure their own logging replace it) and
// starts the CPU and trace profilers for their --profile-* flags.
func startDiagnostics(_ *cobra.Command, _ []string) error {
	if debugMode {
		cleanup, err := logging.SetupDefault(logging.Config{
			Level:         "debug",
			WriteToStderr: true,
		})
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
	}

	if profileCPU != "" {
		stop, err := profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		cpuStop = stop
	}

	if profileTrace != "" {
		stop, err := profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuStop != nil {
				cpuStop()
				cpuStop = nil
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
		traceStop = stop
	}

	return nil
}

// stopDiagnostics closes whatever startDiagnostics opened and writes
// the heap snapshot when --profile-mem asked for one.
func stopDiagnostics(_ *cobra.Command, _ []string) error {
	if cpuStop != nil {
		cpuStop()
		cpuStop = nil
	}
	if traceStop != nil {
		traceStop()
		traceStop = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig resolves the effective configuration: the file named by
// --config when set, otherwise the layered search order of config.Load
// rooted at the working directory. --debug forces debug-level logging
// regardless of the configured level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		dir, werr := os.Getwd()
		if werr != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", werr)
		}
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}

	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
