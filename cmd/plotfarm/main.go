package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/plotfarm/internal/config"
	"github.com/bamsammich/plotfarm/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	verbose    bool
	quiet      bool
	logFile    string

	logger   *slog.Logger
	closeLog func()
}

func run() int {
	g := &globals{closeLog: func() {}}
	rootCmd := newRootCmd(g)
	err := rootCmd.Execute()
	g.closeLog()
	return exitCode(err)
}

func newRootCmd(g *globals) *cobra.Command {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "plotfarm",
		Short: "Archive finished plots onto a farm of USB drives",
		Long: `plotfarm watches a staging directory for finished plot files and moves each
one onto a farm drive, running at most one transfer per high-speed USB bus.

Run "plotfarm archive" to start archiving. The other subcommands inspect the
farm: partitions, buses and raw USB devices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return g.setupLogging()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "plotfarm %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.PersistentFlags().
		StringVarP(&g.configPath, "config", "c", "", "config file (default: "+config.Path()+")")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(
		newArchiveCmd(g),
		newDisksCmd(g),
		newBusesCmd(g),
		newDevicesCmd(g),
		newMountCmd(g),
		newConfigCmd(g),
		newDocsCmd(),
	)
	return rootCmd
}

func (g *globals) setupLogging() error {
	logLevel := slog.LevelInfo
	if g.verbose {
		logLevel = slog.LevelDebug
	} else if g.quiet {
		logLevel = slog.LevelWarn
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	if g.logFile != "" {
		lf, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		g.closeLog = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	g.logger = slog.New(logHandler)
	slog.SetDefault(g.logger)
	return nil
}

// loadConfig reads the config file named by --config, or the default one.
func (g *globals) loadConfig() (config.Config, error) {
	return config.Load(g.configPath)
}

// exitCode maps a command error to the process exit status: 2 for bad
// configuration or usage, 1 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, config.ErrInvalid) {
		return 2
	}
	return 1
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
