package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/plotfarm/internal/config"
	"github.com/bamsammich/plotfarm/internal/ui"
)

// sizeValue is a pflag.Value accepting human sizes such as 108.1GB or 101GiB.
type sizeValue struct {
	v *config.Size
}

var _ pflag.Value = sizeValue{}

func (s sizeValue) String() string {
	if s.v == nil || *s.v == 0 {
		return ""
	}
	return ui.FormatSize(uint64(*s.v))
}

func (sizeValue) Type() string { return "size" }

func (s sizeValue) Set(val string) error {
	return s.v.UnmarshalText([]byte(val))
}

// durationValue is a pflag.Value over config.Duration.
type durationValue struct {
	v *config.Duration
}

var _ pflag.Value = durationValue{}

func (d durationValue) String() string {
	if d.v == nil || *d.v == 0 {
		return ""
	}
	return d.v.D().String()
}

func (durationValue) Type() string { return "duration" }

func (d durationValue) Set(val string) error {
	return d.v.UnmarshalText([]byte(val))
}

// archiveFlags mirrors the [archive] table. Values only reach the config when
// the flag was given on the command line.
type archiveFlags struct {
	watchDir      string
	farmDir       string
	plotSize      config.Size
	requiredFree  config.Size
	plotSuffix    string
	quiescence    config.Duration
	pollInterval  config.Duration
	startDelay    config.Duration
	notify        bool
	minSpeed      int
	metricsListen string
}

func (f *archiveFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.watchDir, "watch-dir", "w", "", "staging directory holding finished plots")
	fs.StringVarP(&f.farmDir, "farm-dir", "f", "", "directory under which farm drives are mounted")
	fs.Var(sizeValue{&f.plotSize}, "plot-size", "minimum size of a finished plot (e.g. 108.1GB)")
	fs.Var(sizeValue{&f.requiredFree}, "required-free", "free space a destination must exceed")
	fs.StringVar(&f.plotSuffix, "suffix", "", "file name suffix of finished plots")
	fs.Var(durationValue{&f.quiescence}, "quiescence", "time since last write before a plot counts as finished")
	fs.Var(durationValue{&f.pollInterval}, "poll-interval", "rescan interval for the staging directory")
	fs.Var(durationValue{&f.startDelay}, "start-delay", "pause after starting a transfer")
	fs.BoolVar(&f.notify, "notify", true, "rescan on filesystem notifications")
	fs.IntVar(&f.minSpeed, "min-bus-speed", 0, "minimum bus speed in Mbps for a bus to be used")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "serve /metrics and /status on ADDR")
}

// farmFlags is the subset the inspection commands share.
type farmFlags struct {
	farmDir      string
	requiredFree config.Size
	minSpeed     int
	format       string
}

func (f *farmFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.farmDir, "farm-dir", "f", "", "directory under which farm drives are mounted")
	fs.Var(sizeValue{&f.requiredFree}, "required-free", "free space a destination must exceed")
	fs.IntVar(&f.minSpeed, "min-bus-speed", 0, "minimum bus speed in Mbps for a bus to be used")
	fs.StringVar(&f.format, "format", ui.FormatTable, "output format (table, markdown, csv)")
}

// applyArchiveFlags applies flags explicitly set on the CLI over the values
// loaded from the config file.
func applyArchiveFlags(cmd *cobra.Command, f *archiveFlags, cfg *config.Config) {
	a := &cfg.Archive
	flags := cmd.Flags()
	if flags.Changed("watch-dir") {
		a.WatchDir = f.watchDir
	}
	if flags.Changed("farm-dir") {
		a.FarmDir = f.farmDir
	}
	if flags.Changed("plot-size") {
		a.PlotSize = f.plotSize
	}
	if flags.Changed("required-free") {
		a.RequiredFree = f.requiredFree
	}
	if flags.Changed("suffix") {
		a.PlotSuffix = f.plotSuffix
	}
	if flags.Changed("quiescence") {
		a.Quiescence = f.quiescence
	}
	if flags.Changed("poll-interval") {
		a.PollInterval = f.pollInterval
	}
	if flags.Changed("start-delay") {
		a.StartDelay = f.startDelay
	}
	if flags.Changed("notify") {
		a.Notify = f.notify
	}
	if flags.Changed("min-bus-speed") {
		a.MinBusSpeedMbps = f.minSpeed
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = f.metricsListen
	}
}

func applyFarmFlags(cmd *cobra.Command, f *farmFlags, cfg *config.Config) {
	a := &cfg.Archive
	flags := cmd.Flags()
	if flags.Changed("farm-dir") {
		a.FarmDir = f.farmDir
	}
	if flags.Changed("required-free") {
		a.RequiredFree = f.requiredFree
	}
	if flags.Changed("min-bus-speed") {
		a.MinBusSpeedMbps = f.minSpeed
	}
}
