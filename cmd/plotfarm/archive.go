package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bamsammich/plotfarm/internal/config"
	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/event"
	"github.com/bamsammich/plotfarm/internal/inventory"
	"github.com/bamsammich/plotfarm/internal/manager"
	"github.com/bamsammich/plotfarm/internal/metrics"
	"github.com/bamsammich/plotfarm/internal/selector"
	"github.com/bamsammich/plotfarm/internal/stats"
	"github.com/bamsammich/plotfarm/internal/transfer"
	"github.com/bamsammich/plotfarm/internal/ui"
	"github.com/bamsammich/plotfarm/internal/usb"
	"github.com/bamsammich/plotfarm/internal/watch"
)

func newArchiveCmd(g *globals) *cobra.Command {
	var (
		f    archiveFlags
		once bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move finished plots from the staging directory onto farm drives",
		Long: `Watch the staging directory and move every finished plot onto a farm
partition with room for it, one transfer per high-speed USB bus at a time.

A file counts as finished once it is at least plot-size bytes, ends in the plot
suffix and has not been written for the quiescence period. Destinations are
chosen best-fit: the partition with the least free space that still exceeds
required-free.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			applyArchiveFlags(cmd, &f, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runArchive(cmd.Context(), g, cfg, once)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&once, "once", false, "scan the staging directory once, wait for its transfers and exit")
	return cmd
}

// archiver is the wired set of components behind one archive run.
type archiver struct {
	log       *slog.Logger
	manager   *manager.Manager
	loop      *watch.Loop
	collector *stats.Collector
	recorder  *metrics.Recorder
	events    chan event.Event
}

func newArchiver(g *globals, cfg config.Config, report io.Writer) *archiver {
	a := cfg.Archive
	log := g.logger.With("run", uuid.NewString())

	lister := disk.NewLister(a.FarmDir, a.FSTypes, log)
	builder := &inventory.Builder{
		Partitions: lister,
		Topology:   usb.NewSysfs(a.MinBusSpeedMbps, log),
		Logger:     log,
	}
	sel := &selector.Selector{
		Capacity:     lister,
		Probe:        disk.ProbeFunc(disk.Writable),
		RequiredFree: uint64(a.RequiredFree),
		Logger:       log,
	}

	arc := &archiver{
		log:       log,
		collector: stats.NewCollector(),
		events:    make(chan event.Event, 256),
	}
	if cfg.Metrics.Listen != "" {
		arc.recorder = metrics.NewRecorder()
	}
	arc.manager = manager.New(manager.Config{
		Inventory:       builder,
		Selector:        sel,
		Spawner:         transfer.ExecSpawner{Command: a.CopyCommand},
		RefreshInterval: a.RefreshInterval.D(),
		ReportInterval:  a.ReportInterval.D(),
		ReportWriter:    report,
		Events:          arc.events,
		Stats:           arc.collector,
		Logger:          log,
	})
	arc.loop = &watch.Loop{
		Dir: a.WatchDir,
		Readiness: watch.Readiness{
			PlotSize:   int64(a.PlotSize), //nolint:gosec // G115: validated against required_free
			Quiescence: a.Quiescence.D(),
			Suffix:     a.PlotSuffix,
		},
		Scheduler:  arc.manager,
		Interval:   a.PollInterval.D(),
		StartDelay: a.StartDelay.D(),
		Notify:     a.Notify,
		Logger:     log,
	}
	return arc
}

// tee writes every event to the log and, when enabled, the metrics recorder.
// It returns once stop is closed and pending events are drained. The events
// channel itself stays open: transfers outliving the run may still emit.
func (a *archiver) tee(stop <-chan struct{}) {
	for {
		select {
		case ev := <-a.events:
			a.observe(ev)
		case <-stop:
			for {
				select {
				case ev := <-a.events:
					a.observe(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *archiver) observe(ev event.Event) {
	attrs := []slog.Attr{
		slog.String("type", ev.Type.String()),
		slog.Int64("task", ev.TaskID),
		slog.String("source", ev.Source),
		slog.String("dest", ev.Dest),
		slog.String("bus", ev.BusID),
		slog.Int64("size", ev.Size),
		slog.Int("active", ev.Active),
	}
	if ev.Error != nil {
		attrs = append(attrs, slog.String("error", ev.Error.Error()))
	}
	a.log.LogAttrs(context.Background(), slog.LevelDebug, "plotfarm.event", attrs...)
	if a.recorder != nil {
		a.recorder.Observe(ev)
	}
}

func runArchive(parent context.Context, g *globals, cfg config.Config, once bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The progress table goes to an interactive stdout; otherwise progress
	// is logged.
	var report io.Writer
	if !g.quiet && ui.IsTTY(os.Stdout) {
		report = os.Stdout
	}
	arc := newArchiver(g, cfg, report)
	log := arc.log

	stopTee := make(chan struct{})
	var teeWg sync.WaitGroup
	teeWg.Add(1)
	go func() {
		defer teeWg.Done()
		arc.tee(stopTee)
	}()

	var err error
	if once {
		err = arc.runOnce(ctx)
	} else {
		err = arc.runForever(ctx, cfg.Metrics.Listen)
	}

	if active := arc.manager.Active(); len(active) > 0 {
		log.Warn("exiting with transfers still running", "active", len(active))
	}
	close(stopTee)
	teeWg.Wait()

	snap := arc.collector.Snapshot()
	log.Info("archive finished", "stats", snap.String())
	if err != nil {
		return err
	}
	if once && snap.TransfersFailed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func (a *archiver) runOnce(ctx context.Context) error {
	if err := a.manager.Refresh(ctx); err != nil {
		return err
	}
	started, err := a.loop.Pass(ctx)
	if err != nil {
		return err
	}
	a.log.Info("pass complete", "started", started)
	if err := a.manager.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("wait for transfers: %w", err)
	}
	return nil
}

func (a *archiver) runForever(parent context.Context, listen string) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The first scan needs an inventory to place plots on.
	if err := a.manager.Refresh(ctx); err != nil {
		a.log.Warn("initial inventory refresh failed", "error", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.manager.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	if a.recorder != nil {
		srv := &metrics.Server{
			Addr:     listen,
			Recorder: a.recorder,
			Source:   a.manager,
			Stats:    a.collector,
			Logger:   a.log,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			srvErr <- srv.Run(ctx)
		}()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", "error", err)
	} else if ok {
		a.log.Debug("notified service manager")
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.loop.Run(ctx) }()

	var err error
	select {
	case err = <-loopErr:
	case err = <-srvErr:
		cancel()
		<-loopErr
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err == nil && parent.Err() == nil {
		return errors.New("archive loop stopped unexpectedly")
	}
	return err
}
