// Package watch polls the plot staging directory and hands finished plots to
// the transfer manager.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/bamsammich/plotfarm/internal/manager"
	"github.com/bamsammich/plotfarm/internal/transfer"
)

// DefaultQuiescence is how long a plot's mtime must stay put before it is
// considered finished.
const DefaultQuiescence = 45 * time.Second

// Readiness decides whether a staged file is a finished plot.
type Readiness struct {
	PlotSize   int64
	Quiescence time.Duration
	Suffix     string
}

// Check reports whether info describes a file ready to archive. When it is
// not, the second result says why.
func (r Readiness) Check(info fs.FileInfo, now time.Time) (bool, string) {
	switch {
	case !info.Mode().IsRegular():
		return false, "not a regular file"
	case r.Suffix != "" && !strings.HasSuffix(info.Name(), r.Suffix):
		return false, "name does not end in " + r.Suffix
	case info.Size() < r.PlotSize:
		return false, "smaller than a plot"
	case now.Sub(info.ModTime()) < r.Quiescence:
		return false, "modified recently"
	}
	return true, ""
}

// Scheduler accepts ready files. *manager.Manager implements it.
type Scheduler interface {
	CanHandle(ctx context.Context, src string) bool
	Start(ctx context.Context, src string) (*transfer.Task, error)
}

// Loop scans Dir every Interval. With Notify set, filesystem events in Dir
// trigger extra scans as well.
type Loop struct {
	Dir        string
	Readiness  Readiness
	Scheduler  Scheduler
	Interval   time.Duration
	StartDelay time.Duration // pause after each start
	Notify     bool
	Logger     *slog.Logger

	now func() time.Time
}

// Pass scans the directory once, considering files in name order, and returns
// how many transfers it started.
func (l *Loop) Pass(ctx context.Context) (int, error) {
	log := l.logger()

	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return 0, fmt.Errorf("list staging directory: %w", err)
	}

	now := l.clock()
	started := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		info, err := entry.Info()
		if err != nil {
			// Gone between listing and stat, usually archived a moment ago.
			continue
		}
		src := filepath.Join(l.Dir, entry.Name())
		if ok, reason := l.Readiness.Check(info, now); !ok {
			log.Debug("not ready", "file", src, "reason", reason)
			continue
		}
		if !l.Scheduler.CanHandle(ctx, src) {
			continue
		}

		task, err := l.Scheduler.Start(ctx, src)
		switch {
		case errors.Is(err, manager.ErrNoDestination), errors.Is(err, manager.ErrAlreadyActive):
			log.Debug("start deferred", "file", src, "reason", err)
			continue
		case err != nil:
			log.Warn("start failed", "file", src, "error", err)
			continue
		}
		started++
		log.Debug("handed off", "file", src, "task", task.ID)

		if err := sleep(ctx, l.StartDelay); err != nil {
			return started, err
		}
	}
	return started, nil
}

// Run scans immediately and then until ctx is cancelled. A missing staging
// directory is logged and retried on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	log := l.logger()

	interval := l.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if l.Notify {
		w, err := l.watch()
		if err != nil {
			log.Warn("directory notifications unavailable, polling only", "dir", l.Dir, "error", err)
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}
	// Bursts of writes from a growing plot collapse into one scan per second.
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)

	l.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.scan(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && limiter.Allow() {
				l.scan(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("directory watch error", "error", err)
		}
	}
}

func (l *Loop) scan(ctx context.Context) {
	n, err := l.Pass(ctx)
	switch {
	case err == nil:
		if n > 0 {
			l.logger().Debug("pass complete", "started", n)
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		l.logger().Warn("scan skipped", "dir", l.Dir, "error", err)
	}
}

func (l *Loop) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(l.Dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (l *Loop) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
