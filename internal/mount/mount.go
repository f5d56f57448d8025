// Package mount mounts every labelled farm drive under one directory, one
// mount point per label.
package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultPause spaces out mount calls so USB hubs are not hit all at once.
const DefaultPause = 200 * time.Millisecond

// Target pairs a device entry from the scan directory with its mount point.
type Target struct {
	Name   string // entry name in the scan directory, usually a label
	Device string
	Mount  string
}

// Targets lists scanDir and maps each entry to mountDir/<name>, in name order.
func Targets(scanDir, mountDir string) ([]Target, error) {
	entries, err := os.ReadDir(scanDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", scanDir, err)
	}
	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		targets = append(targets, Target{
			Name:   e.Name(),
			Device: filepath.Join(scanDir, e.Name()),
			Mount:  filepath.Join(mountDir, e.Name()),
		})
	}
	return targets, nil
}

// Plan returns the targets whose mount point is not already mounted.
func Plan(scanDir, mountDir string, mounted map[string]bool) ([]Target, error) {
	all, err := Targets(scanDir, mountDir)
	if err != nil {
		return nil, err
	}
	var plan []Target
	for _, t := range all {
		if !mounted[filepath.Clean(t.Mount)] {
			plan = append(plan, t)
		}
	}
	return plan, nil
}

// Mounted returns the set of current mount points.
func Mounted(ctx context.Context) (map[string]bool, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list mounts: %w", err)
	}
	set := make(map[string]bool, len(parts))
	for _, p := range parts {
		set[filepath.Clean(p.Mountpoint)] = true
	}
	return set, nil
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Result counts the outcome of a batch.
type Result struct {
	Done   []string
	Failed []string
}

// Mounter runs mount and umount over a batch of targets. A failing target is
// logged and the batch continues.
type Mounter struct {
	Runner   Runner
	ReadOnly bool
	Pause    time.Duration
	Logger   *slog.Logger
}

// MountAll creates each mount point as needed and mounts its device.
func (m *Mounter) MountAll(ctx context.Context, targets []Target) (Result, error) {
	log := m.logger()
	var res Result
	for i, t := range targets {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				return res, err
			}
		}
		if err := os.MkdirAll(t.Mount, 0o755); err != nil {
			log.Error("create mount point", "mount", t.Mount, "error", err)
			res.Failed = append(res.Failed, t.Name)
			continue
		}
		args := []string{t.Device, t.Mount}
		if m.ReadOnly {
			args = append([]string{"-o", "ro"}, args...)
		}
		if err := m.Runner.Run(ctx, "mount", args...); err != nil {
			log.Error("mount failed", "device", t.Device, "mount", t.Mount, "error", err)
			res.Failed = append(res.Failed, t.Name)
			continue
		}
		log.Info("mounted", "device", t.Device, "mount", t.Mount, "read_only", m.ReadOnly)
		res.Done = append(res.Done, t.Name)
	}
	return res, nil
}

// UnmountAll lazily unmounts each target's mount point.
func (m *Mounter) UnmountAll(ctx context.Context, targets []Target) (Result, error) {
	log := m.logger()
	var res Result
	for i, t := range targets {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				return res, err
			}
		}
		if err := m.Runner.Run(ctx, "umount", "-l", t.Mount); err != nil {
			log.Error("unmount failed", "mount", t.Mount, "error", err)
			res.Failed = append(res.Failed, t.Name)
			continue
		}
		log.Info("unmounted", "mount", t.Mount)
		res.Done = append(res.Done, t.Name)
	}
	return res, nil
}

func (m *Mounter) pause(ctx context.Context) error {
	if m.Pause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Pause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mounter) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
