package disk

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	psdisk "github.com/shirou/gopsutil/v3/disk"
)

// Lister enumerates eligible partitions mounted below a farm root.
type Lister struct {
	Root     string
	FSTypes  []string
	LabelDir string
	Logger   *slog.Logger

	// Overridable for tests.
	partitions func(ctx context.Context, all bool) ([]psdisk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*psdisk.UsageStat, error)
}

// NewLister creates a Lister backed by the host's mount table.
func NewLister(root string, fsTypes []string, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{
		Root:       root,
		FSTypes:    fsTypes,
		LabelDir:   DefaultLabelDir,
		Logger:     logger,
		partitions: psdisk.PartitionsWithContext,
		usage:      psdisk.UsageWithContext,
	}
}

// Partitions returns every mounted partition under Root whose filesystem type
// is allowed, with label and capacity filled in. Partitions whose capacity
// cannot be read are left out.
func (l *Lister) Partitions(ctx context.Context) ([]Partition, error) {
	stats, err := l.partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	labels, err := Labels(l.LabelDir)
	if err != nil {
		l.Logger.Warn("failed to read filesystem labels", "dir", l.LabelDir, "error", err)
		labels = map[string]string{}
	}

	seen := make(map[string]bool, len(stats))
	var parts []Partition
	for _, st := range stats {
		if !slices.Contains(l.FSTypes, st.Fstype) || !Under(l.Root, st.Mountpoint) {
			continue
		}
		if seen[st.Mountpoint] {
			continue
		}
		seen[st.Mountpoint] = true
		parts = append(parts, Partition{
			Device: st.Device,
			Mount:  st.Mountpoint,
			FSType: st.Fstype,
			Label:  labels[st.Device],
		})
	}

	caps, err := l.Capacity(ctx, Mounts(parts)...)
	if err != nil {
		return nil, err
	}
	parts = Merge(parts, caps)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Mount < parts[j].Mount })
	return parts, nil
}

// Capacity reads current space figures for each mount. Mounts that cannot be
// queried (unplugged, stale) are omitted from the result.
func (l *Lister) Capacity(ctx context.Context, mounts ...string) (map[string]Capacity, error) {
	caps := make(map[string]Capacity, len(mounts))
	for _, m := range mounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := l.usage(ctx, m)
		if err != nil || u == nil {
			l.Logger.Debug("capacity query failed", "mount", m, "error", err)
			continue
		}
		caps[m] = Capacity{
			Mount:      m,
			Size:       u.Total,
			Used:       u.Used,
			Available:  u.Free,
			UsePercent: u.UsedPercent,
		}
	}
	return caps, nil
}
