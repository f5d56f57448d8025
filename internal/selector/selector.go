// Package selector picks a destination partition on an idle high-speed bus.
package selector

import (
	"context"
	"log/slog"
	"sort"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/inventory"
)

// CapacityQuerier reads live free space for a set of mounts.
type CapacityQuerier interface {
	Capacity(ctx context.Context, mounts ...string) (map[string]disk.Capacity, error)
}

// Prober checks that a mount path accepts writes.
type Prober interface {
	Writable(path string) bool
}

// Destination is a bus and mount path safe to write the next plot to.
type Destination struct {
	BusID     string
	Mount     string
	Partition disk.Partition
}

// Selector chooses destinations. RequiredFree must exceed the largest plot so
// a chosen partition keeps working room after the write.
type Selector struct {
	Capacity     CapacityQuerier
	Probe        Prober
	RequiredFree uint64
	Logger       *slog.Logger
}

// Select returns the first workable destination across idle buses, walking
// buses in inventory order and candidates best-fit first. The second result
// is false when nothing is available.
func (s *Selector) Select(
	ctx context.Context,
	inv inventory.Inventory,
	busy map[string]bool,
) (Destination, bool) {
	log := s.logger()

	idle := Idle(inv, busy)
	if len(idle) == 0 {
		log.Debug("no idle bus", "buses", inv.Len(), "busy", len(busy))
		return Destination{}, false
	}

	for _, bus := range idle {
		if ctx.Err() != nil {
			return Destination{}, false
		}
		parts := inv.Partitions(bus)
		caps, err := s.Capacity.Capacity(ctx, disk.Mounts(parts)...)
		if err != nil {
			log.Warn("capacity query failed", "bus", bus, "error", err)
			continue
		}
		parts = disk.Merge(parts, caps)

		full, candidates := Split(parts, s.RequiredFree)
		log.Debug("bus candidates",
			"bus", bus,
			"total", len(parts),
			"full", len(full),
			"available", len(candidates),
		)

		for _, p := range candidates {
			if !s.Probe.Writable(p.Mount) {
				log.Warn("partition not writable, skipping", "bus", bus, "mount", p.Mount)
				continue
			}
			return Destination{BusID: bus, Mount: p.Mount, Partition: p}, true
		}
	}
	return Destination{}, false
}

func (s *Selector) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Idle returns the inventory's bus ids that have no active transfer, in
// inventory order.
func Idle(inv inventory.Inventory, busy map[string]bool) []string {
	var idle []string
	for _, id := range inv.BusIDs() {
		if !busy[id] {
			idle = append(idle, id)
		}
	}
	return idle
}

// Split partitions parts into those without room for another plot and the
// candidates that have it. Candidates are sorted by available bytes
// ascending, then label, so the fullest usable partition comes first.
func Split(parts []disk.Partition, requiredFree uint64) (full, candidates []disk.Partition) {
	for _, p := range parts {
		if p.Available > requiredFree {
			candidates = append(candidates, p)
		} else {
			full = append(full, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Available != candidates[j].Available {
			return candidates[i].Available < candidates[j].Available
		}
		return candidates[i].Label < candidates[j].Label
	})
	return full, candidates
}
