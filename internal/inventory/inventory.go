// Package inventory maps high-speed USB buses to the farm partitions
// attached through them.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/usb"
)

// Bus is one high-speed bus and the partitions physically on it.
type Bus struct {
	ID         string
	Partitions []disk.Partition
}

// Inventory is an immutable snapshot of buses in selection order. Every bus
// has at least one partition.
type Inventory struct {
	Buses       []Bus
	RefreshedAt time.Time
}

// BusIDs returns bus ids in inventory order.
func (inv Inventory) BusIDs() []string {
	ids := make([]string, len(inv.Buses))
	for i, b := range inv.Buses {
		ids[i] = b.ID
	}
	return ids
}

// Has reports whether id is a known high-speed bus.
func (inv Inventory) Has(id string) bool {
	for _, b := range inv.Buses {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Partitions returns the partitions on bus id, or nil.
func (inv Inventory) Partitions(id string) []disk.Partition {
	for _, b := range inv.Buses {
		if b.ID == id {
			return b.Partitions
		}
	}
	return nil
}

// Len returns the number of buses.
func (inv Inventory) Len() int { return len(inv.Buses) }

// PartitionLister enumerates eligible farm partitions.
type PartitionLister interface {
	Partitions(ctx context.Context) ([]disk.Partition, error)
}

// Topology reports USB attachment of labelled partitions.
type Topology interface {
	Devices(ctx context.Context) ([]usb.Device, error)
}

// Assignment is a partition joined with the bus it is attached through.
type Assignment struct {
	Partition disk.Partition
	BusID     string
	SpeedMbps int
	HighSpeed bool
}

// Builder produces inventories from the host's partitions and topology.
type Builder struct {
	Partitions PartitionLister
	Topology   Topology
	Logger     *slog.Logger
	Now        func() time.Time
}

// Assignments joins every partition with its device record by volume label.
// Partitions without a matching record are excluded.
func (b *Builder) Assignments(ctx context.Context) ([]Assignment, error) {
	parts, err := b.Partitions.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}
	devices, err := b.Topology.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("query device topology: %w", err)
	}
	return Join(parts, devices, b.logger()), nil
}

// Refresh builds a new inventory of high-speed buses.
func (b *Builder) Refresh(ctx context.Context) (Inventory, error) {
	assigns, err := b.Assignments(ctx)
	if err != nil {
		return Inventory{}, err
	}
	inv := Group(assigns)
	inv.RefreshedAt = b.now()
	return inv, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// Join pairs partitions with devices sharing the same label. A label claimed
// by several devices is ambiguous and its partitions are excluded.
func Join(parts []disk.Partition, devices []usb.Device, logger *slog.Logger) []Assignment {
	byLabel := make(map[string]usb.Device, len(devices))
	dup := make(map[string]bool)
	for _, d := range devices {
		if _, ok := byLabel[d.Label]; ok {
			dup[d.Label] = true
		}
		byLabel[d.Label] = d
	}

	out := make([]Assignment, 0, len(parts))
	for _, p := range parts {
		if p.Label == "" {
			logger.Debug("partition has no label, excluded", "mount", p.Mount)
			continue
		}
		if dup[p.Label] {
			logger.Warn("label shared by several devices, excluded", "label", p.Label, "mount", p.Mount)
			continue
		}
		d, ok := byLabel[p.Label]
		if !ok {
			logger.Debug("no usb device record for partition, excluded", "label", p.Label, "mount", p.Mount)
			continue
		}
		out = append(out, Assignment{
			Partition: p,
			BusID:     d.BusID,
			SpeedMbps: d.SpeedMbps,
			HighSpeed: d.HighSpeed,
		})
	}
	return out
}

// Group keeps high-speed assignments and groups them by bus, ordered by bus
// number. Partition order within a bus follows the input.
func Group(assigns []Assignment) Inventory {
	idx := make(map[string]int)
	var inv Inventory
	for _, a := range assigns {
		if !a.HighSpeed {
			continue
		}
		i, ok := idx[a.BusID]
		if !ok {
			i = len(inv.Buses)
			idx[a.BusID] = i
			inv.Buses = append(inv.Buses, Bus{ID: a.BusID})
		}
		inv.Buses[i].Partitions = append(inv.Buses[i].Partitions, a.Partition)
	}
	sort.SliceStable(inv.Buses, func(i, j int) bool {
		ni, nj := usb.BusNumber(inv.Buses[i].ID), usb.BusNumber(inv.Buses[j].ID)
		if ni != nj {
			return ni < nj
		}
		return inv.Buses[i].ID < inv.Buses[j].ID
	})
	return inv
}

// GroupAll groups every assignment by bus regardless of speed.
func GroupAll(assigns []Assignment) map[string][]Assignment {
	out := make(map[string][]Assignment)
	for _, a := range assigns {
		out[a.BusID] = append(out[a.BusID], a)
	}
	return out
}
