package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/inventory"
)

const gb = 1_000_000_000

type fakeCapacity struct {
	avail map[string]uint64
	err   map[string]error // keyed by first mount of the query
	calls int
}

func (f *fakeCapacity) Capacity(_ context.Context, mounts ...string) (map[string]disk.Capacity, error) {
	f.calls++
	if len(mounts) > 0 {
		if err := f.err[mounts[0]]; err != nil {
			return nil, err
		}
	}
	out := make(map[string]disk.Capacity)
	for _, m := range mounts {
		a, ok := f.avail[m]
		if !ok {
			continue
		}
		out[m] = disk.Capacity{Mount: m, Size: 500 * gb, Available: a, Used: 500*gb - a}
	}
	return out, nil
}

type denyProbe map[string]bool

func (d denyProbe) Writable(path string) bool { return !d[path] }

func inv(buses ...inventory.Bus) inventory.Inventory { return inventory.Inventory{Buses: buses} }

func bus(id string, mounts ...string) inventory.Bus {
	b := inventory.Bus{ID: id}
	for _, m := range mounts {
		b.Partitions = append(b.Partitions, disk.Partition{Mount: m, Label: m})
	}
	return b
}

func newSelector(avail map[string]uint64, deny denyProbe) (*Selector, *fakeCapacity) {
	c := &fakeCapacity{avail: avail, err: map[string]error{}}
	return &Selector{Capacity: c, Probe: deny, RequiredFree: 5 * gb}, c
}

func TestSelect_BestFitWithinBus(t *testing.T) {
	s, _ := newSelector(map[string]uint64{"/farm/big": 50 * gb, "/farm/small": 10 * gb}, nil)

	d, ok := s.Select(context.Background(), inv(bus("usb2", "/farm/big", "/farm/small")), nil)
	require.True(t, ok)
	assert.Equal(t, "usb2", d.BusID)
	assert.Equal(t, "/farm/small", d.Mount)
	assert.Equal(t, uint64(10*gb), d.Partition.Available)
}

func TestSelect_NoIdleBus(t *testing.T) {
	s, c := newSelector(map[string]uint64{"/farm/a": 400 * gb, "/farm/b": 400 * gb}, nil)
	layout := inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b"))

	_, ok := s.Select(context.Background(), layout, map[string]bool{"usb1": true, "usb2": true})
	assert.False(t, ok)
	assert.Equal(t, 0, c.calls, "no capacity query without idle buses")
}

func TestSelect_EmptyInventory(t *testing.T) {
	s, _ := newSelector(nil, nil)
	_, ok := s.Select(context.Background(), inventory.Inventory{}, nil)
	assert.False(t, ok)
}

func TestSelect_SkipsBusyBus(t *testing.T) {
	s, _ := newSelector(map[string]uint64{"/farm/a": 10 * gb, "/farm/b": 90 * gb}, nil)
	layout := inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b"))

	d, ok := s.Select(context.Background(), layout, map[string]bool{"usb1": true})
	require.True(t, ok)
	assert.Equal(t, "usb2", d.BusID)
	assert.Equal(t, "/farm/b", d.Mount)
}

func TestSelect_FullBusFallsThrough(t *testing.T) {
	s, _ := newSelector(map[string]uint64{"/farm/a": 1 * gb, "/farm/b": 90 * gb}, nil)
	layout := inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b"))

	d, ok := s.Select(context.Background(), layout, nil)
	require.True(t, ok)
	assert.Equal(t, "usb2", d.BusID)
}

func TestSelect_InventoryOrderWins(t *testing.T) {
	// usb1 has a roomier disk than usb2, but buses are tried in order.
	s, _ := newSelector(map[string]uint64{"/farm/a": 300 * gb, "/farm/b": 10 * gb}, nil)
	layout := inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b"))

	d, ok := s.Select(context.Background(), layout, nil)
	require.True(t, ok)
	assert.Equal(t, "usb1", d.BusID)
}

func TestSelect_UnwritableCandidateSkipped(t *testing.T) {
	s, _ := newSelector(
		map[string]uint64{"/farm/a": 10 * gb, "/farm/b": 20 * gb},
		denyProbe{"/farm/a": true},
	)
	d, ok := s.Select(context.Background(), inv(bus("usb1", "/farm/a", "/farm/b")), nil)
	require.True(t, ok)
	assert.Equal(t, "/farm/b", d.Mount)
}

func TestSelect_NothingWritable(t *testing.T) {
	s, _ := newSelector(
		map[string]uint64{"/farm/a": 10 * gb, "/farm/b": 20 * gb},
		denyProbe{"/farm/a": true, "/farm/b": true},
	)
	_, ok := s.Select(context.Background(), inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b")), nil)
	assert.False(t, ok)
}

func TestSelect_CapacityErrorSkipsBus(t *testing.T) {
	s, c := newSelector(map[string]uint64{"/farm/a": 10 * gb, "/farm/b": 20 * gb}, nil)
	c.err["/farm/a"] = errors.New("stale mount")

	d, ok := s.Select(context.Background(), inv(bus("usb1", "/farm/a"), bus("usb2", "/farm/b")), nil)
	require.True(t, ok)
	assert.Equal(t, "usb2", d.BusID)
}

func TestSelect_UnmountedPartitionExcluded(t *testing.T) {
	// /farm/gone has no capacity reading, so it cannot be picked.
	s, _ := newSelector(map[string]uint64{"/farm/ok": 30 * gb}, nil)
	d, ok := s.Select(context.Background(), inv(bus("usb1", "/farm/gone", "/farm/ok")), nil)
	require.True(t, ok)
	assert.Equal(t, "/farm/ok", d.Mount)
}

func TestSelect_CancelledContext(t *testing.T) {
	s, _ := newSelector(map[string]uint64{"/farm/a": 30 * gb}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := s.Select(ctx, inv(bus("usb1", "/farm/a")), nil)
	assert.False(t, ok)
}

func TestIdle(t *testing.T) {
	layout := inv(bus("usb1", "/a"), bus("usb2", "/b"), bus("usb3", "/c"))
	assert.Equal(t, []string{"usb1", "usb3"}, Idle(layout, map[string]bool{"usb2": true, "usb9": true}))
	assert.Empty(t, Idle(inventory.Inventory{}, nil))
}

func TestSplit(t *testing.T) {
	parts := []disk.Partition{
		{Label: "c", Available: 20},
		{Label: "a", Available: 5},
		{Label: "b", Available: 20},
		{Label: "d", Available: 3},
		{Label: "e", Available: 10},
	}
	full, cand := Split(parts, 5)

	var fullLabels, candLabels []string
	for _, p := range full {
		fullLabels = append(fullLabels, p.Label)
	}
	for _, p := range cand {
		candLabels = append(candLabels, p.Label)
	}
	assert.Equal(t, []string{"a", "d"}, fullLabels, "available equal to the threshold counts as full")
	assert.Equal(t, []string{"e", "b", "c"}, candLabels)
}
