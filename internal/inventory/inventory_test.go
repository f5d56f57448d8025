package inventory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/usb"
)

type fakeLister struct {
	parts []disk.Partition
	err   error
}

func (f fakeLister) Partitions(context.Context) ([]disk.Partition, error) { return f.parts, f.err }

type fakeTopology struct {
	devices []usb.Device
	err     error
}

func (f fakeTopology) Devices(context.Context) ([]usb.Device, error) { return f.devices, f.err }

func part(label, mount string) disk.Partition {
	return disk.Partition{Label: label, Mount: mount, FSType: "ext4"}
}

func dev(label, bus string, high bool) usb.Device {
	speed := 480
	if high {
		speed = 5000
	}
	return usb.Device{Label: label, BusID: bus, SpeedMbps: speed, HighSpeed: high}
}

func TestRefresh_GroupsHighSpeedBuses(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Builder{
		Partitions: fakeLister{parts: []disk.Partition{
			part("A", "/farm/a"),
			part("B", "/farm/b"),
			part("C", "/farm/c"),
			part("D", "/farm/d"),
			part("E", "/farm/e"), // no device record
		}},
		Topology: fakeTopology{devices: []usb.Device{
			dev("A", "usb10", true),
			dev("B", "usb2", true),
			dev("C", "usb2", true),
			dev("D", "usb1", false),
		}},
		Now: func() time.Time { return now },
	}

	inv, err := b.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"usb2", "usb10"}, inv.BusIDs())
	assert.Equal(t, now, inv.RefreshedAt)
	assert.Equal(t, []string{"/farm/b", "/farm/c"}, disk.Mounts(inv.Partitions("usb2")))
	assert.Equal(t, []string{"/farm/a"}, disk.Mounts(inv.Partitions("usb10")))
	assert.False(t, inv.Has("usb1"), "low-speed bus must not be a destination")
	assert.Nil(t, inv.Partitions("usb1"))

	for _, bus := range inv.Buses {
		assert.NotEmpty(t, bus.Partitions)
	}
}

func TestRefresh_LowSpeedPartitionsNeverIncluded(t *testing.T) {
	b := &Builder{
		Partitions: fakeLister{parts: []disk.Partition{part("A", "/farm/a"), part("B", "/farm/b")}},
		Topology:   fakeTopology{devices: []usb.Device{dev("A", "usb1", false), dev("B", "usb3", false)}},
	}
	inv, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())
}

func TestRefresh_EmptyIsNotAnError(t *testing.T) {
	b := &Builder{Partitions: fakeLister{}, Topology: fakeTopology{}}
	inv, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())
	assert.False(t, inv.RefreshedAt.IsZero())
}

func TestRefresh_Errors(t *testing.T) {
	boom := errors.New("boom")

	b := &Builder{Partitions: fakeLister{err: boom}, Topology: fakeTopology{}}
	_, err := b.Refresh(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "enumerate partitions")

	b = &Builder{Partitions: fakeLister{}, Topology: fakeTopology{err: boom}}
	_, err = b.Refresh(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "device topology")
}

func TestJoin_ExcludesUnlabelledAndAmbiguous(t *testing.T) {
	parts := []disk.Partition{part("", "/farm/x"), part("DUP", "/farm/dup"), part("OK", "/farm/ok")}
	devices := []usb.Device{dev("DUP", "usb2", true), dev("DUP", "usb3", true), dev("OK", "usb4", true)}

	got := Join(parts, devices, slog.Default())
	require.Len(t, got, 1)
	assert.Equal(t, "/farm/ok", got[0].Partition.Mount)
	assert.Equal(t, "usb4", got[0].BusID)
	assert.True(t, got[0].HighSpeed)
}

func TestGroupAll(t *testing.T) {
	assigns := []Assignment{
		{Partition: part("A", "/farm/a"), BusID: "usb1"},
		{Partition: part("B", "/farm/b"), BusID: "usb2", HighSpeed: true},
		{Partition: part("C", "/farm/c"), BusID: "usb1"},
	}
	got := GroupAll(assigns)
	assert.Len(t, got["usb1"], 2)
	assert.Len(t, got["usb2"], 1)
}
