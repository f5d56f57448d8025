package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/usb"
)

func TestRenderTasks(t *testing.T) {
	var buf bytes.Buffer
	RenderTasks(&buf, []TaskRow{
		{ID: 1, Source: "/plots/a.plot", Dest: "/farm/d1", Bus: "usb2", Percent: "45%", Rate: "95.31MB/s", ETA: "0:10:02", Elapsed: 90 * time.Second},
		{ID: 2, Source: "/plots/b.plot", Dest: "/farm/d7", Bus: "usb4"},
	})
	out := buf.String()

	assert.Contains(t, out, "/plots/a.plot")
	assert.Contains(t, out, "usb2")
	assert.Contains(t, out, "▪▪▪▪□□□□□□  45%")
	assert.Contains(t, out, "95.31MB/s")
	assert.Contains(t, out, "1m 30s")
	// A task with no progress yet shows an empty bar.
	assert.Contains(t, out, "□□□□□□□□□□   0%")
}

func TestRenderPartitions_CSV(t *testing.T) {
	var buf bytes.Buffer
	RenderPartitions(&buf, []disk.Partition{
		{Device: "/dev/sdc1", Mount: "/farm/d2", FSType: "ext4", Label: "d2", Size: 14_000_000_000_000, Available: 500_000_000_000, UsePercent: 96.4},
		{Device: "/dev/sdb1", Mount: "/farm/d1", FSType: "ext4", Size: 8_000_000_000_000},
	}, FormatCSV)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "device,mount,label,fstype,size,used,available,use%", strings.ToLower(lines[0]))
	// Rows come out sorted by mount.
	assert.True(t, strings.HasPrefix(lines[1], "/dev/sdb1,/farm/d1,-,ext4,8.0 TB"))
	assert.True(t, strings.HasPrefix(lines[2], "/dev/sdc1,/farm/d2,d2,ext4,14.0 TB"))
}

func TestRenderBuses_Markdown(t *testing.T) {
	var buf bytes.Buffer
	RenderBuses(&buf, []BusRow{
		{Bus: "usb1", SpeedMbps: 480, Partition: disk.Partition{Mount: "/farm/d1", Label: "d1", Available: 10_000_000_000}, Full: true},
		{Bus: "usb4", SpeedMbps: 10000, HighSpeed: true, Partition: disk.Partition{Mount: "/farm/d2", Label: "d2", Available: 500_000_000_000}},
	}, "md")
	out := buf.String()

	assert.Contains(t, out, "| usb1 |")
	assert.Contains(t, out, "too slow")
	assert.Contains(t, out, "full")
	assert.Contains(t, out, "500.0 GB")
}

func TestRenderDevices(t *testing.T) {
	var buf bytes.Buffer
	RenderDevices(&buf, []usb.Device{
		{Name: "sdb1", DevNode: "/dev/sdb1", Label: "d1", FSType: "ext4", BusID: "usb2", SpeedMbps: 5000, HighSpeed: true},
	}, FormatTable)
	out := buf.String()

	assert.Contains(t, out, "/dev/sdb1")
	assert.Contains(t, out, "5000 Mbps")
	assert.Contains(t, out, "true")
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"table", "markdown", "md", "csv", "CSV"} {
		assert.True(t, ValidFormat(f), f)
	}
	assert.False(t, ValidFormat("json"))
	assert.False(t, ValidFormat(""))
}
