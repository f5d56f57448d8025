package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/usb"
)

// Output formats accepted by the table renderers.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// ValidFormat reports whether f names a supported output format.
func ValidFormat(f string) bool {
	switch strings.ToLower(f) {
	case FormatTable, FormatMarkdown, "md", FormatCSV:
		return true
	}
	return false
}

// TaskRow is one active transfer in the progress report.
type TaskRow struct {
	ID      int64
	Source  string
	Dest    string
	Bus     string
	Percent string
	Rate    string
	ETA     string
	Elapsed time.Duration
}

// RenderTasks writes the transfer progress table.
func RenderTasks(w io.Writer, rows []TaskRow) {
	t := newWriter(w)
	t.AppendHeader(table.Row{"id", "source", "destination", "bus", "progress", "rate", "eta", "elapsed"})
	for _, r := range rows {
		pct := r.Percent
		if pct == "" {
			pct = "0%"
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Source,
			r.Dest,
			r.Bus,
			fmt.Sprintf("%s %4s", ProgressBar(PercentFraction(pct), 10), pct),
			dash(r.Rate),
			dash(r.ETA),
			FormatDuration(r.Elapsed),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

// RenderPartitions writes one row per partition.
func RenderPartitions(w io.Writer, parts []disk.Partition, format string) {
	t := newWriter(w)
	t.AppendHeader(table.Row{"device", "mount", "label", "fstype", "size", "used", "available", "use%"})
	for _, p := range parts {
		t.AppendRow(table.Row{
			p.Device,
			p.Mount,
			dash(p.Label),
			p.FSType,
			FormatSize(p.Size),
			FormatSize(p.Used),
			FormatSize(p.Available),
			fmt.Sprintf("%.1f%%", p.UsePercent),
		})
	}
	t.SetColumnConfigs(rightAligned(5, 6, 7, 8))
	t.SortBy([]table.SortBy{{Name: "mount", Mode: table.Asc}})
	render(t, format)
}

// BusRow is one partition attached to a bus, with its writability verdict.
type BusRow struct {
	Bus       string
	SpeedMbps int
	HighSpeed bool
	Partition disk.Partition
	Full      bool
}

// RenderBuses writes the inventory grouped by bus, in the order given.
func RenderBuses(w io.Writer, rows []BusRow, format string) {
	t := newWriter(w)
	t.AppendHeader(table.Row{"bus", "speed", "eligible", "mount", "label", "available", "room"})
	for _, r := range rows {
		eligible := "yes"
		if !r.HighSpeed {
			eligible = "too slow"
		}
		room := "yes"
		if r.Full {
			room = "full"
		}
		t.AppendRow(table.Row{
			r.Bus,
			fmt.Sprintf("%d Mbps", r.SpeedMbps),
			eligible,
			r.Partition.Mount,
			r.Partition.Label,
			FormatSize(r.Partition.Available),
			room,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 2, AutoMerge: true, Align: text.AlignRight},
		{Number: 3, AutoMerge: true},
		{Number: 6, Align: text.AlignRight},
	})
	render(t, format)
}

// RenderDevices writes the raw USB topology.
func RenderDevices(w io.Writer, devs []usb.Device, format string) {
	t := newWriter(w)
	t.AppendHeader(table.Row{"device", "label", "fstype", "bus", "speed", "high speed"})
	for _, d := range devs {
		t.AppendRow(table.Row{
			d.DevNode,
			d.Label,
			dash(d.FSType),
			d.BusID,
			fmt.Sprintf("%d Mbps", d.SpeedMbps),
			d.HighSpeed,
		})
	}
	t.SetColumnConfigs(rightAligned(5))
	render(t, format)
}

func newWriter(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func render(t table.Writer, format string) {
	switch strings.ToLower(format) {
	case "md", FormatMarkdown:
		t.RenderMarkdown()
	case FormatCSV:
		t.RenderCSV()
	default:
		t.Render()
	}
}

func rightAligned(cols ...int) []table.ColumnConfig {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	return cfgs
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
