package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bamsammich/plotfarm/internal/config"
	"github.com/bamsammich/plotfarm/internal/disk"
	"github.com/bamsammich/plotfarm/internal/inventory"
	"github.com/bamsammich/plotfarm/internal/selector"
	"github.com/bamsammich/plotfarm/internal/ui"
	"github.com/bamsammich/plotfarm/internal/usb"
)

// farmConfig loads the config file and applies the shared inspection flags.
func farmConfig(cmd *cobra.Command, g *globals, f *farmFlags) (config.Config, error) {
	if !ui.ValidFormat(f.format) {
		return config.Config{}, fmt.Errorf("%w: unknown format %q (use table, markdown or csv)", config.ErrInvalid, f.format)
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	applyFarmFlags(cmd, f, &cfg)
	if cfg.Archive.FarmDir == "" {
		return config.Config{}, fmt.Errorf("%w: farm_dir is not set", config.ErrInvalid)
	}
	return cfg, nil
}

func newDisksCmd(g *globals) *cobra.Command {
	var f farmFlags
	cmd := &cobra.Command{
		Use:           "disks",
		Short:         "List farm partitions and which of them have room for another plot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := farmConfig(cmd, g, &f)
			if err != nil {
				return err
			}
			a := cfg.Archive
			parts, err := disk.NewLister(a.FarmDir, a.FSTypes, g.logger).Partitions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ui.RenderPartitions(out, parts, f.format)
			if strings.EqualFold(f.format, ui.FormatTable) {
				writeSplit(out, parts, uint64(a.RequiredFree))
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func writeSplit(w io.Writer, parts []disk.Partition, requiredFree uint64) {
	full, candidates := selector.Split(parts, requiredFree)
	fmt.Fprintf(w, "\n%d partitions: %d full, %d with room (required free %s)\n",
		len(parts), len(full), len(candidates), ui.FormatSize(requiredFree))
	if len(candidates) > 0 {
		fmt.Fprintf(w, "fullest partition with room: %s (%s available)\n",
			candidates[0].Mount, ui.FormatSize(candidates[0].Available))
	}
}

func newBusesCmd(g *globals) *cobra.Command {
	var f farmFlags
	cmd := &cobra.Command{
		Use:           "buses",
		Short:         "Show farm partitions grouped by the USB bus they are attached through",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := farmConfig(cmd, g, &f)
			if err != nil {
				return err
			}
			a := cfg.Archive
			builder := &inventory.Builder{
				Partitions: disk.NewLister(a.FarmDir, a.FSTypes, g.logger),
				Topology:   usb.NewSysfs(a.MinBusSpeedMbps, g.logger),
				Logger:     g.logger,
			}
			assigns, err := builder.Assignments(cmd.Context())
			if err != nil {
				return err
			}
			ui.RenderBuses(cmd.OutOrStdout(), busRows(assigns, uint64(a.RequiredFree)), f.format)
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

// busRows orders assignments by bus number, then mount.
func busRows(assigns []inventory.Assignment, requiredFree uint64) []ui.BusRow {
	groups := inventory.GroupAll(assigns)
	buses := make([]string, 0, len(groups))
	for id := range groups {
		buses = append(buses, id)
	}
	sort.Slice(buses, func(i, j int) bool {
		ni, nj := usb.BusNumber(buses[i]), usb.BusNumber(buses[j])
		if ni != nj {
			return ni < nj
		}
		return buses[i] < buses[j]
	})

	var rows []ui.BusRow
	for _, id := range buses {
		group := groups[id]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Partition.Mount < group[j].Partition.Mount
		})
		for _, a := range group {
			rows = append(rows, ui.BusRow{
				Bus:       id,
				SpeedMbps: a.SpeedMbps,
				HighSpeed: a.HighSpeed,
				Partition: a.Partition,
				Full:      a.Partition.Available <= requiredFree,
			})
		}
	}
	return rows
}

func newDevicesCmd(g *globals) *cobra.Command {
	var (
		format   string
		minSpeed int
	)
	cmd := &cobra.Command{
		Use:           "devices",
		Short:         "Show the USB topology records of every labelled partition",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !ui.ValidFormat(format) {
				return fmt.Errorf("%w: unknown format %q (use table, markdown or csv)", config.ErrInvalid, format)
			}
			devs, err := usb.NewSysfs(minSpeed, g.logger).Devices(cmd.Context())
			if err != nil {
				return err
			}
			ui.RenderDevices(cmd.OutOrStdout(), devs, format)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", ui.FormatTable, "output format (table, markdown, csv)")
	cmd.Flags().IntVar(&minSpeed, "min-bus-speed", usb.HighSpeedMbps, "minimum bus speed in Mbps to count as high speed")
	return cmd
}
