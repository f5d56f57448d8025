package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/plotfarm/internal/mount"
)

func newMountCmd(g *globals) *cobra.Command {
	var (
		scanDir  string
		mountDir string
		readOnly bool
		umount   bool
	)
	cmd := &cobra.Command{
		Use:   "mount",
		Short: "Mount every labelled farm drive under the mount directory",
		Long: `Mount every device found in the scan directory (by default
/dev/disk/by-label) at <mount-dir>/<label>, skipping mount points that are
already mounted. With --umount, lazily unmount them instead.

Requires root.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			m := &cfg.Mount
			if cmd.Flags().Changed("scan-dir") {
				m.ScanDir = scanDir
			}
			if cmd.Flags().Changed("mount-dir") {
				m.MountDir = mountDir
			}
			if cmd.Flags().Changed("read-only") {
				m.ReadOnly = readOnly
			}
			if err := cfg.ValidateMount(); err != nil {
				return err
			}
			if os.Geteuid() != 0 {
				return errors.New("mount requires root")
			}

			ctx := cmd.Context()
			mounter := &mount.Mounter{
				Runner:   mount.ExecRunner{},
				ReadOnly: m.ReadOnly,
				Pause:    mount.DefaultPause,
				Logger:   g.logger.With("component", "mount"),
			}

			var res mount.Result
			if umount {
				targets, err := mount.Targets(m.ScanDir, m.MountDir)
				if err != nil {
					return err
				}
				res, err = mounter.UnmountAll(ctx, targets)
				if err != nil {
					return err
				}
			} else {
				mounted, err := mount.Mounted(ctx)
				if err != nil {
					return err
				}
				plan, err := mount.Plan(m.ScanDir, m.MountDir, mounted)
				if err != nil {
					return err
				}
				res, err = mounter.MountAll(ctx, plan)
				if err != nil {
					return err
				}
			}

			verb := "mounted"
			if umount {
				verb = "unmounted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d, failed %d\n", verb, len(res.Done), len(res.Failed))
			if len(res.Failed) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scanDir, "scan-dir", "", "directory of device entries to mount")
	cmd.Flags().StringVar(&mountDir, "mount-dir", "", "directory to create mount points in")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount read-only")
	cmd.Flags().BoolVarP(&umount, "umount", "u", false, "unmount instead of mount")
	return cmd
}
