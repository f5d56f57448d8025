// Package usb resolves which USB bus each block-device partition is attached
// through, using sysfs and the udev device database.
package usb

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Default locations on a Linux host.
const (
	DefaultSysRoot     = "/sys"
	DefaultUdevDataDir = "/run/udev/data"

	// HighSpeedMbps is the link speed a root hub reports for USB 3.0 (SuperSpeed).
	HighSpeedMbps = 5000
)

// Device is one USB-attached partition.
type Device struct {
	Name      string // kernel name, e.g. sdb1
	DevNode   string // /dev/sdb1
	Label     string // ID_FS_LABEL
	FSType    string // ID_FS_TYPE
	BusID     string // root hub, e.g. usb2
	SpeedMbps int
	HighSpeed bool
}

// Sysfs reads device topology from a sysfs mount and a udev data directory.
type Sysfs struct {
	SysRoot      string
	UdevDataDir  string
	MinSpeedMbps int
	Logger       *slog.Logger
}

// NewSysfs returns a Sysfs reader for the running host.
func NewSysfs(minSpeedMbps int, logger *slog.Logger) *Sysfs {
	if minSpeedMbps <= 0 {
		minSpeedMbps = HighSpeedMbps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sysfs{
		SysRoot:      DefaultSysRoot,
		UdevDataDir:  DefaultUdevDataDir,
		MinSpeedMbps: minSpeedMbps,
		Logger:       logger,
	}
}

// Devices lists labelled partitions that sit behind a USB root hub.
func (s *Sysfs) Devices(ctx context.Context) ([]Device, error) {
	classDir := filepath.Join(s.SysRoot, "class", "block")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", classDir, err)
	}

	speeds := make(map[string]int)
	var devices []Device
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		dev, ok := s.device(name)
		if !ok {
			continue
		}
		speed, cached := speeds[dev.BusID]
		if !cached {
			speed = s.busSpeed(dev.BusID)
			speeds[dev.BusID] = speed
		}
		dev.SpeedMbps = speed
		dev.HighSpeed = speed >= s.MinSpeedMbps
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func (s *Sysfs) device(name string) (Device, bool) {
	base := filepath.Join(s.SysRoot, "class", "block", name)
	if _, err := os.Stat(filepath.Join(base, "partition")); err != nil {
		return Device{}, false
	}

	devPath, err := filepath.EvalSymlinks(base)
	if err != nil {
		s.Logger.Debug("cannot resolve device path", "device", name, "error", err)
		return Device{}, false
	}
	bus := BusFromPath(devPath)
	if bus == "" {
		return Device{}, false
	}

	numbers, err := readTrimmed(filepath.Join(base, "dev"))
	if err != nil {
		s.Logger.Debug("cannot read device numbers", "device", name, "error", err)
		return Device{}, false
	}
	props, err := ReadUdevRecord(filepath.Join(s.UdevDataDir, "b"+numbers))
	if err != nil {
		s.Logger.Debug("no udev record", "device", name, "error", err)
		return Device{}, false
	}
	if t := props["ID_TYPE"]; t != "" && t != "disk" {
		return Device{}, false
	}
	label := props["ID_FS_LABEL"]
	if label == "" {
		return Device{}, false
	}

	return Device{
		Name:    name,
		DevNode: "/dev/" + name,
		Label:   label,
		FSType:  props["ID_FS_TYPE"],
		BusID:   bus,
	}, true
}

// busSpeed returns the root hub's negotiated speed in Mbps, 0 if unknown.
func (s *Sysfs) busSpeed(bus string) int {
	raw, err := readTrimmed(filepath.Join(s.SysRoot, "bus", "usb", "devices", bus, "speed"))
	if err != nil {
		s.Logger.Debug("cannot read bus speed", "bus", bus, "error", err)
		return 0
	}
	// Speeds like "1.5" exist for low-speed devices.
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// BusFromPath returns the first usbN component of a sysfs device path.
func BusFromPath(p string) string {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if BusNumber(part) >= 0 {
			return part
		}
	}
	return ""
}

// BusNumber parses "usbN" and returns N, or -1 if id is not a root hub name.
func BusNumber(id string) int {
	rest, ok := strings.CutPrefix(id, "usb")
	if !ok || rest == "" {
		return -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// ReadUdevRecord parses the E: property lines of a udev database record.
func ReadUdevRecord(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "E:")
		if !ok {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[k] = v
	}
	return props, sc.Err()
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
