// Package disk enumerates the mounted partitions of a plot farm and queries
// their capacity.
package disk

import (
	"path/filepath"
	"strings"
)

// Partition is a mounted storage volume under the farm root.
type Partition struct {
	Device     string // block device node, e.g. /dev/sdb1
	Mount      string
	FSType     string
	Label      string
	Size       uint64
	Used       uint64
	Available  uint64
	UsePercent float64
}

// Capacity is a live free-space reading for one mount path.
type Capacity struct {
	Mount      string
	Size       uint64
	Used       uint64
	Available  uint64
	UsePercent float64
}

// Merge joins partitions with capacity readings by mount path, overwriting the
// partition's space figures. Partitions with no reading are dropped.
func Merge(parts []Partition, caps map[string]Capacity) []Partition {
	out := make([]Partition, 0, len(parts))
	for _, p := range parts {
		c, ok := caps[p.Mount]
		if !ok {
			continue
		}
		p.Size = c.Size
		p.Used = c.Used
		p.Available = c.Available
		p.UsePercent = c.UsePercent
		out = append(out, p)
	}
	return out
}

// Mounts returns the mount paths of parts in order.
func Mounts(parts []Partition) []string {
	mounts := make([]string, len(parts))
	for i, p := range parts {
		mounts[i] = p.Mount
	}
	return mounts
}

// Under reports whether path is strictly below root.
func Under(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
