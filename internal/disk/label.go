package disk

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultLabelDir is where udev publishes filesystem labels as symlinks.
const DefaultLabelDir = "/dev/disk/by-label"

// Labels maps resolved device nodes to filesystem labels by reading the
// by-label symlink directory. A missing directory yields an empty map.
func Labels(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	labels := make(map[string]string, len(entries))
	for _, e := range entries {
		link := filepath.Join(dir, e.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		labels[filepath.Clean(target)] = DecodeLabel(e.Name())
	}
	return labels, nil
}

// DecodeLabel reverses udev's \xNN escaping of label characters.
func DecodeLabel(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
