package disk

import "golang.org/x/sys/unix"

// Writable reports whether the calling process may write to path. A stale
// or unmounted device typically fails this check.
func Writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// ProbeFunc adapts a function to the selector's prober interface.
type ProbeFunc func(path string) bool

// Writable calls f(path).
func (f ProbeFunc) Writable(path string) bool { return f(path) }
