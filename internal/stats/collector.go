package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks archive statistics using lock-free atomic counters.
type Collector struct {
	transfersStarted   atomic.Int64
	transfersSucceeded atomic.Int64
	transfersFailed    atomic.Int64
	bytesArchived      atomic.Int64
	refreshes          atomic.Int64
	refreshFailures    atomic.Int64
	noDestination      atomic.Int64
	startTime          time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	TransfersStarted   int64         `json:"transfers_started"`
	TransfersSucceeded int64         `json:"transfers_succeeded"`
	TransfersFailed    int64         `json:"transfers_failed"`
	BytesArchived      int64         `json:"bytes_archived"`
	Refreshes          int64         `json:"refreshes"`
	RefreshFailures    int64         `json:"refresh_failures"`
	NoDestination      int64         `json:"no_destination"`
	Elapsed            time.Duration `json:"elapsed_ns"`
}

func (c *Collector) AddTransfersStarted(n int64)   { c.transfersStarted.Add(n) }
func (c *Collector) AddTransfersSucceeded(n int64) { c.transfersSucceeded.Add(n) }
func (c *Collector) AddTransfersFailed(n int64)    { c.transfersFailed.Add(n) }
func (c *Collector) AddBytesArchived(n int64)      { c.bytesArchived.Add(n) }
func (c *Collector) AddRefreshes(n int64)          { c.refreshes.Add(n) }
func (c *Collector) AddRefreshFailures(n int64)    { c.refreshFailures.Add(n) }
func (c *Collector) AddNoDestination(n int64)      { c.noDestination.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TransfersStarted:   c.transfersStarted.Load(),
		TransfersSucceeded: c.transfersSucceeded.Load(),
		TransfersFailed:    c.transfersFailed.Load(),
		BytesArchived:      c.bytesArchived.Load(),
		Refreshes:          c.refreshes.Load(),
		RefreshFailures:    c.refreshFailures.Load(),
		NoDestination:      c.noDestination.Load(),
		Elapsed:            c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"started=%d succeeded=%d failed=%d archived=%s refreshes=%d",
		s.TransfersStarted, s.TransfersSucceeded, s.TransfersFailed,
		FormatBytes(s.BytesArchived), s.Refreshes,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
