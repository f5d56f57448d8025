// Package manager schedules plot transfers so that every high-speed USB bus
// carries at most one transfer at a time.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bamsammich/plotfarm/internal/event"
	"github.com/bamsammich/plotfarm/internal/inventory"
	"github.com/bamsammich/plotfarm/internal/selector"
	"github.com/bamsammich/plotfarm/internal/stats"
	"github.com/bamsammich/plotfarm/internal/transfer"
)

var (
	// ErrNoDestination means no idle bus currently has a writable partition
	// with room. It is transient; the caller retries on its next cycle.
	ErrNoDestination = errors.New("no destination available")
	// ErrAlreadyActive means the source file already has a transfer running.
	ErrAlreadyActive = errors.New("source is already being archived")
)

// Defaults for the background timers.
const (
	DefaultRefreshInterval = time.Minute
	DefaultReportInterval  = 5 * time.Second
)

// Refresher rebuilds the bus inventory.
type Refresher interface {
	Refresh(ctx context.Context) (inventory.Inventory, error)
}

// Selector picks a destination given the inventory and the busy buses.
type Selector interface {
	Select(ctx context.Context, inv inventory.Inventory, busy map[string]bool) (selector.Destination, bool)
}

// Config wires a Manager to its collaborators.
type Config struct {
	Inventory       Refresher
	Selector        Selector
	Spawner         transfer.Spawner
	RefreshInterval time.Duration
	ReportInterval  time.Duration
	// ReportWriter receives the periodic report while transfers are active.
	// When nil, progress is logged instead.
	ReportWriter io.Writer
	// Events, if set, receives lifecycle events. Sends never block.
	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger
}

type entry struct {
	task *transfer.Task
	size int64
}

// Manager owns the active transfers and the inventory snapshot. Destination
// selection and task registration happen under one lock, so two starts can
// never claim the same bus.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*entry // keyed by source path
	inv    inventory.Inventory
	nextID int64

	wg sync.WaitGroup
}

// New creates a Manager with an empty inventory. Call Refresh or Run to
// populate it.
func New(cfg Config) *Manager {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:   cfg,
		log:   log.With("component", "manager"),
		tasks: make(map[string]*entry),
	}
}

// Run refreshes the inventory immediately and then on every refresh tick,
// and reports active transfers on every report tick. It blocks until ctx is
// cancelled. Running transfers are not interrupted.
func (m *Manager) Run(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		m.log.Warn("inventory refresh failed", "error", err)
	}

	refresh := time.NewTicker(m.cfg.RefreshInterval)
	defer refresh.Stop()
	report := time.NewTicker(m.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := m.Refresh(ctx); err != nil {
				m.log.Warn("inventory refresh failed", "error", err)
			}
		case <-report.C:
			m.emitReport()
		}
	}
}

// Refresh rebuilds the inventory snapshot. On failure the previous snapshot
// is kept. The active transfers are never touched.
func (m *Manager) Refresh(ctx context.Context) error {
	inv, err := m.cfg.Inventory.Refresh(ctx)
	if err != nil {
		m.cfg.Stats.AddRefreshFailures(1)
		m.emit(event.Event{Type: event.RefreshFailed, Error: err})
		return fmt.Errorf("refresh inventory: %w", err)
	}

	m.mu.Lock()
	m.inv = inv
	busy := m.busyLocked()
	active := len(m.tasks)
	m.mu.Unlock()

	for bus := range busy {
		if !inv.Has(bus) {
			m.log.Warn("bus with an active transfer left the inventory", "bus", bus)
		}
	}

	m.cfg.Stats.AddRefreshes(1)
	m.log.Debug("inventory refreshed", "buses", inv.BusIDs(), "active", active)
	m.emit(event.Event{Type: event.InventoryRefreshed, Buses: inv.Len(), Busy: len(busy), Active: active})
	return nil
}

// Inventory returns the current inventory snapshot.
func (m *Manager) Inventory() inventory.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inv
}

// CanHandle reports whether src has no active transfer and a destination is
// available right now. The answer may be stale by the time Start is called.
func (m *Manager) CanHandle(ctx context.Context, src string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[src]; ok {
		m.log.Debug("already archiving", "source", src)
		return false
	}
	if _, ok := m.cfg.Selector.Select(ctx, m.inv, m.busyLocked()); !ok {
		m.log.Debug("no destination available", "source", src)
		return false
	}
	return true
}

// Start selects a destination and launches a transfer of src. It returns
// ErrNoDestination if nothing is free and ErrAlreadyActive if src is
// already being archived.
func (m *Manager) Start(ctx context.Context, src string) (*transfer.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[src]; ok {
		return nil, ErrAlreadyActive
	}
	dest, ok := m.cfg.Selector.Select(ctx, m.inv, m.busyLocked())
	if !ok {
		m.cfg.Stats.AddNoDestination(1)
		m.emit(event.Event{Type: event.NoDestination, Source: src, Active: len(m.tasks)})
		return nil, ErrNoDestination
	}

	var size int64
	if fi, err := os.Stat(src); err == nil {
		size = fi.Size()
	}

	m.nextID++
	task := transfer.New(transfer.Spec{
		ID:     m.nextID,
		Source: src,
		Dest:   dest.Mount,
		BusID:  dest.BusID,
	}, m.cfg.Spawner, m.onDone)

	m.tasks[src] = &entry{task: task, size: size}
	m.wg.Add(1)
	if err := task.Start(); err != nil {
		delete(m.tasks, src)
		m.wg.Done()
		return nil, err
	}

	m.cfg.Stats.AddTransfersStarted(1)
	m.log.Info("transfer started",
		"task", task.ID,
		"source", src,
		"dest", dest.Mount,
		"bus", dest.BusID,
		"available", dest.Partition.Available,
	)
	m.emit(event.Event{
		Type:   event.TransferStarted,
		TaskID: task.ID,
		Source: src,
		Dest:   dest.Mount,
		BusID:  dest.BusID,
		Size:   size,
		Active: len(m.tasks),
		Busy:   len(m.busyLocked()),
	})
	return task, nil
}

// onDone is the single completion path for every task: it frees the task's
// bus and records the outcome. The source file is left for the poll loop.
func (m *Manager) onDone(task *transfer.Task, err error) {
	m.mu.Lock()
	var size int64
	if e, ok := m.tasks[task.Source]; ok && e.task == task {
		size = e.size
		delete(m.tasks, task.Source)
	}
	active := len(m.tasks)
	busy := len(m.busyLocked())
	m.mu.Unlock()
	defer m.wg.Done()

	ev := event.Event{
		TaskID: task.ID,
		Source: task.Source,
		Dest:   task.Dest,
		BusID:  task.BusID,
		Size:   size,
		Active: active,
		Busy:   busy,
	}
	if err != nil {
		m.cfg.Stats.AddTransfersFailed(1)
		m.log.Error("transfer failed",
			"task", task.ID,
			"source", task.Source,
			"dest", task.Dest,
			"bus", task.BusID,
			"error", err,
		)
		ev.Type = event.TransferFailed
		ev.Error = err
	} else {
		m.cfg.Stats.AddTransfersSucceeded(1)
		m.cfg.Stats.AddBytesArchived(size)
		m.log.Info("transfer finished",
			"task", task.ID,
			"source", task.Source,
			"dest", task.Dest,
			"bus", task.BusID,
			"elapsed", task.Elapsed().Round(time.Second),
		)
		ev.Type = event.TransferSucceeded
	}
	m.emit(ev)
}

// Wait blocks until every started transfer has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BusyBuses returns the buses that carry an active transfer, sorted.
func (m *Manager) BusyBuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	busy := make([]string, 0, len(m.tasks))
	for bus := range m.busyLocked() {
		busy = append(busy, bus)
	}
	sort.Strings(busy)
	return busy
}

func (m *Manager) busyLocked() map[string]bool {
	busy := make(map[string]bool, len(m.tasks))
	for _, e := range m.tasks {
		busy[e.task.BusID] = true
	}
	return busy
}

func (m *Manager) emit(ev event.Event) {
	if m.cfg.Events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case m.cfg.Events <- ev:
	default:
		m.log.Debug("event dropped", "type", ev.Type)
	}
}
