package manager

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bamsammich/plotfarm/internal/transfer"
	"github.com/bamsammich/plotfarm/internal/ui"
)

// TaskStatus is a point-in-time view of one active transfer.
type TaskStatus struct {
	ID        int64             `json:"id"`
	Source    string            `json:"source"`
	Dest      string            `json:"dest"`
	BusID     string            `json:"bus"`
	State     string            `json:"state"`
	Progress  transfer.Progress `json:"progress"`
	StartedAt time.Time         `json:"started_at"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Active returns the active transfers ordered by task id.
func (m *Manager) Active() []TaskStatus {
	m.mu.Lock()
	tasks := make([]*transfer.Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		tasks = append(tasks, e.task)
	}
	m.mu.Unlock()

	out := make([]TaskStatus, len(tasks))
	for i, t := range tasks {
		out[i] = TaskStatus{
			ID:        t.ID,
			Source:    t.Source,
			Dest:      t.Dest,
			BusID:     t.BusID,
			State:     t.State().String(),
			Progress:  t.Progress(),
			StartedAt: t.StartedAt(),
			Elapsed:   t.Elapsed(),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Report renders the active transfers as a human-readable table.
func (m *Manager) Report() string {
	active := m.Active()
	inv := m.Inventory()

	var b strings.Builder
	fmt.Fprintf(&b, "Ongoing transfers: %d  buses %s\n",
		len(active), ui.BusIndicator(len(m.BusyBuses()), inv.Len()))

	rows := make([]ui.TaskRow, len(active))
	for i, s := range active {
		rows[i] = ui.TaskRow{
			ID:      s.ID,
			Source:  s.Source,
			Dest:    s.Dest,
			Bus:     s.BusID,
			Percent: s.Progress.Percent,
			Rate:    s.Progress.Rate,
			ETA:     s.Progress.ETA,
			Elapsed: s.Elapsed,
		}
	}
	ui.RenderTasks(&b, rows)
	fmt.Fprintln(&b, m.cfg.Stats.Snapshot())
	return b.String()
}

// emitReport runs on the report tick. Nothing is emitted while idle.
func (m *Manager) emitReport() {
	active := m.Active()
	if len(active) == 0 {
		return
	}
	if m.cfg.ReportWriter != nil {
		_, _ = fmt.Fprint(m.cfg.ReportWriter, m.Report())
		return
	}
	for _, s := range active {
		m.log.Info("transfer progress",
			"task", s.ID,
			"source", s.Source,
			"bus", s.BusID,
			"percent", s.Progress.Percent,
			"rate", s.Progress.Rate,
			"eta", s.Progress.ETA,
			"elapsed", s.Elapsed.Round(time.Second),
		)
	}
}
