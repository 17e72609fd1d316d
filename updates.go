package settings

import (
	"context"
	"errors"
	"sync"
	"time"
)

// UpdateReport summarizes one remote profile sweep.
type UpdateReport struct {
	Checked int
	Updated int
	Failed  int
}

type updateState struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	stopped    bool
}

// ScheduleUpdates arms the remote profile sweep after the update delay,
// replacing any pending sweep. After a sweep the next one is scheduled after
// the update interval. In-flight fetches of a replaced sweep are not aborted;
// their results are discarded.
func (m *Manager) ScheduleUpdates() {
	m.scheduleUpdates(m.cfg.updateDelay)
}

func (m *Manager) scheduleUpdates(delay time.Duration) {
	m.updates.mu.Lock()
	defer m.updates.mu.Unlock()
	if m.updates.stopped {
		return
	}
	if m.updates.timer != nil {
		m.updates.timer.Stop()
	}
	m.updates.generation++
	generation := m.updates.generation
	m.updates.timer = time.AfterFunc(delay, func() {
		m.runUpdates(generation)
	})
}

func (m *Manager) runUpdates(generation uint64) {
	current := func() bool {
		m.updates.mu.Lock()
		defer m.updates.mu.Unlock()
		return !m.updates.stopped && m.updates.generation == generation
	}
	if !current() {
		return
	}
	report, err := m.checkUpdates(m.lifetime, current)
	if err != nil {
		m.log.Warn("settings: remote profile sweep finished with errors", "checked", report.Checked, "updated", report.Updated, "failed", report.Failed, "error", err)
	} else {
		m.log.Info("settings: remote profile sweep finished", "checked", report.Checked, "updated", report.Updated)
	}
	if current() {
		m.scheduleUpdates(m.cfg.interval)
	}
}

func (m *Manager) stopUpdates() {
	m.updates.mu.Lock()
	defer m.updates.mu.Unlock()
	m.updates.stopped = true
	m.updates.generation++
	if m.updates.timer != nil {
		m.updates.timer.Stop()
		m.updates.timer = nil
	}
}

// CheckUpdates refreshes every profile with a remote URL now. Each profile is
// checked independently; the returned error joins the individual failures.
func (m *Manager) CheckUpdates(ctx context.Context) (UpdateReport, error) {
	return m.checkUpdates(ctx, nil)
}

func (m *Manager) checkUpdates(ctx context.Context, current func() bool) (UpdateReport, error) {
	var (
		report UpdateReport
		errs   []error
	)
	for _, p := range m.Profiles() {
		if p.URL() == "" {
			continue
		}
		if current != nil && !current() {
			break
		}
		report.Checked++
		updated, err := p.checkUpdate(ctx, current)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, err)
		case updated:
			report.Updated++
		}
	}
	return report, errors.Join(errs...)
}
