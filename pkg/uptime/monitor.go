/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package uptime

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/database/client"
	"github.com/vault-appliance/vault/pkg/services"
	"github.com/vault-appliance/vault/pkg/utils/channel"
)

const (
	StateUp      = "up"
	StateDown    = "down"
	StateUnknown = "unknown"

	pollSchedule = "@every 30s"
)

// Lister yields the current status of every managed service.
type Lister interface {
	List(ctx context.Context) []*services.ServiceStatus
}

type Store interface {
	InsertUptimeEvent(ctx context.Context, event *client.UptimeEvent) (int64, error)
	GetOpenDownEvent(ctx context.Context, serviceName string) (*client.UptimeEvent, error)
	SetUptimeEventDuration(ctx context.Context, id int64, durationSeconds float64) error
	SelectUptimeEvents(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.UptimeEvent, error)
}

// Monitor samples service state on a fixed schedule and records up/down
// transitions. The first check after start only seeds the state map.
type Monitor struct {
	store  Store
	lister Lister
	now    func() time.Time

	mu        sync.Mutex
	lastState map[string]string
	seeded    bool

	tomb *channel.Tomb
}

func NewMonitor(store Store, lister Lister) *Monitor {
	return &Monitor{
		store:     store,
		lister:    lister,
		now:       time.Now,
		lastState: map[string]string{},
		tomb:      channel.NewTomb(),
	}
}

func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) Stop() {
	m.tomb.Stop()
}

func (m *Monitor) run() {
	m.Poll(context.Background())

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddFunc(pollSchedule, func() {
		m.Poll(context.Background())
	}); err != nil {
		klog.ErrorS(err, "failed to schedule uptime poller")
		m.tomb.Done()
		return
	}
	c.Start()
	klog.Infof("uptime monitor started, schedule %s", pollSchedule)

	<-m.tomb.Stopping()
	c.Stop()
	m.tomb.Done()
}

func stateOf(status *services.ServiceStatus) string {
	switch status.State {
	case services.StateRunning:
		return StateUp
	case services.StateStopped:
		return StateDown
	default:
		return StateUnknown
	}
}

// Poll takes one sample and records transition events. Exported for the
// handler that forces an immediate refresh.
func (m *Monitor) Poll(ctx context.Context) {
	statuses := m.lister.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, status := range statuses {
		state := stateOf(status)
		last, known := m.lastState[status.Name]
		m.lastState[status.Name] = state
		if !m.seeded || !known || last == state {
			continue
		}
		m.transition(ctx, status.Name, last, state)
	}
	m.seeded = true
}

func (m *Monitor) transition(ctx context.Context, service, from, to string) {
	now := m.now().UTC()
	klog.Infof("service %s transitioned %s -> %s", service, from, to)

	switch {
	case from == StateUp && to == StateDown:
		_, err := m.store.InsertUptimeEvent(ctx, &client.UptimeEvent{
			ServiceName: service,
			EventType:   client.EventTypeDown,
			Timestamp:   now,
		})
		if err != nil {
			klog.ErrorS(err, "failed to record down event", "service", service)
		}
	case from == StateDown && to == StateUp:
		up := &client.UptimeEvent{
			ServiceName: service,
			EventType:   client.EventTypeUp,
			Timestamp:   now,
		}
		open, err := m.store.GetOpenDownEvent(ctx, service)
		if err != nil {
			klog.ErrorS(err, "failed to look up open down event", "service", service)
		}
		if open != nil {
			duration := now.Sub(open.Timestamp).Seconds()
			if err = m.store.SetUptimeEventDuration(ctx, open.Id, duration); err != nil {
				klog.ErrorS(err, "failed to close down event", "service", service)
			}
			up.DurationSeconds = sql.NullFloat64{Float64: duration, Valid: true}
		}
		if _, err = m.store.InsertUptimeEvent(ctx, up); err != nil {
			klog.ErrorS(err, "failed to record up event", "service", service)
		}
	}
}

// Events lists recorded events, newest first, optionally for one service.
func (m *Monitor) Events(ctx context.Context, service string, limit, offset int) ([]*client.UptimeEvent, error) {
	var query sqrl.Sqlizer
	if service != "" {
		query = sqrl.Eq{"service_name": service}
	}
	if limit <= 0 {
		limit = 100
	}
	return m.store.SelectUptimeEvents(ctx, query, []string{"timestamp DESC"}, limit, offset)
}

// Availability computes the percentage of the trailing window the service was
// up, from recorded down events. Open events count through now; events are
// clipped to the window. A service with no events is exactly 100.
func (m *Monitor) Availability(ctx context.Context, service string, windowHours int) (float64, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	now := m.now().UTC()
	windowStart := now.Add(-time.Duration(windowHours) * time.Hour)

	query := sqrl.And{
		sqrl.Eq{"service_name": service},
		sqrl.Eq{"event_type": client.EventTypeDown},
		sqrl.Or{
			sqrl.GtOrEq{"timestamp": windowStart},
			sqrl.Eq{"duration_seconds": nil},
		},
	}
	events, err := m.store.SelectUptimeEvents(ctx, query, []string{"timestamp ASC"}, -1, 0)
	if err != nil {
		return 0, err
	}

	var downtime float64
	for _, event := range events {
		start := event.Timestamp
		end := now
		if event.DurationSeconds.Valid {
			end = start.Add(time.Duration(event.DurationSeconds.Float64 * float64(time.Second)))
		}
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(now) {
			end = now
		}
		if end.After(start) {
			downtime += end.Sub(start).Seconds()
		}
	}

	window := float64(windowHours) * 3600
	pct := 100 * (1 - downtime/window)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10000) / 10000, nil
}
