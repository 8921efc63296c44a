/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"
)

const (
	TUptimeEvents = "uptime_events"

	EventTypeUp   = "up"
	EventTypeDown = "down"
)

type UptimeEvent struct {
	Id              int64           `db:"id"`
	ServiceName     string          `db:"service_name"`
	EventType       string          `db:"event_type"`
	Timestamp       time.Time       `db:"timestamp"`
	DurationSeconds sql.NullFloat64 `db:"duration_seconds"`
	Details         sql.NullString  `db:"details"`
}

var insertUptimeEventCmd = fmt.Sprintf(`INSERT INTO %s
	(service_name, event_type, timestamp, duration_seconds, details)
	VALUES (:service_name, :event_type, :timestamp, :duration_seconds, :details)
	RETURNING id`, TUptimeEvents)

func (c *Client) InsertUptimeEvent(ctx context.Context, event *UptimeEvent) (int64, error) {
	if event == nil {
		return 0, nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	rows, err := c.db.NamedQueryContext(ctx, insertUptimeEventCmd, event)
	if err != nil {
		klog.ErrorS(err, "failed to insert uptime event", "service", event.ServiceName)
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (c *Client) SelectUptimeEvents(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*UptimeEvent, error) {
	var events []*UptimeEvent
	err := c.selectList(ctx, &events, TUptimeEvents, query, orderBy, limit, offset)
	return events, err
}

// GetOpenDownEvent returns the most recent down event for a service whose
// downtime duration has not yet been filled in, or nil.
func (c *Client) GetOpenDownEvent(ctx context.Context, serviceName string) (*UptimeEvent, error) {
	query := sqrl.And{
		sqrl.Eq{"service_name": serviceName},
		sqrl.Eq{"event_type": EventTypeDown},
		sqrl.Eq{"duration_seconds": nil},
	}
	var events []*UptimeEvent
	if err := c.selectList(ctx, &events, TUptimeEvents, query, []string{"timestamp DESC"}, 1, 0); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

func (c *Client) SetUptimeEventDuration(ctx context.Context, id int64, durationSeconds float64) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET duration_seconds = $1 WHERE id = $2`, TUptimeEvents),
		durationSeconds, id)
	return err
}
