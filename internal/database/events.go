package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"DRIVER_MONITOR/go-backend/internal/models"
)

var ErrNotFound = errors.New("database: not found")

const eventColumns = "id, vehicle_id, timestamp_ms, image_path, ear, mar, event_type"

// CreateEvent stores e. A zero ID is replaced by a new UUIDv7 and a zero
// timestamp by the current time; the stored event is returned.
func (db *DB) CreateEvent(ctx context.Context, e models.DrowsinessEvent) (models.DrowsinessEvent, error) {
	if !e.EventType.Valid() {
		return models.DrowsinessEvent{}, fmt.Errorf("invalid event type %q", e.EventType)
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return models.DrowsinessEvent{}, fmt.Errorf("generate event id: %w", err)
		}
		e.ID = id
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.Truncate(time.Millisecond)

	_, err := db.ExecContext(ctx, db.rebind(
		"INSERT INTO drowsiness_events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
		e.ID.String(), e.VehicleID, e.Timestamp.UnixMilli(), e.ImagePath, e.EAR, e.MAR, string(e.EventType))
	if err != nil {
		return models.DrowsinessEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// ListEvents returns events newest first.
func (db *DB) ListEvents(ctx context.Context, limit, offset int) ([]models.DrowsinessEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.QueryContext(ctx, db.rebind(
		"SELECT "+eventColumns+" FROM drowsiness_events ORDER BY timestamp_ms DESC, id DESC LIMIT ? OFFSET ?"),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.DrowsinessEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (models.DrowsinessEvent, error) {
	row := db.QueryRowContext(ctx, db.rebind(
		"SELECT "+eventColumns+" FROM drowsiness_events WHERE id = ?"), id.String())
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DrowsinessEvent{}, ErrNotFound
	}
	return e, err
}

func (db *DB) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, db.rebind("DELETE FROM drowsiness_events WHERE id = ?"), id.String())
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (models.DrowsinessEvent, error) {
	var (
		e         models.DrowsinessEvent
		id        string
		ts        int64
		eventType string
	)
	if err := s.Scan(&id, &e.VehicleID, &ts, &e.ImagePath, &e.EAR, &e.MAR, &eventType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan event: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return e, fmt.Errorf("scan event id %q: %w", id, err)
	}
	e.ID = parsed
	e.Timestamp = time.UnixMilli(ts)
	e.EventType = models.EventType(eventType)
	return e, nil
}
