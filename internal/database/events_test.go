package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DRIVER_MONITOR/go-backend/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.ErrorContains(t, err, "unsupported")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestCreateAndGetEvent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 5, 4, 3, 2, 1, 123456789, time.UTC)
	created, err := db.CreateEvent(ctx, models.DrowsinessEvent{
		VehicleID: "vehicle-001",
		Timestamp: ts,
		ImagePath: "static/events/x.jpg",
		EAR:       0.12,
		MAR:       0.3,
		EventType: models.EventDrowsiness,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, uuid.Version(7), created.ID.Version())

	got, err := db.GetEvent(ctx, created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created.Timestamp.UnixMilli(), got.Timestamp.UnixMilli()); diff != "" {
		t.Errorf("timestamp mismatch (-want +got):\n%s", diff)
	}
	got.Timestamp = created.Timestamp
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateEventKeepsGivenID(t *testing.T) {
	db := openTestDB(t)
	id := uuid.Must(uuid.NewV7())
	e, err := db.CreateEvent(context.Background(), models.DrowsinessEvent{ID: id, EventType: models.EventYawning})
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateEvent(context.Background(), models.DrowsinessEvent{EventType: "SNEEZING"})
	assert.Error(t, err)
}

func TestListEventsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		_, err := db.CreateEvent(ctx, models.DrowsinessEvent{
			VehicleID: "v",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EventType: models.EventDrowsiness,
		})
		require.NoError(t, err)
	}

	events, err := db.ListEvents(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, base.Add(4*time.Minute).UnixMilli(), events[0].Timestamp.UnixMilli())
	assert.Equal(t, base.Add(3*time.Minute).UnixMilli(), events[1].Timestamp.UnixMilli())

	events, err = db.ListEvents(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, base.UnixMilli(), events[0].Timestamp.UnixMilli())

	empty := openTestDB(t)
	events, err = empty.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestDeleteEvent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	e, err := db.CreateEvent(ctx, models.DrowsinessEvent{EventType: models.EventDrowsiness})
	require.NoError(t, err)

	require.NoError(t, db.DeleteEvent(ctx, e.ID))
	_, err = db.GetEvent(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteEvent(ctx, e.ID), ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
