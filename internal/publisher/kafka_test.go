package publisher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DRIVER_MONITOR/go-backend/internal/models"
)

func TestEncode(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	ts := time.UnixMilli(1_760_000_000_123)
	key, value, err := Encode(models.DrowsinessEvent{
		ID:        id,
		VehicleID: "vehicle-001",
		Timestamp: ts,
		ImagePath: "static/events/a.jpg",
		EAR:       0.1,
		MAR:       0.2,
		EventType: models.EventDrowsiness,
	}, "raspberry-pi")
	require.NoError(t, err)
	assert.Equal(t, "vehicle-001", string(key))

	var msg EventMessage
	require.NoError(t, json.Unmarshal(value, &msg))
	assert.Equal(t, EventMessage{
		ID:          id.String(),
		VehicleID:   "vehicle-001",
		TimestampMS: 1_760_000_000_123,
		EventType:   "DROWSINESS",
		EAR:         0.1,
		MAR:         0.2,
		Image:       "static/events/a.jpg",
		Device:      "raspberry-pi",
	}, msg)
}
