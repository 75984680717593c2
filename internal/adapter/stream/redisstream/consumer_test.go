package redisstream

import (
	"testing"
	"time"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	want := time.Date(2024, 5, 1, 20, 0, 30, 0, time.UTC)

	tests := []struct {
		name          string
		values        map[string]interface{}
		expectedError string
		checkResult   func(*testing.T, entity.RawEvent)
	}{
		{
			name: "json data field",
			values: map[string]interface{}{
				"data": `{"type":"kill","player_id":"a","victim_id":"v","player_team":"allies","victim_team":"allies","weapon":"M1 GARAND","timestamp":"2024-05-01T20:00:30Z"}`,
			},
			checkResult: func(t *testing.T, ev entity.RawEvent) {
				assert.Equal(t, entity.EventTypeKill, ev.Type)
				assert.Equal(t, "v", ev.VictimID)
				assert.Equal(t, "M1 GARAND", ev.Weapon)
				assert.True(t, want.Equal(ev.Timestamp))
			},
		},
		{
			name: "flat fields with rfc3339",
			values: map[string]interface{}{
				"type":        "connect",
				"player_id":   "a",
				"player_name": "rookie",
				"timestamp":   "2024-05-01T20:00:30Z",
			},
			checkResult: func(t *testing.T, ev entity.RawEvent) {
				assert.Equal(t, "connect", ev.Type)
				assert.Equal(t, "rookie", ev.PlayerName)
				assert.Equal(t, want, ev.Timestamp)
			},
		},
		{
			name:   "unix seconds",
			values: map[string]interface{}{"type": "death", "player_id": "a", "timestamp": "1714593630"},
			checkResult: func(t *testing.T, ev entity.RawEvent) {
				assert.Equal(t, want, ev.Timestamp)
			},
		},
		{
			name:   "unix milliseconds",
			values: map[string]interface{}{"type": "death", "player_id": "a", "timestamp": "1714593630000"},
			checkResult: func(t *testing.T, ev entity.RawEvent) {
				assert.Equal(t, want, ev.Timestamp)
			},
		},
		{
			name:   "missing timestamp left zero for the classifier",
			values: map[string]interface{}{"type": "death", "player_id": "a"},
			checkResult: func(t *testing.T, ev entity.RawEvent) {
				assert.True(t, ev.Timestamp.IsZero())
			},
		},
		{
			name:          "bad timestamp",
			values:        map[string]interface{}{"type": "death", "timestamp": "yesterday"},
			expectedError: "invalid timestamp",
		},
		{
			name:          "bad json",
			values:        map[string]interface{}{"data": "{"},
			expectedError: "decode data field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeMessage(tt.values)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			tt.checkResult(t, ev)
		})
	}
}
