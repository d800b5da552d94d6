package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{61*time.Second + 900*time.Millisecond, "00:01:01"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatClock(tt.in))
		})
	}
}

func TestDecodeInfo(t *testing.T) {
	t.Run("missing info", func(t *testing.T) {
		info, err := DecodeInfo(map[string]any{"message": "x"})
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("engine payload", func(t *testing.T) {
		info, err := DecodeInfo(map[string]any{"info": NewInfo(3*time.Minute, 1500*time.Millisecond).Data()})
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, 3*time.Minute, info.Duration)
		assert.Equal(t, 1500*time.Millisecond, info.Position)
		assert.Equal(t, "00:03:00", info.DurationReadable)
		assert.Equal(t, "00:00:01", info.PositionReadable)
	})

	t.Run("integer and string numbers", func(t *testing.T) {
		info, err := DecodeInfo(map[string]any{"info": map[string]any{"duration": 2000, "position": "500", "audioSessionId": 3}})
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, info.Duration)
		assert.Equal(t, 500*time.Millisecond, info.Position)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeInfo(map[string]any{"info": "nope"})
		assert.Error(t, err)
	})
}
