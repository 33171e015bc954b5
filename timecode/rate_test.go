package timecode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateMonitor_Sample(t *testing.T) {
	m := NewRateMonitor()

	// 各秒の時点での累積取り込み数
	totals := []uint32{0, 0, 30, 60, 90}
	want := []uint32{0, 0, 30, 30, 30}

	var got []uint32
	for _, total := range totals {
		for m.Updates() < total {
			m.Ingest()
		}
		got = append(got, m.Sample())
	}

	assert.Equal(t, want, got)
	assert.Equal(t, uint32(30), m.UpdatesPerSecond())
}

func TestRateMonitor_Wraparound(t *testing.T) {
	m := NewRateMonitor()
	m.updates.Store(math.MaxUint32 - 9)
	m.Sample()

	for i := 0; i < 20; i++ {
		m.Ingest()
	}
	assert.Equal(t, uint32(20), m.Sample())
}

func TestLocked(t *testing.T) {
	tests := []struct {
		ups  uint32
		want bool
	}{
		{0, false},
		{24, false},
		{25, true},
		{30, true},
		{1000, true},
		{1001, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Locked(tt.ups), "ups=%d", tt.ups)
	}
}
