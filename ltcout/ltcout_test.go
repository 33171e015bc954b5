package ltcout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltc-node/timecode"
)

func TestEncodeFrame_Fields(t *testing.T) {
	tc := timecode.TimeCode{Hours: 12, Minutes: 34, Seconds: 56, Frames: 23, Type: timecode.TypeEBU}
	f := EncodeFrame(tc)

	// フレーム 23: 1の位 3 (ビット0,1)、10の位 2 (ビット9)
	assert.True(t, f.Bit(0))
	assert.True(t, f.Bit(1))
	assert.False(t, f.Bit(2))
	assert.False(t, f.Bit(8))
	assert.True(t, f.Bit(9))
	assert.False(t, f.Bit(10), "drop frame flag")

	assert.Equal(t, byte(0xFC), f[8])
	assert.Equal(t, byte(0xBF), f[9])

	assert.Equal(t, tc, f.Decode(timecode.TypeEBU))
}

func TestEncodeFrame_DropFrame(t *testing.T) {
	tc := timecode.TimeCode{Minutes: 1, Frames: 2, Type: timecode.TypeDF}
	f := EncodeFrame(tc)
	assert.True(t, f.Bit(10))
	assert.Equal(t, tc, f.Decode(timecode.TypeSMPTE))
}

func TestEncodeFrame_Polarity(t *testing.T) {
	for _, tc := range []timecode.TimeCode{
		{Type: timecode.TypeSMPTE},
		{Frames: 1, Type: timecode.TypeSMPTE},
		{Hours: 23, Minutes: 59, Seconds: 59, Frames: 24, Type: timecode.TypeEBU},
		{Hours: 1, Frames: 1, Type: timecode.TypeEBU},
	} {
		f := EncodeFrame(tc)
		assert.Zero(t, f.ones()%2, "odd number of ones for %s", tc)
	}

	// 00:00:00:00 は同期ワードの 13 個だけなので補正ビットが立つ。25fps ではビット 59 を使う
	f := EncodeFrame(timecode.TimeCode{Type: timecode.TypeEBU})
	assert.False(t, f.Bit(27))
	assert.True(t, f.Bit(59))

	f = EncodeFrame(timecode.TimeCode{Type: timecode.TypeSMPTE})
	assert.True(t, f.Bit(27))
	assert.False(t, f.Bit(59))

	f = EncodeFrame(timecode.TimeCode{Frames: 1, Type: timecode.TypeSMPTE})
	assert.False(t, f.Bit(27))
}

func TestSender_SilentUntilFirstFrame(t *testing.T) {
	s := NewSender(48000, 0.5)
	samples := make([][2]float64, 64)
	n, ok := s.Stream(samples)
	assert.Equal(t, 64, n)
	assert.True(t, ok)
	for _, v := range samples {
		assert.Equal(t, [2]float64{}, v)
	}
	assert.NoError(t, s.Err())
}

func TestSender_BiphaseMark(t *testing.T) {
	s := NewSender(48000, 0.5)
	tc := timecode.TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Type: timecode.TypeEBU}
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))

	// 48000 / (80 * 25) = 24 サンプル/ビット
	samples := make([][2]float64, FrameBits*24)
	s.Stream(samples)

	transitions := 0
	for i := 1; i < len(samples); i++ {
		assert.NotZero(t, samples[i][0])
		assert.Equal(t, samples[i][0], samples[i][1])
		if samples[i][0] != samples[i-1][0] {
			transitions++
		}
	}

	f := EncodeFrame(tc)
	// 先頭ビット以外の各ビット境界 + 1 のビットの中央
	assert.Equal(t, FrameBits-1+f.ones(), transitions)
	assert.InDelta(t, 0.5, abs(samples[0][0]), 1e-9)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
