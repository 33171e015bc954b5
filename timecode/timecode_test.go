package timecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_LimitMicros(t *testing.T) {
	tests := []struct {
		typ  Type
		fps  uint32
		want uint32
	}{
		{TypeFilm, 24, 41666},
		{TypeEBU, 25, 40000},
		{TypeDF, 30, 33333},
		{TypeSMPTE, 30, 33333},
		{TypeInvalid, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.fps, tt.typ.FPS())
			assert.Equal(t, tt.want, tt.typ.LimitMicros())
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("EBU")
	require.NoError(t, err)
	assert.Equal(t, TypeEBU, typ)

	typ, err = ParseType(" 29.97 ")
	require.NoError(t, err)
	assert.Equal(t, TypeDF, typ)

	_, err = ParseType("48")
	assert.Error(t, err)
}

func TestTypeForFPS(t *testing.T) {
	typ, err := TypeForFPS(24)
	require.NoError(t, err)
	assert.Equal(t, TypeFilm, typ)

	_, err = TypeForFPS(26)
	assert.Error(t, err)
}

func TestTimeCode_Valid(t *testing.T) {
	assert.True(t, TimeCode{Hours: 23, Minutes: 59, Seconds: 59, Frames: 24, Type: TypeEBU}.Valid())
	assert.False(t, TimeCode{Frames: 25, Type: TypeEBU}.Valid(), "frame 25 does not exist at 25fps")
	assert.True(t, TimeCode{Frames: 29, Type: TypeSMPTE}.Valid())
	assert.False(t, TimeCode{Hours: 24, Type: TypeSMPTE}.Valid())
	assert.False(t, TimeCode{Type: TypeInvalid}.Valid())
}

func TestTimeCode_Equality(t *testing.T) {
	a := TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Type: TypeEBU}
	b := a
	assert.True(t, a == b)
	assert.Equal(t, a.pack(), b.pack())

	b.Type = TypeSMPTE
	assert.False(t, a == b)
	assert.NotEqual(t, a.pack(), b.pack())
	assert.Equal(t, b, unpack(b.pack()))
	assert.NotEqual(t, noValue, b.pack())
}

func TestFormatText(t *testing.T) {
	text := FormatText(TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Type: TypeEBU})
	assert.Equal(t, "01:02.03:04", text.String())

	text = FormatText(TimeCode{Hours: 23, Minutes: 59, Seconds: 0, Frames: 29, Type: TypeSMPTE})
	assert.Equal(t, "23:59.00:29", text.String())
}

func TestFormatText_OutOfRangeTruncates(t *testing.T) {
	text := FormatText(TimeCode{Hours: 123, Minutes: 255, Type: TypeEBU})
	assert.Equal(t, "23:55.00:00", text.String())
	assert.Len(t, text.String(), TextLength)
}

func TestFlag(t *testing.T) {
	f := NewFlag()
	assert.False(t, f.Take())

	f.Raise()
	f.Raise() // 2回目はブロックしない
	assert.True(t, f.Take())
	assert.False(t, f.Take())

	f.Raise()
	select {
	case <-f.C():
	default:
		t.Fatal("raised flag should be readable from C()")
	}
	assert.False(t, f.Take())
}

func TestDisabledOutputs(t *testing.T) {
	d := NewDisabledOutputs(OutputMidi | OutputNtp)
	assert.True(t, d.IsDisabled(OutputMidi))
	assert.False(t, d.IsDisabled(OutputArtNet))
	assert.Equal(t, []string{"ntp", "midi"}, d.Names())

	d.Enable(OutputMidi)
	d.Disable(OutputArtNet)
	assert.Equal(t, OutputNtp|OutputArtNet, d.Mask())

	o, err := ParseOutput("WebSocket")
	require.NoError(t, err)
	assert.Equal(t, OutputWebSocket, o)

	_, err = ParseOutput("dmx")
	assert.Error(t, err)
}
