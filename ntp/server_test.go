package ntp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/facebook/time/ntp/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltc-node/timecode"
)

func clientRequest(t *testing.T) []byte {
	t.Helper()
	req := &protocol.Packet{
		Settings:   4<<3 | modeClient,
		Poll:       6,
		TxTimeSec:  0x01020304,
		TxTimeFrac: 0x05060708,
	}
	data, err := req.Bytes()
	require.NoError(t, err)
	return data
}

func decodeResponse(t *testing.T, data []byte) *protocol.Packet {
	t.Helper()
	require.Len(t, data, protocol.PacketSizeBytes)
	p, err := protocol.BytesToPacket(data)
	require.NoError(t, err)
	return p
}

func newTestServer(conn Conn) (*Server, *time.Time) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewServer(conn, Date{Year: 2024, Month: time.March, Day: 15}, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestServer_Time(t *testing.T) {
	s, now := newTestServer(nil)

	_, ok := s.Time()
	assert.False(t, ok)

	tc := timecode.TimeCode{Hours: 10, Minutes: 20, Seconds: 30, Frames: 5, Type: timecode.TypeEBU}
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))

	got, ok := s.Time()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 20, 30, 200_000_000, time.UTC), got)

	*now = now.Add(15 * time.Millisecond)
	got, _ = s.Time()
	assert.Equal(t, time.Date(2024, 3, 15, 10, 20, 30, 215_000_000, time.UTC), got)
}

func TestServer_HandleRequest(t *testing.T) {
	s, _ := newTestServer(nil)
	tc := timecode.TimeCode{Hours: 1, Minutes: 2, Seconds: 3, Type: timecode.TypeSMPTE}
	require.NoError(t, s.TimeCodeChanged(tc, timecode.FormatText(tc)))

	data, err := s.HandleRequest(clientRequest(t))
	require.NoError(t, err)
	resp := decodeResponse(t, data)

	assert.Equal(t, uint8(leapNone<<6|4<<3|modeServer), resp.Settings)
	assert.Equal(t, uint8(stratumPrimary), resp.Stratum)
	assert.Equal(t, int8(6), resp.Poll)
	assert.Equal(t, precision, resp.Precision)
	assert.Equal(t, uint32('L')<<24|uint32('T')<<16|uint32('C')<<8, resp.ReferenceID)
	assert.Equal(t, uint32(0x01020304), resp.OrigTimeSec)
	assert.Equal(t, uint32(0x05060708), resp.OrigTimeFrac)

	want := time.Date(2024, 3, 15, 1, 2, 3, 0, time.UTC)
	assert.WithinDuration(t, want, protocol.Unix(resp.RefTimeSec, resp.RefTimeFrac), time.Microsecond)
	assert.WithinDuration(t, want, protocol.Unix(resp.RxTimeSec, resp.RxTimeFrac), time.Microsecond)
	assert.WithinDuration(t, want, protocol.Unix(resp.TxTimeSec, resp.TxTimeFrac), time.Microsecond)
}

func TestServer_HandleRequestUnsynchronized(t *testing.T) {
	s, _ := newTestServer(nil)
	data, err := s.HandleRequest(clientRequest(t))
	require.NoError(t, err)
	resp := decodeResponse(t, data)

	assert.Equal(t, uint8(leapAlarm), resp.Settings>>6)
	assert.Equal(t, uint8(stratumUnsynchronized), resp.Stratum)
	assert.Zero(t, resp.TxTimeSec)
	assert.Zero(t, resp.TxTimeFrac)
}

func TestServer_HandleRequestRejects(t *testing.T) {
	s, _ := newTestServer(nil)

	_, err := s.HandleRequest(make([]byte, protocol.PacketSizeBytes-1))
	assert.ErrorIs(t, err, ErrShortPacket)

	req := clientRequest(t)
	req[0] = 4<<3 | modeServer
	_, err = s.HandleRequest(req)
	assert.ErrorIs(t, err, ErrNotClient)
}

type fakeConn struct {
	requests chan []byte
	replies  chan []byte
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case req := <-c.requests:
		return req, &net.UDPAddr{IP: net.IPv4(192, 168, 0, 10), Port: 40000}, nil
	}
}

func (c *fakeConn) SendToAddr(_ *net.UDPAddr, data []byte) (int, error) {
	c.replies <- data
	return len(data), nil
}

func TestServer_Run(t *testing.T) {
	conn := &fakeConn{requests: make(chan []byte, 2), replies: make(chan []byte, 2)}
	s, _ := newTestServer(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	conn.requests <- []byte{0x00}
	conn.requests <- clientRequest(t)

	select {
	case resp := <-conn.replies:
		assert.Equal(t, uint8(modeServer), decodeResponse(t, resp).Settings&0x07)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	assert.NoError(t, <-done)
}
