// Package ntp は受信中のタイムコードを時刻源とする NTP サーバー
package ntp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/facebook/time/ntp/protocol"

	"ltc-node/timecode"
)

// Port は NTP の UDP ポート
const Port = 123

const (
	modeClient = 3
	modeServer = 4
	version    = 4

	leapNone  = 0
	leapAlarm = 3

	stratumPrimary        = 1
	stratumUnsynchronized = 16

	precision int8 = -20 // 2^-20 秒 (約 1µs)
)

// ReferenceID は "LTC\0"
var ReferenceID = [4]byte{'L', 'T', 'C', 0}

var (
	ErrShortPacket = errors.New("ntp: packet too short")
	ErrNotClient   = errors.New("ntp: not a client request")
)

// Date はタイムコードに組み合わせる日付
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Conn は Server が使う UDP ソケット（network.UDPConnection が満たす）
type Conn interface {
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
	SendToAddr(dst *net.UDPAddr, data []byte) (int, error)
}

type stamp struct {
	tc timecode.TimeCode
	at time.Time // 受信した時点のローカル時刻（経過時間の補間用）
}

// Server は TimeCodeChanged で受け取った値を時刻として NTP 要求に応答する
type Server struct {
	conn     Conn
	date     Date
	location *time.Location
	now      func() time.Time

	current atomic.Pointer[stamp]
}

// NewServer は Server を作成する。loc が nil なら UTC。
func NewServer(conn Conn, date Date, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		conn:     conn,
		date:     date,
		location: loc,
		now:      time.Now,
	}
}

// TimeCodeChanged は時刻源を更新する
func (s *Server) TimeCodeChanged(tc timecode.TimeCode, _ timecode.Text) error {
	s.current.Store(&stamp{tc: tc, at: s.now()})
	return nil
}

// TypeChanged は何もしない
func (s *Server) TypeChanged(timecode.TimeCode) error {
	return nil
}

// reference は最後に受け取ったタイムコードの時刻と、その受信時刻を返す
func (s *Server) reference() (time.Time, time.Time, bool) {
	st := s.current.Load()
	if st == nil {
		return time.Time{}, time.Time{}, false
	}
	tc := st.tc
	var frac time.Duration
	if fps := tc.Type.FPS(); fps > 0 {
		frac = time.Duration(tc.Frames) * time.Second / time.Duration(fps)
	}
	t := time.Date(s.date.Year, s.date.Month, s.date.Day,
		int(tc.Hours), int(tc.Minutes), int(tc.Seconds), 0, s.location).Add(frac)
	return t, st.at, true
}

// Time は現在時刻を返す。最後のタイムコードからの経過時間で補間する。
func (s *Server) Time() (time.Time, bool) {
	ref, at, ok := s.reference()
	if !ok {
		return time.Time{}, false
	}
	return ref.Add(s.now().Sub(at)), true
}

// HandleRequest は1つの要求パケットに対する応答を作る
func (s *Server) HandleRequest(req []byte) ([]byte, error) {
	if len(req) < protocol.PacketSizeBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(req))
	}
	request, err := protocol.BytesToPacket(req)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if mode := request.Settings & 0x07; mode != modeClient {
		return nil, fmt.Errorf("%w: mode %d", ErrNotClient, mode)
	}

	received, synced := s.Time()
	ref, _, _ := s.reference()

	leap, stratum := uint8(leapNone), uint8(stratumPrimary)
	if !synced {
		leap, stratum = leapAlarm, stratumUnsynchronized
	}
	vn := (request.Settings >> 3) & 0x07
	if vn == 0 || vn > version {
		vn = version
	}

	resp := &protocol.Packet{
		Settings:     leap<<6 | vn<<3 | modeServer,
		Stratum:      stratum,
		Poll:         request.Poll,
		Precision:    precision,
		ReferenceID:  binary.BigEndian.Uint32(ReferenceID[:]),
		OrigTimeSec:  request.TxTimeSec,
		OrigTimeFrac: request.TxTimeFrac,
	}
	if synced {
		resp.RefTimeSec, resp.RefTimeFrac = protocol.Time(ref)
		resp.RxTimeSec, resp.RxTimeFrac = protocol.Time(received)
		transmit, _ := s.Time()
		resp.TxTimeSec, resp.TxTimeFrac = protocol.Time(transmit)
	}
	return resp.Bytes()
}

// Run はコンテキストがキャンセルされるまで要求に応答する
func (s *Server) Run(ctx context.Context) error {
	slog.Info("NTP サーバーを開始しました", "date", fmt.Sprintf("%04d-%02d-%02d", s.date.Year, s.date.Month, s.date.Day))
	for {
		data, src, err := s.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("NTP 要求の受信に失敗", "err", err)
			continue
		}
		if data == nil {
			continue
		}
		resp, err := s.HandleRequest(data)
		if err != nil {
			slog.Debug("NTP 要求を破棄", "from", src, "err", err)
			continue
		}
		if _, err := s.conn.SendToAddr(src, resp); err != nil {
			slog.Warn("NTP 応答の送信に失敗", "to", src, "err", err)
		}
	}
}
